package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"retouch/internal/bootstrap"
	httpapi "retouch/internal/http"
	"retouch/internal/http/handlers"
	"retouch/internal/infra"
	"retouch/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := infra.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
		logger.Info().Str("dir", cfg.MigrationsDir).Msg("migrations applied")
	}

	c, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize dependencies")
	}
	defer c.Close()

	// The embedded worker lets operator cancels interrupt running jobs
	// directly; standalone workers notice at the next stage checkpoint.
	var canceller service.Canceller
	workerDone := make(chan struct{})
	if cfg.WorkerEmbedded {
		pool, err := c.Worker()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build worker pool")
		}
		canceller = pool
		go func() {
			defer close(workerDone)
			if err := pool.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("worker pool stopped")
			}
		}()
		logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("embedded worker started")
	} else {
		close(workerDone)
	}

	edits, err := c.EditService()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build edit service")
	}
	admin, err := c.AdminService(canceller)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build admin service")
	}

	app := &handlers.App{Edits: edits, Admin: admin, Checks: c.HealthChecks()}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		AdminTokenHash: cfg.AdminTokenHash,
		DefaultLocale:  cfg.DefaultLocale,
		CORSOrigins:    cfg.CORSOrigins,
		StaticDir:      cfg.StoragePath,
		RateLimit:      cfg.RateLimitPerMin,
		RateCounter:    c.Cache,
		CountryLookup:  c.Country,
		Logger:         infra.Component(logger, "http"),
	})
	server := infra.NewHTTPServer(cfg, router, logger)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	<-workerDone
	logger.Info().Msg("server stopped")
}
