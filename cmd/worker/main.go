package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"retouch/internal/bootstrap"
	"retouch/internal/infra"
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

	c, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize dependencies")
	}
	defer c.Close()

	pool, err := c.Worker()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build worker pool")
	}
	logger.Info().
		Int("concurrency", cfg.WorkerConcurrency).
		Str("queue", cfg.QueueDriver).
		Msg("worker started")
	if err := pool.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker pool stopped")
	}
	logger.Info().Msg("worker stopped")
}
