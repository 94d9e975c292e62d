// Package bootstrap wires the process-wide dependencies shared by the API,
// the worker and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"retouch/internal/adapter/repo"
	"retouch/internal/cache"
	"retouch/internal/domain"
	"retouch/internal/http/handlers"
	"retouch/internal/infra"
	"retouch/internal/infra/credentials"
	"retouch/internal/infra/geoip"
	"retouch/internal/middleware"
	"retouch/internal/pipeline"
	"retouch/internal/providers"
	"retouch/internal/providers/local"
	"retouch/internal/providers/prompt"
	"retouch/internal/providers/replicate"
	"retouch/internal/providers/runpod"
	"retouch/internal/queue"
	"retouch/internal/service"
	"retouch/internal/storage"
	"retouch/internal/worker"
)

// Container holds the shared dependencies of one process.
type Container struct {
	Config *infra.Config
	Logger zerolog.Logger

	DB  *pgxpool.Pool
	SQL *infra.SQLRunner

	Users     *repo.UserRepositoryPG
	Images    *repo.ImageRepositoryPG
	Edits     *repo.EditRepositoryPG
	Jobs      *repo.JobRepositoryPG
	Providers *repo.ProviderConfigRepositoryPG
	Ledger    *repo.CreditLedgerPG
	Submitter *repo.EditSubmitterPG
	Audit     *repo.AuditRepositoryPG

	Cache       cache.Cache
	Statuses    *cache.EditStatuses
	Queue       queue.Queue
	Credentials *credentials.Store
	Registry    *providers.Registry
	Store       *storage.Materializer
	Runner      *pipeline.Runner
	Settler     *worker.Settler
	Country     middleware.CountryLookup

	closers []func() error
}

// Open connects the database and builds every shared component. The caller
// must Close the container.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (_ *Container, err error) {
	c := &Container{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.DB, err = infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() error { c.DB.Close(); return nil })
	c.SQL = infra.NewSQLRunner(c.DB, infra.Component(logger, "sql"))

	c.Users = repo.NewUserRepository(c.SQL)
	c.Images = repo.NewImageRepository(c.SQL)
	c.Edits = repo.NewEditRepository(c.SQL)
	c.Jobs = repo.NewJobRepository(c.SQL)
	c.Providers = repo.NewProviderConfigRepository(c.SQL)
	c.Ledger = repo.NewCreditLedger(c.SQL)
	c.Submitter = repo.NewEditSubmitter(c.SQL)
	c.Audit = repo.NewAuditRepository(c.SQL)

	if err := c.openCache(); err != nil {
		return nil, err
	}
	c.Statuses = cache.NewEditStatuses(c.Cache, cfg.StatusCacheTTL)

	queueLogger := infra.Component(logger, "queue")
	c.Queue, err = queue.Open(ctx, queue.Options{
		Driver:      cfg.QueueDriver,
		DatabaseURL: cfg.DatabaseURL,
		SQL:         c.SQL,
		AMQPURL:     cfg.AMQPURL,
		AMQPQueue:   cfg.AMQPQueue,
		Logger:      &queueLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	c.closers = append(c.closers, c.Queue.Close)

	if err := c.openProviders(); err != nil {
		return nil, err
	}

	settlerLogger := infra.Component(logger, "worker")
	c.Settler = &worker.Settler{
		Jobs:   c.Jobs,
		Edits:  c.Edits,
		Ledger: c.Ledger,
		Cache:  c.Statuses,
		Policy: domain.ParseRefundPolicy(cfg.RefundPolicy),
		Logger: &settlerLogger,
	}

	resolver, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: geoip disabled")
	} else if resolver != nil {
		c.Country = resolver.Lookup()
		c.closers = append(c.closers, resolver.Close)
	}
	return c, nil
}

func (c *Container) openCache() error {
	if c.Config.RedisURL == "" {
		c.Logger.Info().Msg("bootstrap: REDIS_URL unset, using in-process cache")
		c.Cache = cache.NewMemoryCache()
		return nil
	}
	rc, err := cache.NewRedisCache(c.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("open redis: %w", err)
	}
	c.Cache = rc
	c.closers = append(c.closers, rc.Close)
	return nil
}

func (c *Container) openProviders() error {
	cfg := c.Config
	storeLogger := infra.Component(c.Logger, "storage")
	files, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		return err
	}
	var fetchClient *http.Client
	if cfg.FetchAllowPrivate {
		fetchClient = &http.Client{Timeout: 60 * time.Second}
	}
	c.Store = storage.NewMaterializer(files, fetchClient, &storeLogger)

	c.Credentials = credentials.NewStore(c.SQL, map[string]string{
		domain.ProviderTypeRunPod:    cfg.RunPodAPIKey,
		domain.ProviderTypeReplicate: cfg.ReplicateAPIToken,
	})

	providerLogger := infra.Component(c.Logger, "providers")
	rp, err := runpod.NewAdapter(runpod.Options{
		BaseURL:     cfg.RunPodBaseURL,
		Credentials: c.Credentials,
		Fetcher:     c.Store,
		Logger:      &providerLogger,
	})
	if err != nil {
		return err
	}
	rep, err := replicate.NewAdapter(replicate.Options{
		BaseURL:     cfg.ReplicateBaseURL,
		Credentials: c.Credentials,
		Fetcher:     c.Store,
		Logger:      &providerLogger,
	})
	if err != nil {
		return err
	}
	loc, err := local.NewAdapter(c.Store)
	if err != nil {
		return err
	}
	c.Registry = providers.NewRegistry(c.Providers, &providerLogger, rp, rep, loc)

	pipelineLogger := infra.Component(c.Logger, "pipeline")
	mark := ""
	if cfg.FreePlanWatermark {
		mark = cfg.WatermarkText
	}
	c.Runner, err = pipeline.NewRunner(pipeline.Options{
		Dispatcher:   providers.NewDispatcher(c.Registry, cfg.ProviderConcurrency, &providerLogger),
		Local:        loc,
		Store:        c.Store,
		Jobs:         c.Jobs,
		Translator:   c.translator(),
		FreePlanMark: mark,
		Logger:       &pipelineLogger,
	})
	return err
}

// translator chains the configured LLM translators, OpenAI first.
func (c *Container) translator() prompt.Translator {
	cfg := c.Config
	l := infra.Component(c.Logger, "prompt")
	onFallback := func(reason string, err error) {
		l.Debug().Err(err).Str("reason", reason).Msg("prompt: translation fell back to input")
	}
	var chain prompt.Chain
	if cfg.OpenAIAPIKey != "" {
		t, err := prompt.NewOpenAITranslator(prompt.OpenAIOptions{
			APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL, OnFallback: onFallback,
		})
		if err != nil {
			l.Warn().Err(err).Msg("prompt: openai translator disabled")
		} else {
			chain = append(chain, t)
		}
	}
	if cfg.GeminiAPIKey != "" {
		t, err := prompt.NewGeminiTranslator(prompt.GeminiOptions{
			APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel, BaseURL: cfg.GeminiBaseURL, OnFallback: onFallback,
		})
		if err != nil {
			l.Warn().Err(err).Msg("prompt: gemini translator disabled")
		} else {
			chain = append(chain, t)
		}
	}
	if len(chain) == 0 {
		return prompt.Passthrough{}
	}
	return chain
}

// Worker builds a pool fed by the queue's wakeups.
func (c *Container) Worker() (*worker.Pool, error) {
	l := infra.Component(c.Logger, "worker")
	return worker.NewPool(worker.Options{
		Jobs:         c.Jobs,
		Runner:       c.Runner,
		Settler:      c.Settler,
		Wakeups:      c.Queue.Wakeups(),
		Concurrency:  c.Config.WorkerConcurrency,
		PollInterval: c.Config.WorkerPollInterval,
		Heartbeat:    c.Config.WorkerHeartbeat,
		OrphanAfter:  c.Config.WorkerOrphanAfter,
		Logger:       &l,
	})
}

func (c *Container) EditService() (*service.EditService, error) {
	l := infra.Component(c.Logger, "service")
	return service.NewEditService(service.EditOptions{
		Users:      c.Users,
		Images:     c.Images,
		Edits:      c.Edits,
		Ledger:     c.Ledger,
		Submitter:  c.Submitter,
		Candidates: c.Registry,
		Uploads:    c.Store,
		Notifier:   c.Queue,
		Cache:      c.Statuses,
		Logger:     &l,
	})
}

// AdminService builds the operator service. canceller may be nil when no
// worker runs in this process.
func (c *Container) AdminService(canceller service.Canceller) (*service.AdminService, error) {
	l := infra.Component(c.Logger, "admin")
	return service.NewAdminService(service.AdminOptions{
		Providers: c.Registry,
		Jobs:      c.Jobs,
		Users:     c.Users,
		Ledger:    c.Ledger,
		Audit:     c.Audit,
		Settler:   c.Settler,
		Canceller: canceller,
		Notifier:  c.Queue,
		Logger:    &l,
	})
}

// HealthChecks lists the dependencies probed by /v1/healthz.
func (c *Container) HealthChecks() []handlers.HealthCheck {
	return []handlers.HealthCheck{
		{Name: "database", Ping: c.DB.Ping},
		{Name: "cache", Ping: c.Cache.Ping},
	}
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if err := errors.Join(errs...); err != nil {
		c.Logger.Warn().Err(err).Msg("bootstrap: close")
	}
}
