package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"retouch/internal/domain"
	"retouch/internal/infra"
)

// Dispatcher tries a tool's candidates in order until one succeeds.
type Dispatcher struct {
	registry *Registry
	limits   map[string]*semaphore.Weighted
	logger   *infra.Logger
}

// NewDispatcher builds a dispatcher. concurrency caps in-flight calls per
// provider type; types without an entry are unbounded.
func NewDispatcher(registry *Registry, concurrency map[string]int, logger *infra.Logger) *Dispatcher {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	limits := make(map[string]*semaphore.Weighted, len(concurrency))
	for typ, n := range concurrency {
		if n > 0 {
			limits[typ] = semaphore.NewWeighted(int64(n))
		}
	}
	return &Dispatcher{registry: registry, limits: limits, logger: logger}
}

// Dispatch runs req against the candidates for req.Tool. It fails fast with a
// ConfigurationError when no candidate exists and returns an
// AggregateProviderError once every candidate failed.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	candidates, err := d.registry.SelectCandidates(ctx, req.Tool)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, cfg := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		adapter, ok := d.registry.Adapter(cfg.ProviderType)
		if !ok {
			lastErr = &domain.ProviderError{
				ProviderID:   cfg.ID,
				ProviderType: cfg.ProviderType,
				Err:          fmt.Errorf("unknown provider type %q", cfg.ProviderType),
			}
			d.logger.Warn().Str("tool", string(req.Tool)).Str("provider_id", cfg.ID).
				Str("provider_type", cfg.ProviderType).Msg("providers: skipping unknown provider type")
			continue
		}

		start := time.Now()
		res, err := d.call(ctx, adapter, req, cfg)
		elapsed := time.Since(start)
		if err == nil {
			res.ProviderID = cfg.ID
			if res.Elapsed == 0 {
				res.Elapsed = elapsed
			}
			d.logger.Info().Str("tool", string(req.Tool)).Str("provider_id", cfg.ID).
				Str("provider_type", cfg.ProviderType).Int("attempt", i+1).
				Dur("elapsed", elapsed).Msg("providers: attempt succeeded")
			return res, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrCancelled) {
			return nil, err
		}
		lastErr = err
		d.logger.Warn().Err(err).Str("tool", string(req.Tool)).Str("provider_id", cfg.ID).
			Str("provider_type", cfg.ProviderType).Int("attempt", i+1).
			Dur("elapsed", elapsed).Msg("providers: attempt failed")
	}
	return nil, &domain.AggregateProviderError{Tool: req.Tool, Attempts: len(candidates), Last: lastErr}
}

func (d *Dispatcher) call(ctx context.Context, adapter Adapter, req Request, cfg domain.ProviderConfig) (*Result, error) {
	if sem, ok := d.limits[cfg.ProviderType]; ok {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer sem.Release(1)
	}
	res, err := adapter.Process(ctx, req, cfg)
	if err != nil {
		var pe *domain.ProviderError
		if !errors.As(err, &pe) {
			err = &domain.ProviderError{ProviderID: cfg.ID, ProviderType: cfg.ProviderType, Err: err}
		}
		return nil, err
	}
	if res == nil {
		return nil, &domain.ProviderError{ProviderID: cfg.ID, ProviderType: cfg.ProviderType, Err: domain.ErrNoResult}
	}
	return res, nil
}
