package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"retouch/internal/domain"
	"retouch/internal/infra"
)

const defaultProviderTimeout = 300 * time.Second

// Registry owns provider configs and the adapters that serve them.
type Registry struct {
	configs  domain.ProviderConfigRepository
	adapters map[string]Adapter
	logger   *infra.Logger
	now      func() time.Time
}

// NewRegistry wires the config store with the available adapters.
func NewRegistry(configs domain.ProviderConfigRepository, logger *infra.Logger, adapters ...Adapter) *Registry {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	byType := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		byType[a.Type()] = a
	}
	return &Registry{configs: configs, adapters: byType, logger: logger, now: time.Now}
}

// Adapter returns the adapter registered for a provider type.
func (r *Registry) Adapter(providerType string) (Adapter, bool) {
	a, ok := r.adapters[providerType]
	return a, ok
}

// SelectCandidates returns active configs for tool, defaults first, then by
// ascending priority. Ties keep insertion order.
func (r *Registry) SelectCandidates(ctx context.Context, tool domain.ToolID) ([]domain.ProviderConfig, error) {
	all, err := r.configs.ListByTool(ctx, tool)
	if err != nil {
		return nil, fmt.Errorf("list providers for %s: %w", tool, err)
	}
	candidates := make([]domain.ProviderConfig, 0, len(all))
	for _, cfg := range all {
		if cfg.IsActive {
			candidates = append(candidates, cfg)
		}
	}
	if len(candidates) == 0 {
		return nil, &domain.ConfigurationError{Tool: tool}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].IsDefault != candidates[j].IsDefault {
			return candidates[i].IsDefault
		}
		return candidates[i].Priority < candidates[j].Priority
	})
	return candidates, nil
}

// CheckHealth probes one config and stores the outcome.
func (r *Registry) CheckHealth(ctx context.Context, id string) (bool, error) {
	cfg, err := r.configs.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return r.probe(ctx, *cfg)
}

// HealthReport is one row of CheckAll.
type HealthReport struct {
	ID           string
	ToolID       domain.ToolID
	ProviderType string
	Healthy      bool
}

// CheckAll probes every config sequentially.
func (r *Registry) CheckAll(ctx context.Context) ([]HealthReport, error) {
	all, err := r.configs.List(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]HealthReport, 0, len(all))
	for _, cfg := range all {
		healthy, err := r.probe(ctx, cfg)
		if err != nil {
			return reports, err
		}
		reports = append(reports, HealthReport{ID: cfg.ID, ToolID: cfg.ToolID, ProviderType: cfg.ProviderType, Healthy: healthy})
	}
	return reports, nil
}

func (r *Registry) probe(ctx context.Context, cfg domain.ProviderConfig) (bool, error) {
	healthy := false
	if adapter, ok := r.adapters[cfg.ProviderType]; ok {
		healthy = adapter.CheckHealth(ctx, cfg)
	}
	status := domain.HealthUnhealthy
	if healthy {
		status = domain.HealthHealthy
	}
	if err := r.configs.UpdateHealth(ctx, cfg.ID, status, r.now().UTC()); err != nil {
		return healthy, fmt.Errorf("store health for %s: %w", cfg.ID, err)
	}
	r.logger.Info().
		Str("provider_id", cfg.ID).
		Str("provider_type", cfg.ProviderType).
		Bool("healthy", healthy).
		Msg("providers: health checked")
	return healthy, nil
}

// List returns all configs, or only those for tool when it is set.
func (r *Registry) List(ctx context.Context, tool domain.ToolID) ([]domain.ProviderConfig, error) {
	if tool != "" {
		return r.configs.ListByTool(ctx, tool)
	}
	return r.configs.List(ctx)
}

func (r *Registry) Get(ctx context.Context, id string) (*domain.ProviderConfig, error) {
	return r.configs.Get(ctx, id)
}

// Create validates and stores a new config.
func (r *Registry) Create(ctx context.Context, cfg *domain.ProviderConfig) error {
	if err := r.normalize(cfg); err != nil {
		return err
	}
	return r.configs.Create(ctx, cfg)
}

// Update validates and replaces an existing config.
func (r *Registry) Update(ctx context.Context, cfg *domain.ProviderConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return domain.NewValidationError(cfg.ToolID, "id", "is required")
	}
	if err := r.normalize(cfg); err != nil {
		return err
	}
	return r.configs.Update(ctx, cfg)
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.configs.Delete(ctx, id)
}

func (r *Registry) normalize(cfg *domain.ProviderConfig) error {
	cfg.ToolID = domain.ToolID(strings.TrimSpace(string(cfg.ToolID)))
	cfg.ProviderType = strings.ToLower(strings.TrimSpace(cfg.ProviderType))
	if cfg.ToolID == "" {
		return domain.NewValidationError(cfg.ToolID, "toolId", "is required")
	}
	adapter, ok := r.adapters[cfg.ProviderType]
	if !ok {
		return domain.NewValidationError(cfg.ToolID, "providerType", fmt.Sprintf("unknown provider type %q", cfg.ProviderType))
	}
	if !supports(adapter, cfg.ToolID) {
		return domain.NewValidationError(cfg.ToolID, "toolId", fmt.Sprintf("%s does not support this tool", cfg.ProviderType))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProviderTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	return nil
}

func supports(a Adapter, tool domain.ToolID) bool {
	for _, t := range a.Capabilities() {
		if t == tool {
			return true
		}
	}
	return false
}
