package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"retouch/internal/domain"
	"retouch/internal/infra"
	"retouch/internal/sqlinline"
)

// ProviderConfigRepositoryPG stores provider configs. Lists come back in
// insertion order so equal-priority configs keep a stable ranking.
type ProviderConfigRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewProviderConfigRepository(sql infra.SQLExecutor) *ProviderConfigRepositoryPG {
	return &ProviderConfigRepositoryPG{sql: sql}
}

func (r *ProviderConfigRepositoryPG) ListByTool(ctx context.Context, tool domain.ToolID) ([]domain.ProviderConfig, error) {
	return r.list(ctx, sqlinline.QListProviderConfigsByTool, string(tool))
}

func (r *ProviderConfigRepositoryPG) List(ctx context.Context) ([]domain.ProviderConfig, error) {
	return r.list(ctx, sqlinline.QListProviderConfigs)
}

func (r *ProviderConfigRepositoryPG) Get(ctx context.Context, id string) (*domain.ProviderConfig, error) {
	cfg, err := scanProviderConfig(r.sql.QueryRow(ctx, sqlinline.QSelectProviderConfig, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return cfg, nil
}

func (r *ProviderConfigRepositoryPG) Create(ctx context.Context, cfg *domain.ProviderConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	args, err := providerArgs(cfg)
	if err != nil {
		return err
	}
	var health string
	if err := r.sql.QueryRow(ctx, sqlinline.QInsertProviderConfig, args...).Scan(&health, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return err
	}
	cfg.HealthStatus = domain.HealthStatus(health)
	return nil
}

func (r *ProviderConfigRepositoryPG) Update(ctx context.Context, cfg *domain.ProviderConfig) error {
	args, err := providerArgs(cfg)
	if err != nil {
		return err
	}
	if err := r.sql.QueryRow(ctx, sqlinline.QUpdateProviderConfig, args...).Scan(&cfg.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return err
	}
	return nil
}

func (r *ProviderConfigRepositoryPG) Delete(ctx context.Context, id string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteProviderConfig, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ProviderConfigRepositoryPG) UpdateHealth(ctx context.Context, id string, status domain.HealthStatus, at time.Time) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateProviderHealth, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ProviderConfigRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.ProviderConfig, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ProviderConfig
	for rows.Next() {
		cfg, err := scanProviderConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func providerArgs(cfg *domain.ProviderConfig) ([]any, error) {
	keys, err := json.Marshal(cfg.PayloadKeys)
	if err != nil {
		return nil, fmt.Errorf("encode payload keys: %w", err)
	}
	params := cfg.Params
	if params == nil {
		params = map[string]any{}
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return []any{
		cfg.ID,
		string(cfg.ToolID),
		cfg.ProviderType,
		cfg.Endpoint,
		cfg.CredentialRef,
		cfg.Model,
		cfg.Priority,
		cfg.IsDefault,
		cfg.IsActive,
		int(cfg.Timeout / time.Second),
		cfg.RetryCount,
		keys,
		rawParams,
		cfg.UseBase64,
	}, nil
}

func scanProviderConfig(row rowScanner) (*domain.ProviderConfig, error) {
	var (
		cfg            domain.ProviderConfig
		tool, health   string
		timeoutSeconds int
		keys, params   []byte
	)
	if err := row.Scan(
		&cfg.ID,
		&tool,
		&cfg.ProviderType,
		&cfg.Endpoint,
		&cfg.CredentialRef,
		&cfg.Model,
		&cfg.Priority,
		&cfg.IsDefault,
		&cfg.IsActive,
		&timeoutSeconds,
		&cfg.RetryCount,
		&keys,
		&params,
		&cfg.UseBase64,
		&health,
		&cfg.LastHealthCheck,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	cfg.ToolID = domain.ToolID(tool)
	cfg.HealthStatus = domain.HealthStatus(health)
	cfg.Timeout = time.Duration(timeoutSeconds) * time.Second
	if len(keys) > 0 {
		if err := json.Unmarshal(keys, &cfg.PayloadKeys); err != nil {
			return nil, fmt.Errorf("decode payload keys for %s: %w", cfg.ID, err)
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &cfg.Params); err != nil {
			return nil, fmt.Errorf("decode params for %s: %w", cfg.ID, err)
		}
	}
	return &cfg, nil
}

var _ domain.ProviderConfigRepository = (*ProviderConfigRepositoryPG)(nil)
