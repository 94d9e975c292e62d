package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"retouch/internal/infra"
	"retouch/internal/sqlinline"
)

// Reference prefixes accepted in a provider config's credential_ref.
const (
	RefEnv   = "env:"
	RefToken = "token:"
)

// ErrMissing is returned when a reference resolves to an empty secret.
var ErrMissing = errors.New("credentials: secret not configured")

// Store keeps provider tokens in integration_tokens and resolves credential
// references for provider adapters.
type Store struct {
	sql      infra.SQLExecutor
	defaults map[string]string
	lookup   func(string) string
}

// NewStore builds a store. defaults maps a provider type to the secret used
// when a config carries no credential_ref.
func NewStore(sql infra.SQLExecutor, defaults map[string]string) *Store {
	return &Store{sql: sql, defaults: defaults, lookup: os.Getenv}
}

// Token returns the stored token for name, or "" when none exists.
func (s *Store) Token(ctx context.Context, name string) (string, error) {
	if s.sql == nil {
		return "", nil
	}
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, name)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores or replaces the token for name.
func (s *Store) SetToken(ctx context.Context, name, token string) error {
	name = strings.TrimSpace(name)
	token = strings.TrimSpace(token)
	if name == "" {
		return errors.New("token name is required")
	}
	if token == "" {
		return errors.New("token value is required")
	}
	return s.upsert(ctx, name, token, nil)
}

// Resolve turns a credential reference into a secret.
//
//	env:NAME    reads the environment variable NAME
//	token:NAME  reads integration_tokens
//	""          falls back to the provider type's default secret
func (s *Store) Resolve(ctx context.Context, ref, providerType string) (string, error) {
	ref = strings.TrimSpace(ref)
	var (
		secret string
		err    error
	)
	switch {
	case ref == "":
		secret = strings.TrimSpace(s.defaults[providerType])
	case strings.HasPrefix(ref, RefEnv):
		secret = strings.TrimSpace(s.lookup(strings.TrimPrefix(ref, RefEnv)))
	case strings.HasPrefix(ref, RefToken):
		secret, err = s.Token(ctx, strings.TrimPrefix(ref, RefToken))
		if err != nil {
			return "", fmt.Errorf("credentials: load %s: %w", ref, err)
		}
	default:
		return "", fmt.Errorf("credentials: unsupported reference %q", ref)
	}
	if secret == "" {
		return "", fmt.Errorf("%w (%s)", ErrMissing, describe(ref, providerType))
	}
	return secret, nil
}

func describe(ref, providerType string) string {
	if ref == "" {
		return "default for " + providerType
	}
	return ref
}

func (s *Store) upsert(ctx context.Context, name, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, name, token, raw)
	return err
}
