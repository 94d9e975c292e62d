package cache

import (
	"context"
	"encoding/json"
	"time"

	"retouch/internal/domain"
)

// DefaultStatusTTL bounds how long a polled edit snapshot is served without
// touching Postgres.
const DefaultStatusTTL = 30 * time.Minute

// EditStatuses caches the edit rows clients poll while a job runs.
type EditStatuses struct {
	cache Cache
	ttl   time.Duration
}

func NewEditStatuses(c Cache, ttl time.Duration) *EditStatuses {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &EditStatuses{cache: c, ttl: ttl}
}

// Get returns the cached edit, or ok=false on a miss.
func (s *EditStatuses) Get(ctx context.Context, editID string) (*domain.Edit, bool, error) {
	raw, ok, err := s.cache.Get(ctx, EditStatusKey(editID))
	if err != nil || !ok {
		return nil, false, err
	}
	var edit domain.Edit
	if err := json.Unmarshal(raw, &edit); err != nil {
		// A snapshot written by an older build is treated as a miss.
		_ = s.cache.Delete(ctx, EditStatusKey(editID))
		return nil, false, nil
	}
	return &edit, true, nil
}

func (s *EditStatuses) Put(ctx context.Context, edit *domain.Edit) error {
	raw, err := json.Marshal(edit)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, EditStatusKey(edit.ID), raw, s.ttl)
}

func (s *EditStatuses) Forget(ctx context.Context, editID string) error {
	return s.cache.Delete(ctx, EditStatusKey(editID))
}
