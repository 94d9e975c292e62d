// Package service holds the orchestration entry points used by the HTTP API
// and the operator CLI.
package service

import (
	"context"

	"retouch/internal/domain"
	"retouch/internal/queue"
)

// StatusCache is the polled edit snapshot store. cache.EditStatuses
// satisfies it.
type StatusCache interface {
	Get(ctx context.Context, editID string) (*domain.Edit, bool, error)
	Put(ctx context.Context, edit *domain.Edit) error
	Forget(ctx context.Context, editID string) error
}

// CandidateSource answers whether a tool has an active provider.
// *providers.Registry satisfies it.
type CandidateSource interface {
	SelectCandidates(ctx context.Context, tool domain.ToolID) ([]domain.ProviderConfig, error)
}

// Uploader persists original images. *storage.Materializer satisfies it.
type Uploader interface {
	Save(ctx context.Context, key string, data []byte) (storedKey, url string, err error)
}

// Canceller interrupts a job running in this process. *worker.Pool
// satisfies it.
type Canceller interface {
	Cancel(jobID string) bool
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string) error { return nil }

var _ queue.Notifier = noopNotifier{}
