// Package queue carries "a job is ready" hints from the API to workers. The
// jobs table stays the source of truth: a lost hint only delays a claim until
// the next poll tick.
package queue

import (
	"context"
	"errors"
	"fmt"

	"retouch/internal/infra"
)

// Channel is the Postgres NOTIFY channel used for job wakeups.
const Channel = "retouch_jobs"

// Notifier announces that a job became claimable.
type Notifier interface {
	Notify(ctx context.Context, jobID string) error
}

// Queue delivers wakeups. A received value is a job id, or "" when the
// transport cannot say which job is waiting.
type Queue interface {
	Notifier
	Wakeups() <-chan string
	Close() error
}

// Options selects and configures a driver.
type Options struct {
	Driver      string
	DatabaseURL string
	SQL         infra.SQLExecutor
	AMQPURL     string
	AMQPQueue   string
	Logger      *infra.Logger
}

// Open builds the queue for opts.Driver.
func Open(ctx context.Context, opts Options) (Queue, error) {
	if opts.Logger == nil {
		opts.Logger = infra.DiscardLogger()
	}
	switch opts.Driver {
	case infra.QueueDriverPoll, "":
		return NewLocal(), nil
	case infra.QueueDriverPostgres:
		if opts.SQL == nil {
			return nil, errors.New("queue: postgres driver needs a database")
		}
		return NewPostgres(opts.DatabaseURL, opts.SQL, *opts.Logger)
	case infra.QueueDriverAMQP:
		return DialAMQP(ctx, opts.AMQPURL, opts.AMQPQueue, *opts.Logger)
	default:
		return nil, fmt.Errorf("queue: unsupported driver %q", opts.Driver)
	}
}

// Local wakes workers running in the same process. It is the poll driver:
// workers in other processes only see jobs on their poll tick.
type Local struct {
	ch chan string
}

func NewLocal() *Local {
	return &Local{ch: make(chan string, 64)}
}

// Notify never blocks; when the buffer is full the pending wakeups already
// cover the new job.
func (l *Local) Notify(_ context.Context, jobID string) error {
	select {
	case l.ch <- jobID:
	default:
	}
	return nil
}

func (l *Local) Wakeups() <-chan string { return l.ch }

func (l *Local) Close() error { return nil }
