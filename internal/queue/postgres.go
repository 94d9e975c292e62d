package queue

import (
	"context"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"retouch/internal/infra"
	"retouch/internal/sqlinline"
)

// Postgres publishes with pg_notify and listens through a lib/pq listener,
// which reconnects on its own.
type Postgres struct {
	sql      infra.SQLExecutor
	listener *pq.Listener
	out      chan string
	done     chan struct{}
	once     sync.Once
	logger   zerolog.Logger
}

func NewPostgres(databaseURL string, sql infra.SQLExecutor, logger zerolog.Logger) (*Postgres, error) {
	q := &Postgres{
		sql:    sql,
		out:    make(chan string, 64),
		done:   make(chan struct{}),
		logger: logger,
	}
	if databaseURL == "" {
		// Publish-only: the API process never listens.
		return q, nil
	}
	q.listener = pq.NewListener(databaseURL, time.Second, time.Minute, q.onEvent)
	if err := q.listener.Listen(Channel); err != nil {
		_ = q.listener.Close()
		return nil, err
	}
	go q.forward()
	return q, nil
}

func (q *Postgres) Notify(ctx context.Context, jobID string) error {
	_, err := q.sql.Exec(ctx, sqlinline.QNotifyJobs, Channel, jobID)
	return err
}

func (q *Postgres) Wakeups() <-chan string { return q.out }

func (q *Postgres) Close() error {
	var err error
	q.once.Do(func() {
		close(q.done)
		if q.listener != nil {
			err = q.listener.Close()
		}
	})
	return err
}

func (q *Postgres) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		q.logger.Warn().Err(err).Msg("queue: postgres listener disconnected")
	case pq.ListenerEventReconnected:
		q.logger.Info().Msg("queue: postgres listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		q.logger.Warn().Err(err).Msg("queue: postgres listener reconnect failed")
	}
}

func (q *Postgres) forward() {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-q.done:
			return
		case n, ok := <-q.listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect; anything may have been
			// missed, so wake a worker without naming a job.
			id := ""
			if n != nil {
				id = n.Extra
			}
			select {
			case q.out <- id:
			default:
			}
		case <-ping.C:
			if err := q.listener.Ping(); err != nil {
				q.logger.Debug().Err(err).Msg("queue: postgres listener ping failed")
			}
		}
	}
}
