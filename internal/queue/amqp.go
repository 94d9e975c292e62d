package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQP publishes job ids to a durable RabbitMQ queue and consumes them as
// wakeups. Deliveries are acked on receipt since the jobs table, not the
// broker, tracks whether the work happened.
type AMQP struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	out     chan string
	mu      sync.Mutex
	started bool
	logger  zerolog.Logger
}

type wakeMessage struct {
	JobID string `json:"job_id"`
}

func DialAMQP(ctx context.Context, url, queueName string, logger zerolog.Logger) (*AMQP, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: 10 * time.Second, Locale: "en_US"})
	if err != nil {
		return nil, fmt.Errorf("queue: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue: declare %s: %w", queueName, err)
	}
	logger.Info().Str("queue", queueName).Msg("queue: amqp connected")
	return &AMQP{conn: conn, channel: ch, queue: queueName, out: make(chan string, 64), logger: logger}, nil
}

func (q *AMQP) Notify(ctx context.Context, jobID string) error {
	body, err := json.Marshal(wakeMessage{JobID: jobID})
	if err != nil {
		return err
	}
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

// Wakeups starts the consumer on first use. Publishing processes never call
// it, so they never take messages off the queue.
func (q *AMQP) Wakeups() <-chan string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return q.out
	}
	q.started = true
	deliveries, err := q.channel.Consume(q.queue, "", true, false, false, false, nil)
	if err != nil {
		q.logger.Error().Err(err).Msg("queue: amqp consume failed, relying on polling")
		return q.out
	}
	go func() {
		for d := range deliveries {
			id, ok := decodeWake(d.Body)
			if !ok {
				q.logger.Warn().Int("body_size", len(d.Body)).Msg("queue: dropping malformed wakeup")
				continue
			}
			select {
			case q.out <- id:
			default:
			}
		}
		q.logger.Warn().Msg("queue: amqp delivery channel closed")
	}()
	return q.out
}

func (q *AMQP) Close() error {
	if err := q.channel.Close(); err != nil {
		q.logger.Warn().Err(err).Msg("queue: close amqp channel")
	}
	return q.conn.Close()
}

func decodeWake(body []byte) (string, bool) {
	var msg wakeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", false
	}
	return msg.JobID, true
}
