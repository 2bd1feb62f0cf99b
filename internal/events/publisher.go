// Package events publishes run lifecycle events (RunSucceeded, RunFailed)
// to Kafka. It completes the stub left behind in
// Dhi13man-event-trigger-platform's platform/events/publisher.go, wiring
// segmentio/kafka-go in for real: that repo's go.mod already carried the
// dependency but never imported it anywhere.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cronback-oss/cronback/internal/domain"
)

// EventKind discriminates the lifecycle events the dispatcher emits
// (spec.md §4.6).
type EventKind string

const (
	RunSucceeded EventKind = "run_succeeded"
	RunFailed    EventKind = "run_failed"
)

// RunEvent is the wire shape published to the run-lifecycle topic.
type RunEvent struct {
	Kind        EventKind       `json:"kind"`
	RunID       string          `json:"run_id"`
	TriggerID   string          `json:"trigger_id"`
	Owner       string          `json:"owner"`
	Status      domain.RunStatus `json:"status"`
	AttemptNum  int             `json:"attempt_num"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Publisher emits RunEvents to Kafka. Publish failures are logged, not
// fatal: a dropped lifecycle event must never block or fail a dispatch
// attempt that otherwise succeeded (spec.md §4.6 "event emission is best
// effort").
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// Config configures the underlying Kafka writer.
type Config struct {
	Brokers []string
	Topic   string
}

// New builds a Publisher. A nil/empty brokers list produces a no-op
// publisher so local development and tests don't require a Kafka cluster.
func New(cfg Config, logger *slog.Logger) *Publisher {
	if len(cfg.Brokers) == 0 {
		return &Publisher{logger: logger.With("component", "events_publisher")}
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		logger: logger.With("component", "events_publisher"),
	}
}

// Publish emits evt. It partitions on trigger ID so every event for a given
// trigger lands on the same partition and consumers observe them in order.
func (p *Publisher) Publish(ctx context.Context, evt RunEvent) {
	if p.writer == nil {
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal run event", "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(evt.TriggerID),
		Value: payload,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "publish run event", "kind", evt.Kind, "run_id", evt.RunID, "error", err)
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
