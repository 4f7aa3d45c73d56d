package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/leadpulse/leadpulse/cdc/internal/metrics"
	"github.com/leadpulse/leadpulse/cdc/internal/models"
	"github.com/leadpulse/leadpulse/common/messaging"
	"github.com/leadpulse/leadpulse/common/messaging/nats"
)

// JetStreamQueue publishes dead letters to the CDC_DLQ stream so every
// consumer instance shares one queue.
type JetStreamQueue struct {
	js      *nats.JetStreamClient
	stream  jetstream.Stream
	written uint64
	logger  *slog.Logger
}

// NewJetStreamQueue ensures the DLQ stream exists.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *slog.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, errors.New("jetstream client is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "dlq"))

	stream, err := js.CreateOrUpdateStream(ctx, nats.CDCDLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}
	logger.Info("DLQ stream ready", slog.String("stream", nats.CDCDLQStream.Name))

	return &JetStreamQueue{js: js, stream: stream, logger: logger}, nil
}

// Write publishes a dead letter on cdc.dlq.<reason> and waits for the ack.
func (q *JetStreamQueue) Write(ctx context.Context, env *models.Envelope, err error, reason string) error {
	if q == nil {
		return nil
	}

	data, marshalErr := json.Marshal(newFailedEvent(env, err, reason))
	if marshalErr != nil {
		metrics.DLQWrites.WithLabelValues(reason, "error").Inc()
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	if _, pubErr := q.js.PublishSync(ctx, messaging.DLQSubject(reason), data); pubErr != nil {
		metrics.DLQWrites.WithLabelValues(reason, "error").Inc()
		return fmt.Errorf("publish dlq entry: %w", pubErr)
	}

	atomic.AddUint64(&q.written, 1)
	metrics.DLQWrites.WithLabelValues(reason, "ok").Inc()
	q.logger.WarnContext(ctx, "Dead-lettered envelope", slog.String("reason", reason))
	return nil
}

// Stats reports stream state.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]any {
	if q == nil {
		return map[string]any{"enabled": false, "backend": "jetstream"}
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		return map[string]any{
			"enabled":       true,
			"backend":       "jetstream",
			"written_local": atomic.LoadUint64(&q.written),
			"error":         err.Error(),
		}
	}
	return map[string]any{
		"enabled":        true,
		"backend":        "jetstream",
		"written_local":  atomic.LoadUint64(&q.written),
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
	}
}

// List reads up to limit dead letters from the start of the stream.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, errNotEnabled
	}
	if limit <= 0 {
		limit = 100
	}

	cons, err := q.js.OrderedConsumer(ctx, nats.CDCDLQStream.Name, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messaging.SubjectDLQPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := cons.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch dlq messages: %w", err)
	}

	var events []FailedEvent
	for msg := range msgs.Messages() {
		var failed FailedEvent
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			q.logger.Warn("Failed to parse DLQ message", slog.String("error", err.Error()))
			continue
		}
		events = append(events, failed)
	}
	if err := msgs.Error(); err != nil {
		q.logger.Warn("DLQ fetch completed with error", slog.String("error", err.Error()))
	}
	return events, nil
}

// Purge removes every message from the DLQ stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if q == nil {
		return errNotEnabled
	}
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.InfoContext(ctx, "Purged DLQ stream")
	return nil
}
