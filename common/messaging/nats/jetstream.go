package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/leadpulse/leadpulse/common/messaging"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamClient extends Client with JetStream persistence capabilities.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{
		Client: client,
		js:     js,
	}, nil
}

// JetStream exposes the JetStream context for consumers that need the full API.
func (c *JetStreamClient) JetStream() jetstream.JetStream {
	return c.js
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// OrderedConsumer creates an ephemeral ordered consumer on stream.
func (c *JetStreamClient) OrderedConsumer(ctx context.Context, stream string, cfg jetstream.OrderedConsumerConfig) (jetstream.Consumer, error) {
	cons, err := c.js.OrderedConsumer(ctx, stream, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ordered consumer on %s: %w", stream, err)
	}
	return cons, nil
}

// Publish publishes to JetStream and waits for the stream to acknowledge,
// so CDC producers know the event is durable.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.PublishSync(ctx, subject, data)
	return err
}

// PublishSync publishes a message and returns the stream acknowledgment.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	return c.js.Publish(ctx, subject, data)
}

// Predefined stream configurations.
var (
	// CDCEventsStream retains CDC events by limits so consumers can resume
	// from any sequence still inside the retention window.
	CDCEventsStream = StreamConfig{
		Name:      messaging.StreamCDCEvents,
		Subjects:  []string{messaging.SubjectPrefix + ".data.>"},
		MaxAge:    72 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024,
		MaxMsgs:   5_000_000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}

	// CDCDLQStream captures envelopes whose handlers failed.
	CDCDLQStream = StreamConfig{
		Name:      messaging.StreamCDCDLQ,
		Subjects:  []string{messaging.SubjectDLQPrefix + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  100 * 1024 * 1024,
		MaxMsgs:   100_000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)
