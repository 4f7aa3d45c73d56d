// Package messaging provides abstractions for the brokers that carry CDC
// events and dead letters, so producers and consumers are not tied to one
// implementation.
package messaging

import (
	"context"
	"time"
)

// Message represents a message received from or sent to a message broker.
type Message struct {
	Subject  string
	Data     []byte
	Metadata map[string]string

	// Sequence is the broker-assigned position, when the broker has one.
	Sequence uint64

	Timestamp time.Time
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends data to subject and returns once the broker has accepted it.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Client is a Publisher that can report connectivity.
type Client interface {
	Publisher
	IsConnected() bool
}
