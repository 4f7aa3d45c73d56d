// Package source delivers CDC envelopes for one channel at a time, resuming
// after a stored token.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadpulse/leadpulse/cdc/internal/models"
)

// ErrEndOfStream is returned by Next once the upstream has closed.
var ErrEndOfStream = errors.New("end of stream")

// Source opens per-channel streams.
type Source interface {
	Name() string

	// Subscribe starts delivery strictly after fromToken. An empty token
	// starts from the newest event.
	Subscribe(ctx context.Context, channel, fromToken string) (Stream, error)
}

// Stream yields envelopes in channel order.
type Stream interface {
	Next(ctx context.Context) (*models.Envelope, error)
	Close() error
}

// DecodeError reports a delivered event that could not be parsed. The
// stream stays usable; Token lets the caller move past the bad event.
type DecodeError struct {
	Channel string
	Token   string
	Raw     []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode event on %s at %q: %v", e.Channel, e.Token, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
