// Package dispatcher drives CDC envelopes from a source through channel
// handlers and advances the per-channel cursor.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/dlq"
	"github.com/leadpulse/leadpulse/cdc/internal/metrics"
	"github.com/leadpulse/leadpulse/cdc/internal/models"
	"github.com/leadpulse/leadpulse/cdc/internal/source"
	"github.com/leadpulse/leadpulse/common/logging"
)

// Error types recorded in cdc_errors_total.
const (
	ErrorTypeHandler     = "handler_error"
	ErrorTypeParse       = "parse_error"
	ErrorTypeCursorWrite = "cursor_write"
	ErrorTypeCursorRead  = "cursor_read"
	ErrorTypeSubscribe   = "subscribe_error"
	ErrorTypeStream      = "stream_error"
)

var (
	// ErrInterrupted is returned by Process when ctx ends while the handler
	// runs. The envelope is neither dead-lettered nor committed, so it is
	// redelivered from the stored cursor.
	ErrInterrupted = errors.New("envelope interrupted")

	// ErrNotRecorded is returned when a failed envelope could not be written
	// to the DLQ. The cursor is left where it was.
	ErrNotRecorded = errors.New("failure not recorded")
)

// Handler applies one envelope.
type Handler interface {
	Handle(ctx context.Context, env *models.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *models.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env *models.Envelope) error { return f(ctx, env) }

// CursorStore is the part of replay.Store the dispatcher uses.
type CursorStore interface {
	Get(ctx context.Context, channel string) (string, bool, error)
	Set(ctx context.Context, channel, token string) error
	GetAll(ctx context.Context) (map[string]string, error)
}

// Config tunes reconnect backoff.
type Config struct {
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Dispatcher routes envelopes to handlers registered per channel.
type Dispatcher struct {
	cursors CursorStore
	dlq     dlq.Writer
	logger  *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	mu         sync.RWMutex
	handlers   map[string]Handler
	mode       string
	channels   []string
	subscribed map[string]bool
	lastEvent  map[string]time.Time

	now func() time.Time
}

// New builds a dispatcher. A nil dead-letter writer discards failures.
func New(cursors CursorStore, dead dlq.Writer, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if dead == nil {
		dead = dlq.Nop{}
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Dispatcher{
		cursors:    cursors,
		dlq:        dead,
		logger:     logger.With(slog.String("component", "dispatcher")),
		minBackoff: cfg.ReconnectMin,
		maxBackoff: cfg.ReconnectMax,
		handlers:   make(map[string]Handler),
		subscribed: make(map[string]bool),
		lastEvent:  make(map[string]time.Time),
		now:        time.Now,
	}
}

// Register binds h to channel, replacing any earlier handler.
func (d *Dispatcher) Register(channel string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[channel] = h
}

// Classify maps a channel to its entity name.
func Classify(channel string) string {
	return models.ClassifyChannel(channel)
}

func (d *Dispatcher) handler(channel string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[channel]
}

// Process handles one envelope. Handler failures are isolated and sent to
// the DLQ, after which the cursor advances. The cursor stays put when the
// handler was interrupted by ctx (ErrInterrupted), when the failure could not
// be dead-lettered (ErrNotRecorded), or when the cursor write itself fails.
func (d *Dispatcher) Process(ctx context.Context, env *models.Envelope) error {
	entity := Classify(env.Channel)
	ctx = logging.ContextWithChannel(ctx, env.Channel)
	if env.Token != "" {
		ctx = logging.ContextWithReplayID(ctx, env.Token)
	}
	logger := logging.FromContext(ctx, d.logger)

	now := d.now()
	metrics.EventsTotal.WithLabelValues(entity, string(env.ChangeType)).Inc()
	if ts, ok := env.CommitTime(); ok {
		metrics.LagSeconds.WithLabelValues(entity).Observe(max(0, now.Sub(ts).Seconds()))
	}
	d.mu.Lock()
	d.lastEvent[entity] = now
	d.mu.Unlock()

	h := d.handler(env.Channel)
	if h == nil {
		logger.DebugContext(ctx, "No handler registered for channel",
			logging.Entity(entity),
			logging.ChangeType(string(env.ChangeType)))
	} else if reason, err := invoke(ctx, h, env); err != nil {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "Handler interrupted, envelope left for redelivery",
				logging.Entity(entity),
				logging.RecordIDs(env.RecordIDs),
				logging.Error(err))
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		metrics.ErrorsTotal.WithLabelValues(entity, ErrorTypeHandler).Inc()
		logger.ErrorContext(ctx, "Handler failed",
			logging.Entity(entity),
			logging.ChangeType(string(env.ChangeType)),
			logging.RecordIDs(env.RecordIDs),
			slog.String("reason", reason),
			logging.Error(err))
		if err := d.deadLetter(ctx, env, err, reason); err != nil {
			return err
		}
	}

	return d.commit(ctx, entity, env.Channel, env.Token)
}

// invoke runs h, converting a panic into an error.
func invoke(ctx context.Context, h Handler, env *models.Envelope) (reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			reason = dlq.ReasonHandlerPanic
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return dlq.ReasonHandlerError, h.Handle(ctx, env)
}

func (d *Dispatcher) deadLetter(ctx context.Context, env *models.Envelope, cause error, reason string) error {
	if err := d.dlq.Write(context.WithoutCancel(ctx), env, cause, reason); err != nil {
		logging.FromContext(ctx, d.logger).ErrorContext(ctx, "Failed to write dead letter",
			slog.String("reason", reason),
			logging.Error(err))
		return fmt.Errorf("%w: %w", ErrNotRecorded, err)
	}
	return nil
}

// commit persists token for channel. The write is detached from ctx so an
// envelope that was handled is recorded even during shutdown.
func (d *Dispatcher) commit(ctx context.Context, entity, channel, token string) error {
	if token == "" {
		return nil
	}
	if err := d.cursors.Set(context.WithoutCancel(ctx), channel, token); err != nil {
		metrics.ErrorsTotal.WithLabelValues(entity, ErrorTypeCursorWrite).Inc()
		logging.FromContext(ctx, d.logger).ErrorContext(ctx, "Failed to advance cursor",
			logging.Entity(entity),
			logging.Error(err))
		return fmt.Errorf("advance cursor for %s: %w", channel, err)
	}
	return nil
}

// processUndecodable dead-letters an event the source could not parse and
// moves the cursor past it once the dead letter is written.
func (d *Dispatcher) processUndecodable(ctx context.Context, de *source.DecodeError) error {
	entity := Classify(de.Channel)
	ctx = logging.ContextWithChannel(ctx, de.Channel)
	if de.Token != "" {
		ctx = logging.ContextWithReplayID(ctx, de.Token)
	}

	metrics.ErrorsTotal.WithLabelValues(entity, ErrorTypeParse).Inc()
	logging.FromContext(ctx, d.logger).ErrorContext(ctx, "Dropping undecodable event",
		logging.Entity(entity),
		logging.Error(de.Err))

	env := &models.Envelope{
		Channel:    de.Channel,
		ChangeType: models.ChangeUnknown,
		EntityName: entity,
		Token:      de.Token,
		Payload:    map[string]any{"raw": string(de.Raw)},
	}
	if err := d.deadLetter(ctx, env, de.Err, dlq.ReasonParseError); err != nil {
		return err
	}
	return d.commit(ctx, entity, de.Channel, de.Token)
}

// Run consumes every channel from src until ctx is cancelled. Each channel
// runs in its own goroutine and resumes from its stored cursor whenever the
// stream is re-established.
func (d *Dispatcher) Run(ctx context.Context, src source.Source, channels []string) error {
	if len(channels) == 0 {
		return errors.New("no channels to consume")
	}

	d.mu.Lock()
	d.mode = src.Name()
	d.channels = append([]string(nil), channels...)
	d.subscribed = make(map[string]bool, len(channels))
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "Starting dispatcher",
		slog.String("mode", src.Name()),
		slog.Any("channels", channels))

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			d.runChannel(ctx, src, channel)
		}(ch)
	}
	wg.Wait()

	d.logger.Info("Dispatcher stopped")
	return ctx.Err()
}

func (d *Dispatcher) runChannel(ctx context.Context, src source.Source, channel string) {
	entity := Classify(channel)
	logger := d.logger.With(logging.Channel(channel))
	backoff := d.minBackoff

	for ctx.Err() == nil {
		token, _, err := d.cursors.Get(ctx, channel)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.ErrorsTotal.WithLabelValues(entity, ErrorTypeCursorRead).Inc()
			logger.ErrorContext(ctx, "Failed to read cursor", logging.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = d.nextBackoff(backoff)
			continue
		}

		stream, err := src.Subscribe(ctx, channel, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.ErrorsTotal.WithLabelValues(entity, ErrorTypeSubscribe).Inc()
			logger.ErrorContext(ctx, "Failed to subscribe", logging.ReplayID(token), logging.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = d.nextBackoff(backoff)
			continue
		}

		d.mu.Lock()
		d.subscribed[channel] = true
		d.mu.Unlock()
		logger.InfoContext(ctx, "Subscribed", logging.ReplayID(token))

		err = d.consume(ctx, stream, func() { backoff = d.minBackoff })
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}

		switch {
		case errors.Is(err, source.ErrEndOfStream):
			logger.WarnContext(ctx, "Stream closed upstream, reconnecting", slog.Duration("backoff", backoff))
		case errors.Is(err, ErrNotRecorded):
			logger.ErrorContext(ctx, "Dead letter not recorded, resuming from stored cursor", slog.Duration("backoff", backoff), logging.Error(err))
		default:
			metrics.ErrorsTotal.WithLabelValues(entity, ErrorTypeStream).Inc()
			logger.ErrorContext(ctx, "Stream failed, reconnecting", slog.Duration("backoff", backoff), logging.Error(err))
		}
		metrics.Reconnects.WithLabelValues(channel).Inc()
		if !sleep(ctx, backoff) {
			return
		}
		backoff = d.nextBackoff(backoff)
	}
}

// consume processes envelopes until the stream ends or fails. Cancelling
// ctx closes the stream to unblock a pending Next; an envelope received after
// cancellation is dropped unprocessed. A failure that could not be
// dead-lettered ends the stream so the channel resumes from its cursor.
func (d *Dispatcher) consume(ctx context.Context, stream source.Stream, delivered func()) error {
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	for {
		env, err := stream.Next(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			var de *source.DecodeError
			if !errors.As(err, &de) {
				return err
			}
			delivered()
			if err := d.processUndecodable(ctx, de); errors.Is(err, ErrNotRecorded) {
				return err
			}
			continue
		}
		delivered()
		// Cursor write failures are logged and counted in Process; the
		// stream keeps going.
		if err := d.Process(ctx, env); errors.Is(err, ErrInterrupted) || errors.Is(err, ErrNotRecorded) {
			return err
		}
	}
}

func (d *Dispatcher) nextBackoff(cur time.Duration) time.Duration {
	return min(cur*2, d.maxBackoff)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// LastEvent is when an entity last produced an envelope.
type LastEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	SecondsAgo float64   `json:"seconds_ago"`
}

// Status is a health snapshot.
type Status struct {
	Mode               string               `json:"mode"`
	Channels           []string             `json:"channels"`
	HandlersRegistered []string             `json:"handlers_registered"`
	ReplayIDs          map[string]string    `json:"replay_ids"`
	LastEventTimes     map[string]LastEvent `json:"last_event_times"`
	Ready              bool                 `json:"ready"`
	Error              string               `json:"error,omitempty"`
}

// Status reports consumption state. Ready is true once every channel loop
// has subscribed at least once.
func (d *Dispatcher) Status(ctx context.Context) Status {
	now := d.now()

	d.mu.RLock()
	st := Status{
		Mode:               d.mode,
		Channels:           append([]string{}, d.channels...),
		HandlersRegistered: make([]string, 0, len(d.handlers)),
		LastEventTimes:     make(map[string]LastEvent, len(d.lastEvent)),
		Ready:              len(d.channels) > 0,
	}
	for ch := range d.handlers {
		st.HandlersRegistered = append(st.HandlersRegistered, ch)
	}
	for entity, ts := range d.lastEvent {
		st.LastEventTimes[entity] = LastEvent{Timestamp: ts.UTC(), SecondsAgo: now.Sub(ts).Seconds()}
	}
	for _, ch := range d.channels {
		if !d.subscribed[ch] {
			st.Ready = false
		}
	}
	d.mu.RUnlock()
	sort.Strings(st.HandlersRegistered)

	ids, err := d.cursors.GetAll(ctx)
	if err != nil {
		st.Error = err.Error()
		ids = map[string]string{}
	}
	st.ReplayIDs = ids
	return st
}
