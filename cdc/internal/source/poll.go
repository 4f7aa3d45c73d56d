package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/metrics"
	"github.com/leadpulse/leadpulse/cdc/internal/models"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
)

// FieldSystemModstamp orders polled rows and drives the watermark.
const FieldSystemModstamp = "SystemModstamp"

// PollFields lists the columns selected per entity. Each list carries what
// the matching workload handler reads.
var PollFields = map[string][]string{
	models.EntityLead: {
		"Id", "OwnerId", "Company", "NumberOfEmployees", "Country",
		"CreatedDate", "LastModifiedDate", FieldSystemModstamp,
	},
	models.EntityTask: {
		"Id", "WhoId", "OwnerId", "Status", "Type", "CompletedDateTime",
		"CreatedDate", "LastModifiedDate", FieldSystemModstamp,
	},
	models.EntityEmailMessage: {
		"Id", "RelatedToId", "MessageDate", "Incoming", "CreatedById",
		"FromAddress", "CreatedDate", FieldSystemModstamp,
	},
}

// Querier runs SOQL queries.
type Querier interface {
	Query(ctx context.Context, q salesforce.Query) ([]salesforce.Record, error)
}

// WatermarkStore persists poll watermarks. replay.Store satisfies it.
type WatermarkStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// WatermarkKey is the store key holding an entity's watermark.
func WatermarkKey(entity string) string { return "poll:" + entity }

// PollConfig tunes the poller.
type PollConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Poller pulls changed rows from the REST API. Rows become UPDATE envelopes
// without tokens; progress is tracked by a SystemModstamp watermark.
type Poller struct {
	querier  Querier
	marks    WatermarkStore
	interval time.Duration
	batch    int
	logger   *slog.Logger

	now func() time.Time
}

// NewPoller builds a poll source.
func NewPoller(q Querier, marks WatermarkStore, cfg PollConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Poller{
		querier:  q,
		marks:    marks,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		logger:   logger.With(slog.String("component", "source.poll")),
		now:      time.Now,
	}
}

func (p *Poller) Name() string { return "poll" }

// Subscribe loads the entity watermark; fromToken is ignored because polled
// envelopes carry none.
func (p *Poller) Subscribe(ctx context.Context, channel, _ string) (Stream, error) {
	entity := models.ClassifyChannel(channel)
	fields, ok := PollFields[entity]
	if !ok {
		return nil, fmt.Errorf("no poll field list for channel %s", channel)
	}

	watermark := p.now().UTC()
	stored, found, err := p.marks.Get(ctx, WatermarkKey(entity))
	if err != nil {
		return nil, fmt.Errorf("load watermark for %s: %w", entity, err)
	}
	if found {
		if watermark, err = salesforce.ParseTime(stored); err != nil {
			return nil, fmt.Errorf("stored watermark for %s: %w", entity, err)
		}
	}

	p.logger.InfoContext(ctx, "Starting polling",
		slog.String("channel", channel),
		slog.String("entity", entity),
		slog.Time("watermark", watermark),
		slog.Duration("interval", p.interval))

	return &pollStream{
		poller:    p,
		channel:   channel,
		entity:    entity,
		fields:    fields,
		watermark: watermark,
		rejected:  make(map[string]bool),
		done:      make(chan struct{}),
	}, nil
}

type pollStream struct {
	poller  *Poller
	channel string
	entity  string
	fields  []string

	watermark time.Time
	batch     []salesforce.Record
	pos       int
	// batchEnd is the last readable SystemModstamp of the current batch.
	batchEnd time.Time
	polled   bool
	// rejected holds ids already surfaced as undecodable.
	rejected map[string]bool

	done chan struct{}
	once sync.Once
}

func (s *pollStream) Next(ctx context.Context) (*models.Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		select {
		case <-s.done:
			return nil, ErrEndOfStream
		default:
		}

		if s.pos < len(s.batch) {
			rec := s.batch[s.pos]
			s.pos++
			if _, err := modstamp(rec); err != nil {
				return nil, s.reject(rec, err)
			}
			return s.envelope(rec), nil
		}

		if len(s.batch) > 0 {
			s.advance(ctx)
		}

		if s.polled {
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
		}
		s.polled = true

		rows, err := s.query(ctx)
		if err != nil {
			s.poller.logger.ErrorContext(ctx, "Polling error",
				slog.String("entity", s.entity),
				slog.String("error", err.Error()))
			metrics.ErrorsTotal.WithLabelValues(s.entity, "polling_error").Inc()
			continue
		}
		rows = s.unrejected(rows)
		if len(rows) == 0 {
			continue
		}

		s.poller.logger.DebugContext(ctx, "Poll found records",
			slog.String("entity", s.entity),
			slog.Int("count", len(rows)))
		s.batch, s.pos, s.batchEnd = rows, 0, lastModstamp(rows, s.watermark)
		s.polled = false
	}
}

// reject surfaces a row whose SystemModstamp cannot be read. The row is
// skipped by later polls of this stream so it cannot hold the watermark.
func (s *pollStream) reject(rec salesforce.Record, cause error) error {
	s.rejected[rec.ID()] = true
	raw, err := json.Marshal(rec)
	if err != nil {
		raw = []byte(rec.ID())
	}
	return &DecodeError{Channel: s.channel, Raw: raw, Err: cause}
}

func (s *pollStream) unrejected(rows []salesforce.Record) []salesforce.Record {
	if len(s.rejected) == 0 {
		return rows
	}
	kept := rows[:0:0]
	for _, rec := range rows {
		if !s.rejected[rec.ID()] {
			kept = append(kept, rec)
		}
	}
	return kept
}

// lastModstamp is the latest readable SystemModstamp in rows, or floor when
// none can be read.
func lastModstamp(rows []salesforce.Record, floor time.Time) time.Time {
	for i := len(rows) - 1; i >= 0; i-- {
		if ts, err := modstamp(rows[i]); err == nil && ts.After(floor) {
			return ts
		}
	}
	return floor
}

func (s *pollStream) query(ctx context.Context) ([]salesforce.Record, error) {
	return s.poller.querier.Query(ctx, salesforce.Query{
		SObject: s.entity,
		Fields:  s.fields,
		Where:   []salesforce.Condition{salesforce.Gt(FieldSystemModstamp, s.watermark)},
		OrderBy: FieldSystemModstamp,
		Limit:   s.poller.batch,
	})
}

// advance moves the watermark past a drained batch and persists it. A
// failed write keeps the in-memory watermark; the next drained batch
// persists again.
func (s *pollStream) advance(ctx context.Context) {
	s.watermark = s.batchEnd
	s.batch, s.pos = nil, 0

	key := WatermarkKey(s.entity)
	if err := s.poller.marks.Set(ctx, key, salesforce.FormatTime(s.watermark)); err != nil {
		s.poller.logger.ErrorContext(ctx, "Failed to persist poll watermark",
			slog.String("key", key),
			slog.String("error", err.Error()))
		metrics.ErrorsTotal.WithLabelValues(s.entity, "cursor_write").Inc()
	}
}

func (s *pollStream) wait(ctx context.Context) error {
	timer := time.NewTimer(s.poller.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrEndOfStream
	case <-timer.C:
		return nil
	}
}

func (s *pollStream) envelope(rec salesforce.Record) *models.Envelope {
	payload := make(map[string]any, len(rec))
	for k, v := range rec {
		payload[k] = v
	}
	env := &models.Envelope{
		Channel:    s.channel,
		ChangeType: models.ChangeUpdate,
		EntityName: s.entity,
		RecordIDs:  []string{rec.ID()},
		Payload:    payload,
	}
	if ts, err := modstamp(rec); err == nil {
		env.CommitTimestamp = ts.UnixMilli()
	}
	return env
}

func modstamp(rec salesforce.Record) (time.Time, error) {
	ts, ok, err := rec.Time(FieldSystemModstamp)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fmt.Errorf("record %s has no %s", rec.ID(), FieldSystemModstamp)
	}
	return ts, nil
}

func (s *pollStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

var _ Source = (*Poller)(nil)
