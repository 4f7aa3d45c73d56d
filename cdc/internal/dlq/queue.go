// Package dlq captures envelopes whose handlers failed so they can be
// inspected and replayed without holding back the channel cursor.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/metrics"
	"github.com/leadpulse/leadpulse/cdc/internal/models"
)

// DefaultBasePath is used when NewQueue is given an empty path.
const DefaultBasePath = "./data/dlq"

// Failure reasons recorded with each dead letter.
const (
	ReasonHandlerError = "handler_error"
	ReasonHandlerPanic = "handler_panic"
	ReasonParseError   = "parse_error"
)

var errNotEnabled = errors.New("dlq not enabled")

// Writer accepts failed envelopes.
type Writer interface {
	Write(ctx context.Context, env *models.Envelope, err error, reason string) error
}

// FailedEvent is one dead letter.
type FailedEvent struct {
	Timestamp   time.Time        `json:"timestamp"`
	Envelope    *models.Envelope `json:"envelope"`
	Error       string           `json:"error"`
	Reason      string           `json:"reason"`
	Attempts    int              `json:"attempts"`
	LastAttempt time.Time        `json:"last_attempt"`
}

func newFailedEvent(env *models.Envelope, err error, reason string) FailedEvent {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FailedEvent{
		Timestamp:   now,
		Envelope:    env,
		Error:       msg,
		Reason:      reason,
		Attempts:    1,
		LastAttempt: now,
	}
}

// Queue stores dead letters as one JSON file each under a directory.
// A nil *Queue accepts writes and drops them.
type Queue struct {
	basePath string
	mu       sync.Mutex
	written  uint64
	logger   *slog.Logger
}

// NewQueue creates the directory and returns a file-backed queue.
func NewQueue(basePath string) (*Queue, error) {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &Queue{
		basePath: basePath,
		logger:   slog.Default().With(slog.String("component", "dlq")),
	}, nil
}

// Write records a failed envelope as failed_<unixnano>_<count>.json.
func (q *Queue) Write(ctx context.Context, env *models.Envelope, err error, reason string) error {
	if q == nil {
		return nil
	}

	failed := newFailedEvent(env, err, reason)
	data, marshalErr := json.MarshalIndent(failed, "", "  ")
	if marshalErr != nil {
		metrics.DLQWrites.WithLabelValues(reason, "error").Inc()
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	count := atomic.AddUint64(&q.written, 1)
	name := fmt.Sprintf("failed_%d_%d.json", failed.Timestamp.UnixNano(), count)
	if writeErr := os.WriteFile(filepath.Join(q.basePath, name), data, 0o644); writeErr != nil {
		atomic.AddUint64(&q.written, ^uint64(0))
		metrics.DLQWrites.WithLabelValues(reason, "error").Inc()
		return fmt.Errorf("write dlq entry: %w", writeErr)
	}

	metrics.DLQWrites.WithLabelValues(reason, "ok").Inc()
	q.logger.WarnContext(ctx, "Dead-lettered envelope",
		slog.String("reason", reason),
		slog.String("file", name))
	return nil
}

// Stats reports queue counters.
func (q *Queue) Stats() map[string]any {
	if q == nil {
		return map[string]any{"enabled": false, "backend": "file"}
	}
	files, _ := q.files()
	return map[string]any{
		"enabled":       true,
		"backend":       "file",
		"written":       atomic.LoadUint64(&q.written),
		"pending_files": len(files),
		"base_path":     q.basePath,
	}
}

// List returns up to limit dead letters, oldest first.
func (q *Queue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if q == nil {
		return nil, errNotEnabled
	}
	if limit <= 0 {
		limit = 100
	}

	files, err := q.files()
	if err != nil {
		return nil, err
	}

	events := make([]FailedEvent, 0, min(limit, len(files)))
	for _, name := range files {
		if len(events) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			q.logger.Warn("Failed to read DLQ file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		var failed FailedEvent
		if err := json.Unmarshal(data, &failed); err != nil {
			q.logger.Warn("Failed to parse DLQ file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		events = append(events, failed)
	}
	return events, nil
}

// Delete removes the dead letter written at timestamp (unix nanoseconds).
func (q *Queue) Delete(ctx context.Context, timestamp int64) error {
	if q == nil {
		return errNotEnabled
	}

	prefix := fmt.Sprintf("failed_%d_", timestamp)
	files, err := q.files()
	if err != nil {
		return err
	}
	for _, name := range files {
		if strings.HasPrefix(name, prefix) {
			if err := os.Remove(filepath.Join(q.basePath, name)); err != nil {
				return fmt.Errorf("delete dlq entry: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("dlq entry %d not found", timestamp)
}

// Purge removes every dead letter.
func (q *Queue) Purge(ctx context.Context) error {
	if q == nil {
		return errNotEnabled
	}

	files, err := q.files()
	if err != nil {
		return err
	}
	for _, name := range files {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("purge dlq: %w", err)
		}
	}
	q.logger.InfoContext(ctx, "Purged DLQ", slog.Int("count", len(files)))
	return nil
}

// files lists dead-letter file names in write order.
func (q *Queue) files() ([]string, error) {
	entries, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	type entry struct {
		name  string
		ts    int64
		count uint64
	}
	var found []entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var ts int64
		var count uint64
		if _, err := fmt.Sscanf(e.Name(), "failed_%d_%d.json", &ts, &count); err != nil {
			continue
		}
		found = append(found, entry{name: e.Name(), ts: ts, count: count})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].ts != found[j].ts {
			return found[i].ts < found[j].ts
		}
		return found[i].count < found[j].count
	})
	names := make([]string, len(found))
	for i, e := range found {
		names[i] = e.name
	}
	return names, nil
}

// Nop discards every dead letter.
type Nop struct{}

func (Nop) Write(context.Context, *models.Envelope, error, string) error { return nil }

var (
	_ Writer = (*Queue)(nil)
	_ Writer = (*JetStreamQueue)(nil)
	_ Writer = Nop{}
)
