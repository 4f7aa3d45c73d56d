package flywheel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leadpulse/leadpulse/cdc/internal/metrics"
	"github.com/leadpulse/leadpulse/common/logging"
)

const (
	routingModel    = "policy-based-routing"
	firstTouchModel = "idempotent-first-touch"
)

// Config configures an Emitter.
type Config struct {
	Enabled  bool
	LogDir   string
	ClientID string
}

// Emitter appends records to {LogDir}/{workload}.jsonl. A disabled Emitter
// accepts every call and writes nothing.
type Emitter struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewEmitter creates the log directory when enabled.
func NewEmitter(cfg Config, logger *slog.Logger) (*Emitter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Enabled {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create flywheel dir: %w", err)
		}
		logger.Info("Flywheel emitter initialized", slog.String("log_dir", cfg.LogDir))
	}
	return &Emitter{cfg: cfg, logger: logger, now: time.Now}, nil
}

// Enabled reports whether records are written.
func (e *Emitter) Enabled() bool { return e.cfg.Enabled }

// Path returns the log file for workload.
func (e *Emitter) Path(workload string) string {
	return filepath.Join(e.cfg.LogDir, FileName(workload))
}

// Emit fills ID, Timestamp and ClientID when unset and appends rec.
func (e *Emitter) Emit(ctx context.Context, rec *Record) error {
	metrics.DecisionsTotal.WithLabelValues(rec.WorkloadID, rec.Outcome).Inc()
	if !e.cfg.Enabled {
		return nil
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = e.now().Unix()
	}
	if rec.ClientID == "" {
		rec.ClientID = e.cfg.ClientID
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode flywheel record: %w", err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.OpenFile(e.Path(rec.WorkloadID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open flywheel log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to write flywheel log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close flywheel log: %w", err)
	}

	logging.FromContext(ctx, e.logger).DebugContext(ctx, "Flywheel record emitted",
		logging.Workload(rec.WorkloadID),
		logging.Outcome(rec.Outcome))
	return nil
}

// RoutingDecision is one Lead routing outcome.
type RoutingDecision struct {
	LeadID          string
	Company         string
	Employees       *int
	Country         string
	Segment         string
	Region          string
	OwnerID         string
	PreviousOwnerID string
	Outcome         string
	PolicyVersion   string
	Latency         time.Duration
}

// EmitRoutingDecision logs d under WorkloadLeadRoute.
func (e *Emitter) EmitRoutingDecision(ctx context.Context, d RoutingDecision) error {
	employees := "unknown"
	if d.Employees != nil {
		employees = fmt.Sprint(*d.Employees)
	}
	country := d.Country
	if country == "" {
		country = "unknown"
	}

	content, _ := json.Marshal(map[string]any{
		"segment":  d.Segment,
		"region":   d.Region,
		"owner_id": d.OwnerID,
		"outcome":  d.Outcome,
	})

	now := e.now()
	return e.Emit(ctx, &Record{
		WorkloadID: WorkloadLeadRoute,
		Request: Request{
			Model: routingModel,
			Messages: []Message{
				{Role: "system", Content: fmt.Sprintf("Route leads by segment (employee count) and region (country) using policy %s.", d.PolicyVersion)},
				{Role: "user", Content: fmt.Sprintf("Route this lead:\nCompany: %s\nEmployees: %s\nCountry: %s", d.Company, employees, country)},
			},
			MaxTokens: 256,
			Metadata:  map[string]any{"previous_owner_id": d.PreviousOwnerID},
		},
		Response: Response{
			ID:      fmt.Sprintf("routing-%s-%d", d.LeadID, now.Unix()),
			Object:  "chat.completion",
			Created: now.Unix(),
			Model:   routingModel,
			Choices: []Choice{{
				Message:      Message{Role: "assistant", Content: string(content)},
				FinishReason: "stop",
			}},
		},
		LeadID:        d.LeadID,
		UserID:        d.OwnerID,
		PolicyVersion: d.PolicyVersion,
		ReplayID:      logging.ReplayIDFromContext(ctx),
		LatencyMS:     float64(d.Latency.Microseconds()) / 1000,
		Outcome:       d.Outcome,
	})
}

// FirstTouchDecision is one first-response detection outcome.
type FirstTouchDecision struct {
	LeadID      string
	Source      string
	ResponderID string
	Candidate   time.Time
	Existing    time.Time // zero when no response was recorded
	Status      string
	Reason      string
	TTFRMinutes *int
	Latency     time.Duration
}

// EmitFirstTouch logs d under WorkloadFirstTouch.
func (e *Emitter) EmitFirstTouch(ctx context.Context, d FirstTouchDecision) error {
	existing := "None"
	if !d.Existing.IsZero() {
		existing = d.Existing.UTC().Format(time.RFC3339)
	}

	content, _ := json.Marshal(map[string]any{
		"status":       d.Status,
		"reason":       d.Reason,
		"ttfr_minutes": d.TTFRMinutes,
	})

	now := e.now()
	return e.Emit(ctx, &Record{
		WorkloadID: WorkloadFirstTouch,
		Request: Request{
			Model: firstTouchModel,
			Messages: []Message{
				{Role: "system", Content: "Record a candidate response only if it is strictly earlier than the existing first response."},
				{Role: "user", Content: fmt.Sprintf("Candidate response:\nSource: %s\nUser: %s\nTimestamp: %s\nExisting: %s",
					d.Source, d.ResponderID, d.Candidate.UTC().Format(time.RFC3339), existing)},
			},
			MaxTokens: 256,
		},
		Response: Response{
			ID:      fmt.Sprintf("first-touch-%s-%d", d.LeadID, now.Unix()),
			Object:  "chat.completion",
			Created: now.Unix(),
			Model:   firstTouchModel,
			Choices: []Choice{{
				Message:      Message{Role: "assistant", Content: string(content)},
				FinishReason: "stop",
			}},
		},
		LeadID:    d.LeadID,
		UserID:    d.ResponderID,
		ReplayID:  logging.ReplayIDFromContext(ctx),
		LatencyMS: float64(d.Latency.Microseconds()) / 1000,
		Outcome:   d.Status,
	})
}
