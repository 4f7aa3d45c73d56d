package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/models"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
	"github.com/leadpulse/leadpulse/common/messaging"
)

// Publisher sends one message to a subject. The JetStream client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Result summarizes a run.
type Result struct {
	Leads     int            `json:"leads"`
	Published int            `json:"published"`
	Failed    int            `json:"failed"`
	ByChannel map[string]int `json:"by_channel"`
}

// Runner handles the event seeding execution
type Runner struct {
	Config    *Config
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewRunner creates a new seeder runner
func NewRunner(config *Config, pub Publisher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Config: config, Publisher: pub, Logger: logger, Now: time.Now}
}

// Generate builds every scenario and returns the envelopes in commit order
// together with the backing records.
func (r *Runner) Generate() ([]*models.Envelope, *salesforce.MemoryStore) {
	d := r.Config.Defaults
	gen := NewGenerator(d, r.Now())
	store := salesforce.NewMemoryStore()

	var envs []*models.Envelope
	for i := 0; i < d.Leads; i++ {
		sc := gen.Scenario(i, d.Leads)
		envs = append(envs, sc.Envelopes...)
		for sobject, recs := range sc.Records {
			for _, rec := range recs {
				store.Put(sobject, rec)
			}
		}
	}
	sort.SliceStable(envs, func(i, j int) bool { return envs[i].CommitTimestamp < envs[j].CommitTimestamp })
	return envs, store
}

// Run generates scenarios, writes fixtures when configured, and publishes
// every envelope to its channel subject in batches.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	d := r.Config.Defaults
	r.Logger.Info("Starting CDC seeder",
		slog.Int("leads", d.Leads),
		slog.Duration("time_spread", d.TimeSpread),
		slog.Int("batch_size", d.BatchSize),
		slog.Float64("response_rate", d.ResponseRate))

	envs, store := r.Generate()
	res := Result{Leads: d.Leads, ByChannel: make(map[string]int)}

	if d.FixturesPath != "" {
		if err := store.SaveFixtures(d.FixturesPath); err != nil {
			return res, err
		}
		r.Logger.Info("Wrote Salesforce fixtures", slog.String("path", d.FixturesPath))
	}

	if r.Publisher == nil {
		return res, nil
	}

	for start := 0; start < len(envs); start += d.BatchSize {
		end := min(start+d.BatchSize, len(envs))
		for _, env := range envs[start:end] {
			if err := r.publish(ctx, env); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				r.Logger.Warn("Failed to publish event",
					slog.String("channel", env.Channel),
					slog.String("error", err.Error()))
				res.Failed++
				continue
			}
			res.Published++
			res.ByChannel[env.Channel]++
		}
		r.Logger.Debug("Batch published", slog.Int("sent", res.Published), slog.Int("total", len(envs)))

		if d.Interval > 0 && end < len(envs) {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(d.Interval):
			}
		}
	}

	r.Logger.Info("Seeding complete",
		slog.Int("published", res.Published),
		slog.Int("failed", res.Failed))
	return res, nil
}

func (r *Runner) publish(ctx context.Context, env *models.Envelope) error {
	data, err := env.MarshalCDC()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return r.Publisher.Publish(ctx, messaging.SubjectForChannel(env.Channel), data)
}
