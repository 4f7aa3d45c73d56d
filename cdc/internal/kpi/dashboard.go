package kpi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/leadpulse/leadpulse/common/logging"
)

// Dashboard combines every report for one period. A section with nothing to
// report is nil and its reason is kept in Missing.
type Dashboard struct {
	GeneratedAt time.Time         `json:"generated_at"`
	PeriodDays  int               `json:"period_days"`
	SLAMinutes  float64           `json:"sla_minutes"`
	TTFR        *TTFRReport       `json:"ttfr,omitempty"`
	Routing     *RoutingReport    `json:"routing,omitempty"`
	Missing     map[string]string `json:"missing,omitempty"`
}

// Dashboard builds every report over the last days days.
func (e *Extractor) Dashboard(ctx context.Context, days int) (*Dashboard, error) {
	if days <= 0 {
		return nil, fmt.Errorf("period must be at least one day, got %d", days)
	}
	now := e.now().UTC()
	since := now.AddDate(0, 0, -days)
	d := &Dashboard{GeneratedAt: now, PeriodDays: days, SLAMinutes: e.sla.Minutes()}

	ttfr, err := e.TTFR(ctx, since)
	if err := d.section("ttfr", err); err != nil {
		return nil, err
	}
	d.TTFR = ttfr

	routed, err := e.Routing(ctx, since)
	if err := d.section("routing", err); err != nil {
		return nil, err
	}
	d.Routing = routed

	logging.FromContext(ctx, e.logger).InfoContext(ctx, "Dashboard generated",
		slog.Int("period_days", days),
		slog.Int("missing_sections", len(d.Missing)))
	return d, nil
}

// section records a missing section and passes any other error through.
func (d *Dashboard) section(name string, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNoData) {
		return err
	}
	if d.Missing == nil {
		d.Missing = make(map[string]string)
	}
	d.Missing[name] = err.Error()
	return nil
}

// Save writes the dashboard to dir as dashboard_YYYYMMDD.json and returns
// the path.
func (d *Dashboard) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode dashboard: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("dashboard_%s.json", d.GeneratedAt.Format("20060102")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write dashboard: %w", err)
	}
	return path, nil
}
