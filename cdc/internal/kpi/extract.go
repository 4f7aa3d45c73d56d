// Package kpi derives response-time and routing indicators from the Lead
// records and the decision log.
package kpi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/firsttouch"
	"github.com/leadpulse/leadpulse/cdc/internal/flywheel"
	"github.com/leadpulse/leadpulse/cdc/internal/routing"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
	"github.com/leadpulse/leadpulse/common/logging"
)

// DefaultSLA is the response-time target used when none is configured.
const DefaultSLA = 60 * time.Minute

// ErrNoData is returned when a report has nothing to summarize.
var ErrNoData = errors.New("no data in period")

// Querier runs SOQL queries.
type Querier interface {
	Query(ctx context.Context, q salesforce.Query) ([]salesforce.Record, error)
}

// LogReader reads decision-log records.
type LogReader interface {
	Read(workload string, limit int) ([]flywheel.Record, error)
}

// Bucket counts responses in one TTFR band.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// SLAReport compares TTFR against the target.
type SLAReport struct {
	ThresholdMinutes float64 `json:"threshold_minutes"`
	Within           int     `json:"within_sla"`
	Breached         int     `json:"breach_sla"`
	BreachRate       float64 `json:"breach_rate"`
}

// TTFRReport summarizes recorded first responses.
type TTFRReport struct {
	Since          time.Time      `json:"since"`
	TotalResponses int            `json:"total_responses"`
	Minutes        Summary        `json:"ttfr_minutes"`
	SLA            SLAReport      `json:"sla_performance"`
	Distribution   []Bucket       `json:"distribution"`
	BySource       map[string]int `json:"by_source"`
	Skipped        int            `json:"skipped,omitempty"`
}

// RoutingReport summarizes routing decisions and how long Leads waited for
// an owner.
type RoutingReport struct {
	Since             time.Time      `json:"since"`
	TotalRouted       int            `json:"total_routed"`
	Outcomes          map[string]int `json:"outcomes"`
	BySegment         map[string]int `json:"by_segment"`
	ByRegion          map[string]int `json:"by_region"`
	ByPolicyVersion   map[string]int `json:"by_policy_version"`
	DecisionLatencyMS Summary        `json:"decision_latency_ms"`
	AssignmentLatency Summary        `json:"assignment_latency_seconds"`
}

// Extractor builds KPI reports.
type Extractor struct {
	store  Querier
	log    LogReader
	sla    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewExtractor builds an extractor. A non-positive sla uses DefaultSLA.
func NewExtractor(store Querier, log LogReader, sla time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if sla <= 0 {
		sla = DefaultSLA
	}
	return &Extractor{
		store:  store,
		log:    log,
		sla:    sla,
		logger: logger.With(slog.String("component", "kpi")),
		now:    time.Now,
	}
}

// SLA is the response-time target.
func (e *Extractor) SLA() time.Duration { return e.sla }

// TTFR summarizes Leads created after since that have a recorded first
// response.
func (e *Extractor) TTFR(ctx context.Context, since time.Time) (*TTFRReport, error) {
	recs, err := e.store.Query(ctx, salesforce.Query{
		SObject: "Lead",
		Fields: []string{
			"Id", firsttouch.FieldCreatedDate, firsttouch.FieldFirstResponseAt,
			firsttouch.FieldTTFR, firsttouch.FieldResponseSource,
		},
		Where:   []salesforce.Condition{salesforce.Gt(firsttouch.FieldCreatedDate, since)},
		OrderBy: firsttouch.FieldCreatedDate,
	})
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}

	report := &TTFRReport{
		Since:    since.UTC(),
		BySource: make(map[string]int),
		SLA:      SLAReport{ThresholdMinutes: e.sla.Minutes()},
	}
	var minutes []float64
	for _, rec := range recs {
		if rec.String(firsttouch.FieldFirstResponseAt) == "" {
			continue
		}
		ttfr, ok := rec.Int(firsttouch.FieldTTFR)
		if !ok {
			report.Skipped++
			continue
		}
		minutes = append(minutes, float64(ttfr))
		if src := rec.String(firsttouch.FieldResponseSource); src != "" {
			report.BySource[src]++
		}
	}
	if report.Skipped > 0 {
		logging.FromContext(ctx, e.logger).WarnContext(ctx, "Leads with a first response but no TTFR",
			slog.Int("count", report.Skipped))
	}
	if len(minutes) == 0 {
		return nil, fmt.Errorf("ttfr: %w", ErrNoData)
	}

	report.TotalResponses = len(minutes)
	report.Minutes = Summarize(minutes)
	report.Distribution = []Bucket{
		{Label: "0-15min"}, {Label: "15-30min"}, {Label: "30-60min"}, {Label: "60min+"},
	}
	for _, m := range minutes {
		switch {
		case m <= 15:
			report.Distribution[0].Count++
		case m <= 30:
			report.Distribution[1].Count++
		case m <= 60:
			report.Distribution[2].Count++
		default:
			report.Distribution[3].Count++
		}
		if m > report.SLA.ThresholdMinutes {
			report.SLA.Breached++
		} else {
			report.SLA.Within++
		}
	}
	report.SLA.BreachRate = float64(report.SLA.Breached) / float64(len(minutes))
	return report, nil
}

// routingContent is the decision body written by the routing workload.
type routingContent struct {
	Segment string `json:"segment"`
	Region  string `json:"region"`
	OwnerID string `json:"owner_id"`
	Outcome string `json:"outcome"`
}

// Routing summarizes lead.route decisions logged after since and the
// assignment latency of owned Leads created after since.
func (e *Extractor) Routing(ctx context.Context, since time.Time) (*RoutingReport, error) {
	logger := logging.FromContext(ctx, e.logger)

	records, err := e.log.Read(flywheel.WorkloadLeadRoute, 0)
	if err != nil {
		return nil, fmt.Errorf("read routing log: %w", err)
	}

	report := &RoutingReport{
		Since:           since.UTC(),
		Outcomes:        make(map[string]int),
		BySegment:       make(map[string]int),
		ByRegion:        make(map[string]int),
		ByPolicyVersion: make(map[string]int),
	}
	var latencies []float64
	for _, rec := range records {
		if rec.Timestamp < since.Unix() {
			continue
		}
		report.TotalRouted++
		report.Outcomes[rec.Outcome]++
		if rec.PolicyVersion != "" {
			report.ByPolicyVersion[rec.PolicyVersion]++
		}
		latencies = append(latencies, rec.LatencyMS)

		if rec.Outcome == routing.OutcomeError || len(rec.Response.Choices) == 0 {
			continue
		}
		var body routingContent
		if err := json.Unmarshal([]byte(rec.Response.Choices[0].Message.Content), &body); err != nil {
			logger.WarnContext(ctx, "Unreadable routing decision",
				logging.LeadID(rec.LeadID),
				logging.Error(err))
			continue
		}
		if body.Segment != "" {
			report.BySegment[body.Segment]++
		}
		if body.Region != "" {
			report.ByRegion[body.Region]++
		}
	}
	if report.TotalRouted == 0 {
		return nil, fmt.Errorf("routing: %w", ErrNoData)
	}
	report.DecisionLatencyMS = Summarize(latencies)

	assignment, err := e.assignmentLatency(ctx, since)
	if err != nil {
		return nil, err
	}
	report.AssignmentLatency = assignment
	return report, nil
}

// assignmentLatency measures CreatedDate to SystemModstamp for owned Leads.
func (e *Extractor) assignmentLatency(ctx context.Context, since time.Time) (Summary, error) {
	recs, err := e.store.Query(ctx, salesforce.Query{
		SObject: "Lead",
		Fields:  []string{"Id", "OwnerId", firsttouch.FieldCreatedDate, "SystemModstamp"},
		Where:   []salesforce.Condition{salesforce.Gt(firsttouch.FieldCreatedDate, since)},
		OrderBy: firsttouch.FieldCreatedDate,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("query lead assignment: %w", err)
	}

	var seconds []float64
	for _, rec := range recs {
		if rec.String("OwnerId") == "" {
			continue
		}
		created, ok, err := rec.Time(firsttouch.FieldCreatedDate)
		if err != nil || !ok {
			continue
		}
		modified, ok, err := rec.Time("SystemModstamp")
		if err != nil || !ok || modified.Before(created) {
			continue
		}
		seconds = append(seconds, modified.Sub(created).Seconds())
	}
	return Summarize(seconds), nil
}
