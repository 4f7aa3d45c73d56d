package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/flywheel"
	"github.com/leadpulse/leadpulse/cdc/internal/metrics"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
	"github.com/leadpulse/leadpulse/common/logging"
)

// Decision outcomes.
const (
	OutcomeSuccess          = "success"
	OutcomeSkippedSameOwner = "skipped_same_owner"
	OutcomeError            = "error"
)

// Lead fields written by the router.
const (
	FieldOwnerID           = "OwnerId"
	FieldRoutingReason     = "Routing_Reason__c"
	FieldOwnerAssignedAt   = "Owner_Assigned_At__c"
	FieldAssignmentLatency = "Assignment_Latency_Minutes__c"
)

var leadFields = []string{"Id", "OwnerId", "NumberOfEmployees", "Country", "CreatedDate", "Company"}

// RecordStore is the subset of the Salesforce API the router needs.
type RecordStore interface {
	GetRecord(ctx context.Context, sobject, id string, fields []string) (salesforce.Record, error)
	UpdateRecord(ctx context.Context, sobject, id string, fields map[string]any) error
}

// DecisionLog receives every routing decision.
type DecisionLog interface {
	EmitRoutingDecision(ctx context.Context, d flywheel.RoutingDecision) error
}

// Decision is the result of routing one Lead.
type Decision struct {
	LeadID                   string    `json:"lead_id"`
	Segment                  string    `json:"segment,omitempty"`
	Region                   string    `json:"region,omitempty"`
	OwnerID                  string    `json:"owner_id,omitempty"`
	PreviousOwnerID          string    `json:"previous_owner_id,omitempty"`
	PolicyVersion            string    `json:"policy_version,omitempty"`
	Outcome                  string    `json:"outcome"`
	OwnerAssignedAt          time.Time `json:"owner_assigned_at,omitempty"`
	AssignmentLatencyMinutes *int      `json:"assignment_latency_minutes,omitempty"`
	UpdatedFields            []string  `json:"updated_fields,omitempty"`
	Error                    string    `json:"error,omitempty"`
}

// BatchResult summarizes RouteBatch.
type BatchResult struct {
	Total     int        `json:"total"`
	Success   int        `json:"success"`
	Skipped   int        `json:"skipped"`
	Errors    int        `json:"errors"`
	Decisions []Decision `json:"decisions"`
}

// Router assigns Leads using the holder's active policy.
type Router struct {
	store  RecordStore
	policy *PolicyHolder
	log    DecisionLog
	logger *slog.Logger
	now    func() time.Time
}

// NewRouter returns a Router. log may be nil.
func NewRouter(store RecordStore, policy *PolicyHolder, log DecisionLog, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  store,
		policy: policy,
		log:    log,
		logger: logger.With(slog.String("component", "router")),
		now:    time.Now,
	}
}

// RouteLead evaluates the policy for leadID and reassigns it when the owner
// changes. Moving a Lead from a queue to a user also stamps the assignment
// time and latency since creation.
func (r *Router) RouteLead(ctx context.Context, leadID string) (Decision, error) {
	start := r.now()
	logger := logging.FromContext(ctx, r.logger)
	p := r.policy.Policy()
	d := Decision{LeadID: leadID, PolicyVersion: p.Version}

	lead, err := r.store.GetRecord(ctx, "Lead", leadID, leadFields)
	if err != nil {
		d.Outcome = OutcomeError
		d.Error = err.Error()
		metrics.RoutingDecisions.WithLabelValues("", "", OutcomeError).Inc()
		logger.ErrorContext(ctx, "Failed to read lead for routing", logging.LeadID(leadID), logging.Error(err))
		r.emit(ctx, d, lead, start)
		return d, fmt.Errorf("get lead %s: %w", leadID, err)
	}

	var employees *int
	if n, ok := lead.Int("NumberOfEmployees"); ok {
		employees = &n
	}
	d.Segment = p.Segment(employees)
	d.Region = p.Region(lead.String("Country"))
	d.OwnerID = p.Owner(d.Segment, d.Region)
	d.PreviousOwnerID = lead.String(FieldOwnerID)

	if d.PreviousOwnerID == d.OwnerID {
		d.Outcome = OutcomeSkippedSameOwner
		metrics.RoutingDecisions.WithLabelValues(d.Segment, d.Region, d.Outcome).Inc()
		logger.InfoContext(ctx, "Owner unchanged, skipping",
			logging.LeadID(leadID),
			slog.String("owner_id", d.OwnerID))
		r.emit(ctx, d, lead, start)
		return d, nil
	}

	update := map[string]any{
		FieldOwnerID:       d.OwnerID,
		FieldRoutingReason: fmt.Sprintf("%s/%s via policy %s", d.Segment, d.Region, p.Version),
	}

	if IsQueue(d.PreviousOwnerID) && !IsQueue(d.OwnerID) {
		now := r.now().UTC()
		created, ok, err := lead.Time("CreatedDate")
		switch {
		case err != nil || !ok:
			logger.WarnContext(ctx, "Lead has no usable CreatedDate, skipping assignment latency",
				logging.LeadID(leadID))
		default:
			latency := now.Sub(created)
			if latency < 0 {
				latency = 0
			}
			minutes := int(latency / time.Minute)
			d.OwnerAssignedAt = now
			d.AssignmentLatencyMinutes = &minutes
			update[FieldOwnerAssignedAt] = salesforce.FormatTime(now)
			update[FieldAssignmentLatency] = minutes
			metrics.AssignmentLatency.Observe(latency.Seconds())
		}
	}

	if err := r.store.UpdateRecord(ctx, "Lead", leadID, update); err != nil {
		d.Outcome = OutcomeError
		d.Error = err.Error()
		metrics.RoutingDecisions.WithLabelValues(d.Segment, d.Region, d.Outcome).Inc()
		logger.ErrorContext(ctx, "Failed to route lead", logging.LeadID(leadID), logging.Error(err))
		r.emit(ctx, d, lead, start)
		return d, fmt.Errorf("update lead %s: %w", leadID, err)
	}

	for field := range update {
		d.UpdatedFields = append(d.UpdatedFields, field)
	}
	sort.Strings(d.UpdatedFields)
	d.Outcome = OutcomeSuccess
	metrics.RoutingDecisions.WithLabelValues(d.Segment, d.Region, d.Outcome).Inc()
	logger.InfoContext(ctx, "Lead routed",
		logging.LeadID(leadID),
		slog.String("segment", d.Segment),
		slog.String("region", d.Region),
		slog.String("owner_id", d.OwnerID),
		slog.String("previous_owner_id", d.PreviousOwnerID))
	r.emit(ctx, d, lead, start)
	return d, nil
}

// RouteBatch routes every id, continuing past failures.
func (r *Router) RouteBatch(ctx context.Context, ids []string) BatchResult {
	res := BatchResult{Total: len(ids), Decisions: make([]Decision, 0, len(ids))}
	for _, id := range ids {
		d, err := r.RouteLead(ctx, id)
		switch {
		case err != nil:
			res.Errors++
		case d.Outcome == OutcomeSkippedSameOwner:
			res.Skipped++
		default:
			res.Success++
		}
		res.Decisions = append(res.Decisions, d)
	}
	r.logger.InfoContext(ctx, "Batch routing complete",
		slog.Int("total", res.Total),
		slog.Int("success", res.Success),
		slog.Int("skipped", res.Skipped),
		slog.Int("errors", res.Errors))
	return res
}

func (r *Router) emit(ctx context.Context, d Decision, lead salesforce.Record, start time.Time) {
	if r.log == nil {
		return
	}
	rd := flywheel.RoutingDecision{
		LeadID:          d.LeadID,
		Company:         lead.String("Company"),
		Country:         lead.String("Country"),
		Segment:         d.Segment,
		Region:          d.Region,
		OwnerID:         d.OwnerID,
		PreviousOwnerID: d.PreviousOwnerID,
		Outcome:         d.Outcome,
		PolicyVersion:   d.PolicyVersion,
		Latency:         r.now().Sub(start),
	}
	if n, ok := lead.Int("NumberOfEmployees"); ok {
		rd.Employees = &n
	}
	if err := r.log.EmitRoutingDecision(ctx, rd); err != nil {
		logging.FromContext(ctx, r.logger).WarnContext(ctx, "Failed to emit routing decision",
			logging.LeadID(d.LeadID),
			logging.Error(err))
	}
}
