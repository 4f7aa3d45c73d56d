// Package firsttouch records the earliest human response to a Lead.
//
// A candidate response is written only when it is strictly earlier than the
// one already on the Lead, and all four response fields are written in one
// update. Applying any permutation of candidates, any number of times,
// converges on the globally earliest one.
package firsttouch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/flywheel"
	"github.com/leadpulse/leadpulse/cdc/internal/metrics"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
	"github.com/leadpulse/leadpulse/common/logging"
)

// Source is the kind of activity that produced a response.
type Source string

const (
	SourceTask  Source = "Task"
	SourceEmail Source = "EmailMessage"
)

// Status is the outcome of a detection.
type Status string

const (
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped"
	StatusAbsent  Status = "absent"
	StatusError   Status = "error"
)

// ReasonExistingEarlier is set on a skip when the recorded response is not
// later than the candidate.
const ReasonExistingEarlier = "existing_earlier"

var (
	ErrMissingCreatedDate = errors.New("lead missing CreatedDate")
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	ErrNegativeTTFR       = errors.New("response precedes lead creation")
)

// Lead fields read and written by the resolver.
const (
	FieldCreatedDate     = "CreatedDate"
	FieldFirstResponseAt = "First_Response_At__c"
	FieldFirstResponder  = "First_Response_User__c"
	FieldResponseSource  = "First_Response_Source__c"
	FieldTTFR            = "Time_to_First_Response__c"
)

var leadFields = []string{"Id", FieldCreatedDate, FieldFirstResponseAt, FieldFirstResponder, FieldResponseSource, FieldTTFR}

// Result describes what Detect or FindAndRecord did.
type Result struct {
	Status           Status    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	LeadID           string    `json:"lead_id"`
	Source           Source    `json:"source,omitempty"`
	ResponderID      string    `json:"responder_id,omitempty"`
	FirstResponseAt  time.Time `json:"first_response_at,omitempty"`
	Existing         time.Time `json:"existing,omitempty"`
	TTFRMinutes      int       `json:"ttfr_minutes"`
	ReplacedExisting bool      `json:"replaced_existing"`
}

// RecordStore is the subset of the Salesforce API the resolver needs.
type RecordStore interface {
	GetRecord(ctx context.Context, sobject, id string, fields []string) (salesforce.Record, error)
	UpdateRecord(ctx context.Context, sobject, id string, fields map[string]any) error
	Query(ctx context.Context, q salesforce.Query) ([]salesforce.Record, error)
}

// DecisionLog receives every detection outcome.
type DecisionLog interface {
	EmitFirstTouch(ctx context.Context, d flywheel.FirstTouchDecision) error
}

// Resolver applies the earliest-response-wins rule.
type Resolver struct {
	store  RecordStore
	log    DecisionLog
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver returns a Resolver. log may be nil.
func NewResolver(store RecordStore, log DecisionLog, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		log:    log,
		logger: logger.With(slog.String("component", "firsttouch")),
		now:    time.Now,
	}
}

// Detect records at as the Lead's first response unless an equal or earlier
// response is already recorded.
func (r *Resolver) Detect(ctx context.Context, leadID string, at time.Time, responderID string, src Source) (Result, error) {
	start := r.now()
	at = at.UTC().Truncate(time.Millisecond)

	res, err := r.detect(ctx, leadID, at, responderID, src)
	if err != nil {
		res.Status = StatusError
		metrics.FirstResponseUpdates.WithLabelValues(string(StatusError)).Inc()
		logging.FromContext(ctx, r.logger).ErrorContext(ctx, "First touch detection failed",
			logging.LeadID(leadID),
			logging.Error(err))
	}
	r.emit(ctx, res, at, r.now().Sub(start))
	return res, err
}

func (r *Resolver) detect(ctx context.Context, leadID string, at time.Time, responderID string, src Source) (Result, error) {
	res := Result{LeadID: leadID, Source: src, ResponderID: responderID, FirstResponseAt: at}
	logger := logging.FromContext(ctx, r.logger)

	lead, err := r.store.GetRecord(ctx, "Lead", leadID, leadFields)
	if err != nil {
		return res, fmt.Errorf("get lead %s: %w", leadID, err)
	}

	existing, hasExisting, err := lead.Time(FieldFirstResponseAt)
	if err != nil {
		return res, fmt.Errorf("%w: %s on lead %s: %v", ErrMalformedTimestamp, FieldFirstResponseAt, leadID, err)
	}
	if hasExisting {
		res.Existing = existing
		if !existing.After(at) {
			res.Status = StatusSkipped
			res.Reason = ReasonExistingEarlier
			metrics.FirstResponseUpdates.WithLabelValues(string(StatusSkipped)).Inc()
			logger.InfoContext(ctx, "Existing first response is not later, skipping",
				logging.LeadID(leadID),
				slog.Time("existing", existing),
				slog.Time("candidate", at))
			return res, nil
		}
	}

	created, ok, err := lead.Time(FieldCreatedDate)
	if err != nil {
		return res, fmt.Errorf("%w: %s on lead %s: %v", ErrMalformedTimestamp, FieldCreatedDate, leadID, err)
	}
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrMissingCreatedDate, leadID)
	}

	elapsed := at.Sub(created)
	if elapsed < 0 {
		return res, fmt.Errorf("%w: lead %s created %s, response %s", ErrNegativeTTFR, leadID,
			salesforce.FormatTime(created), salesforce.FormatTime(at))
	}
	res.TTFRMinutes = int(elapsed / time.Minute)
	res.ReplacedExisting = hasExisting

	err = r.store.UpdateRecord(ctx, "Lead", leadID, map[string]any{
		FieldFirstResponseAt: salesforce.FormatTime(at),
		FieldFirstResponder:  responderID,
		FieldResponseSource:  string(src),
		FieldTTFR:            res.TTFRMinutes,
	})
	if err != nil {
		return res, fmt.Errorf("update lead %s: %w", leadID, err)
	}

	res.Status = StatusUpdated
	metrics.FirstResponseLatency.Observe(elapsed.Seconds())
	metrics.FirstResponseUpdates.WithLabelValues(string(StatusUpdated)).Inc()
	logger.InfoContext(ctx, "First touch recorded",
		logging.LeadID(leadID),
		logging.UserID(responderID),
		slog.String("source", string(src)),
		slog.Int("ttfr_minutes", res.TTFRMinutes),
		slog.Bool("replaced_existing", res.ReplacedExisting))
	return res, nil
}

func (r *Resolver) emit(ctx context.Context, res Result, at time.Time, latency time.Duration) {
	if r.log == nil {
		return
	}
	d := flywheel.FirstTouchDecision{
		LeadID:      res.LeadID,
		Source:      string(res.Source),
		ResponderID: res.ResponderID,
		Candidate:   at,
		Existing:    res.Existing,
		Status:      string(res.Status),
		Reason:      res.Reason,
		Latency:     latency,
	}
	if res.Status == StatusUpdated {
		ttfr := res.TTFRMinutes
		d.TTFRMinutes = &ttfr
	}
	if err := r.log.EmitFirstTouch(ctx, d); err != nil {
		logging.FromContext(ctx, r.logger).WarnContext(ctx, "Failed to emit first touch decision",
			logging.LeadID(res.LeadID),
			logging.Error(err))
	}
}
