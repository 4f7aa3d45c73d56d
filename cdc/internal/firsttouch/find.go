package firsttouch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
	"github.com/leadpulse/leadpulse/common/logging"
)

// TaskTypes are the activity types that count as a response.
var TaskTypes = []string{"Call", "Email", "Meeting"}

type candidate struct {
	at          time.Time
	responderID string
	source      Source
}

// FindAndRecord looks up the earliest completed Task and the earliest
// EmailMessage for the Lead and passes the earlier of the two to Detect.
// Task wins an exact tie. With no candidate the result is StatusAbsent and
// nothing is written.
func (r *Resolver) FindAndRecord(ctx context.Context, leadID string) (Result, error) {
	task, err := r.earliestTask(ctx, leadID)
	if err != nil {
		return Result{LeadID: leadID, Status: StatusError}, err
	}
	email, err := r.earliestEmail(ctx, leadID)
	if err != nil {
		return Result{LeadID: leadID, Status: StatusError}, err
	}

	var winner *candidate
	switch {
	case task != nil && email != nil:
		if !task.at.After(email.at) {
			winner = task
		} else {
			winner = email
		}
	case task != nil:
		winner = task
	case email != nil:
		winner = email
	}

	if winner == nil {
		logging.FromContext(ctx, r.logger).InfoContext(ctx, "No first response found", logging.LeadID(leadID))
		return Result{LeadID: leadID, Status: StatusAbsent}, nil
	}
	return r.Detect(ctx, leadID, winner.at, winner.responderID, winner.source)
}

// earliestTask picks the qualifying Task with the earliest TaskTimestamp.
// SOQL cannot order by the CompletedDateTime/CreatedDate fallback, so every
// qualifying Task is read and compared here.
func (r *Resolver) earliestTask(ctx context.Context, leadID string) (*candidate, error) {
	recs, err := r.store.Query(ctx, salesforce.Query{
		SObject: "Task",
		Fields:  []string{"Id", "CreatedDate", "CompletedDateTime", "OwnerId", "Type"},
		Where: []salesforce.Condition{
			salesforce.Eq("WhoId", leadID),
			salesforce.Eq("Status", "Completed"),
			salesforce.In("Type", TaskTypes...),
		},
		OrderBy: "CompletedDateTime",
	})
	if err != nil {
		return nil, fmt.Errorf("query tasks for %s: %w", leadID, err)
	}

	var best *candidate
	for _, rec := range recs {
		at, err := TaskTimestamp(rec)
		if err != nil {
			return nil, err
		}
		if best == nil || at.Before(best.at) {
			best = &candidate{at: at, responderID: rec.String("OwnerId"), source: SourceTask}
		}
	}
	return best, nil
}

func (r *Resolver) earliestEmail(ctx context.Context, leadID string) (*candidate, error) {
	recs, err := r.store.Query(ctx, salesforce.Query{
		SObject: "EmailMessage",
		Fields:  []string{"Id", "MessageDate", "CreatedById", "FromAddress"},
		Where:   []salesforce.Condition{salesforce.Eq("RelatedToId", leadID)},
		OrderBy: "MessageDate",
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("query emails for %s: %w", leadID, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	at, ok, err := recs[0].Time("MessageDate")
	if err != nil {
		return nil, fmt.Errorf("%w: MessageDate on %s: %v", ErrMalformedTimestamp, recs[0].ID(), err)
	}
	if !ok {
		return nil, nil
	}
	return &candidate{at: at, responderID: EmailResponder(recs[0]), source: SourceEmail}, nil
}

// TaskTimestamp returns CompletedDateTime, falling back to CreatedDate.
func TaskTimestamp(rec salesforce.Record) (time.Time, error) {
	for _, field := range []string{"CompletedDateTime", "CreatedDate"} {
		at, ok, err := rec.Time(field)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s on %s: %v", ErrMalformedTimestamp, field, rec.ID(), err)
		}
		if ok {
			return at, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: task %s has no completion or creation time", ErrMalformedTimestamp, rec.ID())
}

// EmailResponder returns CreatedById, falling back to FromAddress.
func EmailResponder(rec salesforce.Record) string {
	if id := rec.String("CreatedById"); id != "" {
		return id
	}
	return rec.String("FromAddress")
}

// BackfillResult summarizes a Backfill run.
type BackfillResult struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Absent  int `json:"absent"`
	Errors  int `json:"errors"`
}

// Backfill runs FindAndRecord for every Lead created after since that has
// no first response recorded. Per-lead failures are counted, not returned.
func (r *Resolver) Backfill(ctx context.Context, since time.Time) (BackfillResult, error) {
	leads, err := r.store.Query(ctx, salesforce.Query{
		SObject: "Lead",
		Fields:  []string{"Id", "CreatedDate"},
		Where: []salesforce.Condition{
			salesforce.Gt("CreatedDate", since),
			salesforce.Eq(FieldFirstResponseAt, nil),
		},
		OrderBy: "CreatedDate",
	})
	if err != nil {
		return BackfillResult{}, fmt.Errorf("query leads: %w", err)
	}

	out := BackfillResult{Total: len(leads)}
	for _, lead := range leads {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := r.FindAndRecord(ctx, lead.ID())
		switch {
		case err != nil:
			out.Errors++
		case res.Status == StatusUpdated:
			out.Updated++
		case res.Status == StatusSkipped:
			out.Skipped++
		default:
			out.Absent++
		}
	}

	r.logger.InfoContext(ctx, "First touch backfill complete",
		slog.Int("total", out.Total),
		slog.Int("updated", out.Updated),
		slog.Int("absent", out.Absent),
		slog.Int("errors", out.Errors))
	return out, nil
}
