// Package workloads holds the dispatcher handlers for each CDC channel.
package workloads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/firsttouch"
	"github.com/leadpulse/leadpulse/cdc/internal/models"
	"github.com/leadpulse/leadpulse/cdc/internal/routing"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
	"github.com/leadpulse/leadpulse/common/logging"
)

// LeadKeyPrefix identifies Lead record ids.
const LeadKeyPrefix = "00Q"

// LeadRouter assigns an owner to a lead.
type LeadRouter interface {
	RouteLead(ctx context.Context, leadID string) (routing.Decision, error)
}

// Detector records a first-response candidate.
type Detector interface {
	Detect(ctx context.Context, leadID string, at time.Time, responderID string, src firsttouch.Source) (firsttouch.Result, error)
}

func isLead(id string) bool { return strings.HasPrefix(id, LeadKeyPrefix) }

// LeadHandler routes newly created leads.
type LeadHandler struct {
	router LeadRouter
	logger *slog.Logger
}

func NewLeadHandler(router LeadRouter, logger *slog.Logger) *LeadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeadHandler{router: router, logger: logger.With(slog.String("handler", "lead"))}
}

// Handle routes every record of a CREATE event; other change types are
// ignored.
func (h *LeadHandler) Handle(ctx context.Context, env *models.Envelope) error {
	if env.ChangeType != models.ChangeCreate {
		return nil
	}
	var errs []error
	for _, id := range env.RecordIDs {
		if _, err := h.router.RouteLead(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("route lead %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// TaskHandler records completed tasks against leads as first responses.
type TaskHandler struct {
	detector Detector
	logger   *slog.Logger
}

func NewTaskHandler(d Detector, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{detector: d, logger: logger.With(slog.String("handler", "task"))}
}

func (h *TaskHandler) Handle(ctx context.Context, env *models.Envelope) error {
	if env.ChangeType != models.ChangeCreate && env.ChangeType != models.ChangeUpdate {
		return nil
	}
	logger := logging.FromContext(ctx, h.logger)

	leadID, _ := env.String("WhoId")
	if !isLead(leadID) {
		return nil
	}
	if status, ok := env.String("Status"); ok && status != "Completed" {
		return nil
	}

	at, ok, err := envelopeTime(env, "CompletedDateTime", "LastModifiedDate")
	if err != nil {
		return err
	}
	if !ok {
		logger.DebugContext(ctx, "Task has no completion timestamp", logging.LeadID(leadID))
		return nil
	}

	owner, _ := env.String("OwnerId")
	res, err := h.detector.Detect(ctx, leadID, at, owner, firsttouch.SourceTask)
	if err != nil {
		return fmt.Errorf("detect first touch for %s: %w", leadID, err)
	}
	logger.DebugContext(ctx, "Task first-touch check",
		logging.LeadID(leadID),
		logging.Outcome(string(res.Status)))
	return nil
}

// EmailHandler records outbound emails on leads as first responses.
type EmailHandler struct {
	detector Detector
	logger   *slog.Logger
}

func NewEmailHandler(d Detector, logger *slog.Logger) *EmailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailHandler{detector: d, logger: logger.With(slog.String("handler", "email"))}
}

func (h *EmailHandler) Handle(ctx context.Context, env *models.Envelope) error {
	if env.ChangeType != models.ChangeCreate {
		return nil
	}
	logger := logging.FromContext(ctx, h.logger)

	leadID, _ := env.String("RelatedToId")
	if !isLead(leadID) {
		return nil
	}
	if incoming, ok := env.Bool("Incoming"); ok && incoming {
		logger.DebugContext(ctx, "Ignoring inbound email", logging.LeadID(leadID))
		return nil
	}

	at, ok, err := envelopeTime(env, "MessageDate")
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	responder, ok := env.String("CreatedById")
	if !ok {
		responder, _ = env.String("FromAddress")
	}
	res, err := h.detector.Detect(ctx, leadID, at, responder, firsttouch.SourceEmail)
	if err != nil {
		return fmt.Errorf("detect first touch for %s: %w", leadID, err)
	}
	logger.DebugContext(ctx, "Email first-touch check",
		logging.LeadID(leadID),
		logging.Outcome(string(res.Status)))
	return nil
}

// envelopeTime returns the first present field as a time. A present but
// unparseable value is an error.
func envelopeTime(env *models.Envelope, fields ...string) (time.Time, bool, error) {
	for _, f := range fields {
		raw, ok := env.String(f)
		if !ok {
			continue
		}
		t, err := salesforce.ParseTime(raw)
		if err != nil {
			return time.Time{}, true, fmt.Errorf("%w: %s=%q", firsttouch.ErrMalformedTimestamp, f, raw)
		}
		return t, true, nil
	}
	return time.Time{}, false, nil
}
