package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across the CDC service and CLI.
const (
	FieldService    = "service"
	FieldRequestID  = "request_id"
	FieldChannel    = "channel"
	FieldEntity     = "entity"
	FieldChangeType = "change_type"
	FieldReplayID   = "replay_id"
	FieldRecordIDs  = "record_ids"
	FieldLeadID     = "lead_id"
	FieldUserID     = "user_id"
	FieldWorkload   = "workload"
	FieldOutcome    = "outcome"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldQuery      = "query"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Channel returns a slog attribute for a CDC channel.
func Channel(name string) slog.Attr {
	return slog.String(FieldChannel, name)
}

// Entity returns a slog attribute for the classified entity.
func Entity(name string) slog.Attr {
	return slog.String(FieldEntity, name)
}

// ChangeType returns a slog attribute for an envelope change type.
func ChangeType(ct string) slog.Attr {
	return slog.String(FieldChangeType, ct)
}

// ReplayID returns a slog attribute for a resumption token.
func ReplayID(id string) slog.Attr {
	return slog.String(FieldReplayID, id)
}

// RecordIDs returns a slog attribute listing affected record IDs.
func RecordIDs(ids []string) slog.Attr {
	return slog.Any(FieldRecordIDs, ids)
}

// LeadID returns a slog attribute for a Lead ID.
func LeadID(id string) slog.Attr {
	return slog.String(FieldLeadID, id)
}

// UserID returns a slog attribute for the user ID.
func UserID(id string) slog.Attr {
	return slog.String(FieldUserID, id)
}

// Workload returns a slog attribute for a decision-log workload.
func Workload(id string) slog.Attr {
	return slog.String(FieldWorkload, id)
}

// Outcome returns a slog attribute for a decision outcome.
func Outcome(o string) slog.Attr {
	return slog.String(FieldOutcome, o)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Query returns a slog attribute for a query string.
func Query(query string) slog.Attr {
	return slog.String(FieldQuery, query)
}
