package messaging

import "strings"

// Subject and stream names on the LeadPulse message bus.
const (
	// SubjectPrefix roots every CDC subject: cdc.data.LeadChangeEvent.
	SubjectPrefix = "cdc"

	// SubjectDLQPrefix roots dead-letter subjects: cdc.dlq.handler_error.
	SubjectDLQPrefix = "cdc.dlq"

	StreamCDCEvents = "CDC_EVENTS"
	StreamCDCDLQ    = "CDC_DLQ"
)

// SubjectForChannel maps a Salesforce channel such as /data/LeadChangeEvent
// to its subject, cdc.data.LeadChangeEvent.
func SubjectForChannel(channel string) string {
	trimmed := strings.Trim(channel, "/")
	if trimmed == "" {
		return SubjectPrefix
	}
	return SubjectPrefix + "." + strings.ReplaceAll(trimmed, "/", ".")
}

// ChannelForSubject is the inverse of SubjectForChannel.
func ChannelForSubject(subject string) string {
	rest := strings.TrimPrefix(subject, SubjectPrefix)
	rest = strings.TrimPrefix(rest, ".")
	return "/" + strings.ReplaceAll(rest, ".", "/")
}

// DLQSubject returns the dead-letter subject for a failure reason.
func DLQSubject(reason string) string {
	if reason == "" {
		reason = "unknown"
	}
	return SubjectDLQPrefix + "." + sanitizeToken(reason)
}

// sanitizeToken strips characters NATS treats specially inside a subject token.
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
