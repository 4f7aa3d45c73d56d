// Package models defines the change-event envelope consumed by the CDC
// dispatcher and the parser that builds it from Salesforce CDC JSON.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChangeType is the kind of change carried by an envelope.
type ChangeType string

const (
	ChangeCreate   ChangeType = "CREATE"
	ChangeUpdate   ChangeType = "UPDATE"
	ChangeDelete   ChangeType = "DELETE"
	ChangeUndelete ChangeType = "UNDELETE"
	ChangeUnknown  ChangeType = "UNKNOWN"
)

// ParseChangeType maps a Salesforce changeType to a ChangeType. GAP_* and
// OVERFLOW events, and anything unrecognized, map to ChangeUnknown.
func ParseChangeType(s string) ChangeType {
	switch ChangeType(strings.ToUpper(strings.TrimSpace(s))) {
	case ChangeCreate:
		return ChangeCreate
	case ChangeUpdate:
		return ChangeUpdate
	case ChangeDelete:
		return ChangeDelete
	case ChangeUndelete:
		return ChangeUndelete
	default:
		return ChangeUnknown
	}
}

// HeaderKey is the payload key holding the CDC header.
const HeaderKey = "ChangeEventHeader"

// Envelope is one delivered change event.
type Envelope struct {
	Channel    string     `json:"channel"`
	ChangeType ChangeType `json:"change_type"`
	EntityName string     `json:"entity_name"`
	RecordIDs  []string   `json:"record_ids"`

	// CommitTimestamp is milliseconds since epoch; zero means absent.
	CommitTimestamp int64 `json:"commit_timestamp,omitempty"`

	// Token is the opaque resumption marker; empty means absent.
	Token string `json:"token,omitempty"`

	// Payload holds the changed record fields, without the CDC header.
	Payload map[string]any `json:"payload,omitempty"`
}

// CommitTime returns the commit timestamp and whether it was present.
func (e *Envelope) CommitTime() (time.Time, bool) {
	if e.CommitTimestamp <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(e.CommitTimestamp).UTC(), true
}

// String returns a payload field as a string. Missing, null and non-scalar
// values report false.
func (e *Envelope) String(field string) (string, bool) {
	v, ok := e.Payload[field]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// Bool returns a payload field as a bool.
func (e *Envelope) Bool(field string) (bool, bool) {
	switch t := e.Payload[field].(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(t)
		return b, err == nil
	default:
		return false, false
	}
}

// ErrMalformedEnvelope is wrapped by every ParseError.
var ErrMalformedEnvelope = errors.New("malformed CDC envelope")

// ParseError describes which part of a raw event failed validation.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrMalformedEnvelope, e.Field, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrMalformedEnvelope }

type rawEventBody struct {
	Payload map[string]any `json:"payload"`
	Event   *struct {
		ReplayID json.RawMessage `json:"replayId"`
	} `json:"event"`
}

type rawEvent struct {
	Channel string        `json:"channel"`
	Data    *rawEventBody `json:"data"`
	rawEventBody
}

// ParseEvent builds an Envelope from a Salesforce CDC event. Both the
// streaming shape {"data": {"payload": ..., "event": {"replayId": N}}} and a
// bare {"payload": ..., "event": ...} are accepted. channel overrides any
// channel named in the event.
func ParseEvent(channel string, raw []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var ev rawEvent
	if err := dec.Decode(&ev); err != nil {
		return nil, &ParseError{Field: "event", Reason: "is not valid JSON: " + err.Error()}
	}

	body := ev.rawEventBody
	if ev.Data != nil {
		body = *ev.Data
	}
	if body.Payload == nil {
		return nil, &ParseError{Field: "payload", Reason: "is missing"}
	}

	env, err := FromPayload(body.Payload)
	if err != nil {
		return nil, err
	}

	env.Channel = channel
	if env.Channel == "" {
		env.Channel = ev.Channel
	}

	if body.Event != nil && len(body.Event.ReplayID) > 0 {
		token, err := parseReplayID(body.Event.ReplayID)
		if err != nil {
			return nil, err
		}
		env.Token = token
	}

	return env, nil
}

// FromPayload builds an Envelope from a payload carrying a ChangeEventHeader.
// The header is removed from the resulting Payload.
func FromPayload(payload map[string]any) (*Envelope, error) {
	rawHeader, ok := payload[HeaderKey]
	if !ok || rawHeader == nil {
		return nil, &ParseError{Field: HeaderKey, Reason: "is missing"}
	}
	header, ok := rawHeader.(map[string]any)
	if !ok {
		return nil, &ParseError{Field: HeaderKey, Reason: "is not an object"}
	}

	env := &Envelope{Payload: make(map[string]any, len(payload))}
	for k, v := range payload {
		if k != HeaderKey {
			env.Payload[k] = v
		}
	}

	entity, ok := header["entityName"].(string)
	if !ok || entity == "" {
		return nil, &ParseError{Field: "ChangeEventHeader.entityName", Reason: "is missing or not a string"}
	}
	env.EntityName = entity

	ct, ok := header["changeType"].(string)
	if !ok {
		return nil, &ParseError{Field: "ChangeEventHeader.changeType", Reason: "is missing or not a string"}
	}
	env.ChangeType = ParseChangeType(ct)

	ids, ok := header["recordIds"].([]any)
	if !ok {
		return nil, &ParseError{Field: "ChangeEventHeader.recordIds", Reason: "is missing or not an array"}
	}
	env.RecordIDs = make([]string, 0, len(ids))
	for i, id := range ids {
		s, ok := id.(string)
		if !ok {
			return nil, &ParseError{Field: fmt.Sprintf("ChangeEventHeader.recordIds[%d]", i), Reason: "is not a string"}
		}
		env.RecordIDs = append(env.RecordIDs, s)
	}

	if ts, present := header["commitTimestamp"]; present && ts != nil {
		ms, err := toMillis(ts)
		if err != nil {
			return nil, &ParseError{Field: "ChangeEventHeader.commitTimestamp", Reason: err.Error()}
		}
		env.CommitTimestamp = ms
	}

	return env, nil
}

func toMillis(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Int64()
	case float64:
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	default:
		return 0, errors.New("is not a number")
	}
}

func parseReplayID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", &ParseError{Field: "event.replayId", Reason: "is not a valid string"}
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", &ParseError{Field: "event.replayId", Reason: "is neither a string nor a number"}
	}
	return n.String(), nil
}

// MarshalCDC renders the envelope in the Salesforce streaming shape accepted
// by ParseEvent.
func (e *Envelope) MarshalCDC() ([]byte, error) {
	payload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	header := map[string]any{
		"entityName": e.EntityName,
		"changeType": string(e.ChangeType),
		"recordIds":  e.RecordIDs,
	}
	if e.CommitTimestamp > 0 {
		header["commitTimestamp"] = e.CommitTimestamp
	}
	payload[HeaderKey] = header

	data := map[string]any{"payload": payload}
	if e.Token != "" {
		data["event"] = map[string]any{"replayId": e.Token}
	}
	return json.Marshal(map[string]any{
		"channel": e.Channel,
		"data":    data,
	})
}
