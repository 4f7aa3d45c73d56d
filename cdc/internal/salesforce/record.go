// Package salesforce provides the record store used by the CDC workloads: a
// REST client authenticated with the OAuth JWT bearer flow, and an in-memory
// store with the same surface for local runs.
package salesforce

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("salesforce: record not found")

	// ErrRequest is wrapped by every failed API call.
	ErrRequest = errors.New("salesforce: request failed")
)

// DateTimeLayout is the layout written to Salesforce datetime fields.
const DateTimeLayout = "2006-01-02T15:04:05.000Z"

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
}

// ParseTime parses the datetime forms Salesforce and CDC payloads emit.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

// FormatTime renders t in DateTimeLayout, UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(DateTimeLayout)
}

// Record is a single SObject row keyed by API field name.
type Record map[string]any

// ID returns the record Id.
func (r Record) ID() string {
	return r.String("Id")
}

// String returns field as a string, or "" when absent or null.
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns field as an int. ok is false when the field is absent, null or
// not numeric.
func (r Record) Int(field string) (int, bool) {
	switch v := r[field].(type) {
	case float64:
		return int(math.Floor(v)), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// Time returns field as a time. ok is false when the field is absent or
// null; err is set when it is present but unparseable.
func (r Record) Time(field string) (t time.Time, ok bool, err error) {
	switch v := r[field].(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return v.UTC(), true, nil
	case string:
		if v == "" {
			return time.Time{}, false, nil
		}
		t, err := ParseTime(v)
		if err != nil {
			return time.Time{}, true, err
		}
		return t, true, nil
	default:
		return time.Time{}, true, fmt.Errorf("field %s has type %T, want datetime", field, v)
	}
}

// clone returns a shallow copy, limited to fields when any are given.
func (r Record) clone(fields []string) Record {
	out := make(Record, len(r))
	if len(fields) == 0 {
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	out["Id"] = r["Id"]
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}
