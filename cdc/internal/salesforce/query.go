package salesforce

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Op is a SOQL comparison operator.
type Op string

const (
	OpEq Op = "="
	OpIn Op = "IN"
	OpGt Op = ">"
)

// Condition is one ANDed WHERE clause term.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Eq matches field = value.
func Eq(field string, value any) Condition { return Condition{Field: field, Op: OpEq, Value: value} }

// In matches field IN (values...).
func In(field string, values ...string) Condition {
	return Condition{Field: field, Op: OpIn, Value: values}
}

// Gt matches field > value.
func Gt(field string, value any) Condition { return Condition{Field: field, Op: OpGt, Value: value} }

// Query is a SOQL SELECT built from typed parts so literal values are always
// escaped.
type Query struct {
	SObject string
	Fields  []string
	Where   []Condition
	// OrderBy is a field name; Desc flips the direction.
	OrderBy string
	Desc    bool
	Limit   int
}

// SOQL renders the query.
func (q Query) SOQL() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	fields := q.Fields
	if len(fields) == 0 {
		fields = []string{"Id"}
	}
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(q.SObject)

	for i, c := range q.Where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(c.Field)
		b.WriteString(" ")
		b.WriteString(string(c.Op))
		b.WriteString(" ")
		b.WriteString(literal(c.Value))
	}

	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
		if q.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}
	return b.String()
}

// SOQLTimeLayout is the datetime literal form used in WHERE clauses.
const SOQLTimeLayout = "2006-01-02T15:04:05Z"

func literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return quote(t)
	case []string:
		parts := make([]string, len(t))
		for i, s := range t {
			parts[i] = quote(s)
		}
		return "(" + strings.Join(parts, ",") + ")"
	case time.Time:
		return t.UTC().Format(SOQLTimeLayout)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return quote(fmt.Sprint(t))
	}
}

var soqlEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

func quote(s string) string {
	return "'" + soqlEscaper.Replace(s) + "'"
}
