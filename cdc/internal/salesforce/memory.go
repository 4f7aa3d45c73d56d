package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process record store evaluating Query structurally.
// Updates are applied under one lock, so multi-field writes are atomic.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]map[string]Record
	nextID  int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]map[string]Record)}
}

// Put inserts or replaces rec, which must carry an Id.
func (m *MemoryStore) Put(sobject string, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(sobject, rec.clone(nil))
}

func (m *MemoryStore) put(sobject string, rec Record) {
	objs, ok := m.objects[sobject]
	if !ok {
		objs = make(map[string]Record)
		m.objects[sobject] = objs
	}
	objs[rec.ID()] = rec
}

// Snapshot returns a copy of a stored record.
func (m *MemoryStore) Snapshot(sobject, id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.objects[sobject][id]
	if !ok {
		return nil, false
	}
	return rec.clone(nil), true
}

func (m *MemoryStore) GetRecord(_ context.Context, sobject, id string, fields []string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.objects[sobject][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, sobject, id)
	}
	return rec.clone(fields), nil
}

func (m *MemoryStore) UpdateRecord(_ context.Context, sobject, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.objects[sobject][id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, sobject, id)
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

// CreateRecord inserts fields with a generated Id unless one is given.
func (m *MemoryStore) CreateRecord(_ context.Context, sobject string, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := Record(fields).clone(nil)
	if rec.ID() == "" {
		m.nextID++
		rec["Id"] = fmt.Sprintf("%s%012d", keyPrefix(sobject), m.nextID)
	}
	m.put(sobject, rec)
	return rec.ID(), nil
}

func keyPrefix(sobject string) string {
	switch sobject {
	case "Lead":
		return "00Q"
	case "Task":
		return "00T"
	case "EmailMessage":
		return "02s"
	case "User":
		return "005"
	default:
		return "a00"
	}
}

func (m *MemoryStore) Query(_ context.Context, q Query) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.objects[q.SObject] {
		match, err := matches(rec, q.Where)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, rec)
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareField(out[i], out[j], q.OrderBy)
			if c == 0 {
				c = strings.Compare(out[i].ID(), out[j].ID())
			}
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for i, rec := range out {
		out[i] = rec.clone(q.Fields)
	}
	return out, nil
}

func matches(rec Record, conds []Condition) (bool, error) {
	for _, c := range conds {
		switch c.Op {
		case OpEq:
			if c.Value == nil {
				if rec[c.Field] != nil {
					return false, nil
				}
				continue
			}
			want := Record{"v": c.Value}.String("v")
			if rec[c.Field] == nil || rec.String(c.Field) != want {
				return false, nil
			}
		case OpIn:
			values, ok := c.Value.([]string)
			if !ok {
				return false, fmt.Errorf("IN on %s needs []string, got %T", c.Field, c.Value)
			}
			got := rec.String(c.Field)
			found := false
			for _, v := range values {
				if v == got {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case OpGt:
			if ts, ok := c.Value.(time.Time); ok {
				t, present, err := rec.Time(c.Field)
				if err != nil || !present || !t.Truncate(time.Second).After(ts.Truncate(time.Second)) {
					return false, nil
				}
				continue
			}
			floor := Record{"v": c.Value}.String("v")
			if rec.String(c.Field) <= floor {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %q", c.Op)
		}
	}
	return true, nil
}

// compareField orders by time when both values parse, otherwise by string.
// Missing values sort first, as Salesforce orders NULLS FIRST ascending.
func compareField(a, b Record, field string) int {
	ta, okA, errA := a.Time(field)
	tb, okB, errB := b.Time(field)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	if errA == nil && errB == nil {
		return ta.Compare(tb)
	}
	return strings.Compare(a.String(field), b.String(field))
}

// Fixtures is the on-disk form of a MemoryStore: records grouped by SObject.
type Fixtures map[string][]Record

// LoadFixtures adds every record in the JSON file at path.
func (m *MemoryStore) LoadFixtures(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixtures: %w", err)
	}
	var fx Fixtures
	if err := json.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("failed to decode fixtures: %w", err)
	}
	for sobject, recs := range fx {
		for _, rec := range recs {
			if rec.ID() == "" {
				return fmt.Errorf("fixture %s record without Id", sobject)
			}
			m.Put(sobject, rec)
		}
	}
	return nil
}

// SaveFixtures writes every record to path as JSON.
func (m *MemoryStore) SaveFixtures(path string) error {
	m.mu.RLock()
	fx := make(Fixtures, len(m.objects))
	for sobject, objs := range m.objects {
		for _, rec := range objs {
			fx[sobject] = append(fx[sobject], rec.clone(nil))
		}
		sort.Slice(fx[sobject], func(i, j int) bool { return fx[sobject][i].ID() < fx[sobject][j].ID() })
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(fx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode fixtures: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
