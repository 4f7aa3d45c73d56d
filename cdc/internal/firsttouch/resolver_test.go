package firsttouch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/flywheel"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leadID = "00Q000000000001"

func ts(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02T15:04Z", "2025-01-15T"+hhmm+"Z")
	if err != nil {
		panic(err)
	}
	return t
}

type recordingLog struct {
	mu        sync.Mutex
	decisions []flywheel.FirstTouchDecision
}

func (l *recordingLog) EmitFirstTouch(_ context.Context, d flywheel.FirstTouchDecision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, d)
	return nil
}

// failingStore fails every UpdateRecord and counts calls.
type failingStore struct {
	*salesforce.MemoryStore
	updates int
}

func (f *failingStore) UpdateRecord(context.Context, string, string, map[string]any) error {
	f.updates++
	return &salesforce.APIError{Status: 503, Body: "unavailable"}
}

func newLeadStore() *salesforce.MemoryStore {
	m := salesforce.NewMemoryStore()
	m.Put("Lead", salesforce.Record{"Id": leadID, "CreatedDate": "2025-01-15T10:00:00.000+0000"})
	return m
}

func TestDetect_FirstResponse(t *testing.T) {
	store := newLeadStore()
	log := &recordingLog{}
	r := NewResolver(store, log, nil)

	res, err := r.Detect(context.Background(), leadID, ts("10:25"), "005U2", SourceEmail)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, res.Status)
	assert.Equal(t, 25, res.TTFRMinutes)
	assert.False(t, res.ReplacedExisting)

	lead, _ := store.Snapshot("Lead", leadID)
	assert.Equal(t, "2025-01-15T10:25:00.000Z", lead[FieldFirstResponseAt])
	assert.Equal(t, "005U2", lead[FieldFirstResponder])
	assert.Equal(t, "EmailMessage", lead[FieldResponseSource])
	assert.Equal(t, 25, lead[FieldTTFR])

	require.Len(t, log.decisions, 1)
	assert.Equal(t, "updated", log.decisions[0].Status)
	require.NotNil(t, log.decisions[0].TTFRMinutes)
	assert.Equal(t, 25, *log.decisions[0].TTFRMinutes)
}

func TestDetect_TTFRFloorsPartialMinutes(t *testing.T) {
	r := NewResolver(newLeadStore(), nil, nil)

	res, err := r.Detect(context.Background(), leadID, ts("10:25").Add(59*time.Second), "005U1", SourceTask)
	require.NoError(t, err)
	assert.Equal(t, 25, res.TTFRMinutes)
}

func TestDetect_SkipsWhenExistingIsEarlierOrEqual(t *testing.T) {
	tests := []struct {
		name      string
		candidate time.Time
	}{
		{"equal", ts("10:20")},
		{"later", ts("10:45")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newLeadStore()
			require.NoError(t, store.UpdateRecord(context.Background(), "Lead", leadID, map[string]any{
				FieldFirstResponseAt: "2025-01-15T10:20:00.000Z",
				FieldFirstResponder:  "005U3",
				FieldResponseSource:  "Task",
				FieldTTFR:            20,
			}))
			before, _ := store.Snapshot("Lead", leadID)

			res, err := NewResolver(store, nil, nil).Detect(context.Background(), leadID, tt.candidate, "005U9", SourceEmail)
			require.NoError(t, err)
			assert.Equal(t, StatusSkipped, res.Status)
			assert.Equal(t, ReasonExistingEarlier, res.Reason)

			after, _ := store.Snapshot("Lead", leadID)
			assert.Equal(t, before, after)
		})
	}
}

func TestDetect_SameCandidateTwiceIsIdempotent(t *testing.T) {
	store := newLeadStore()
	r := NewResolver(store, nil, nil)
	ctx := context.Background()

	first, err := r.Detect(ctx, leadID, ts("10:30"), "005U1", SourceTask)
	require.NoError(t, err)
	require.Equal(t, StatusUpdated, first.Status)
	snap, _ := store.Snapshot("Lead", leadID)

	second, err := r.Detect(ctx, leadID, ts("10:30"), "005U1", SourceTask)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, second.Status)

	again, _ := store.Snapshot("Lead", leadID)
	assert.Equal(t, snap, again)
}

func TestDetect_ConvergesForEveryOrder(t *testing.T) {
	candidates := []struct {
		at  time.Time
		who string
		src Source
	}{
		{ts("10:40"), "005A", SourceTask},
		{ts("10:12"), "005B", SourceEmail},
		{ts("10:30"), "005C", SourceTask},
		{ts("10:55"), "005D", SourceEmail},
	}

	var permute func([]int, int, func([]int))
	permute = func(a []int, k int, visit func([]int)) {
		if k == len(a) {
			visit(a)
			return
		}
		for i := k; i < len(a); i++ {
			a[k], a[i] = a[i], a[k]
			permute(a, k+1, visit)
			a[k], a[i] = a[i], a[k]
		}
	}

	orders := 0
	permute([]int{0, 1, 2, 3}, 0, func(order []int) {
		orders++
		store := newLeadStore()
		r := NewResolver(store, nil, nil)
		for _, i := range order {
			c := candidates[i]
			_, err := r.Detect(context.Background(), leadID, c.at, c.who, c.src)
			require.NoError(t, err)
		}
		// Redelivery of everything changes nothing.
		for _, i := range order {
			c := candidates[i]
			res, err := r.Detect(context.Background(), leadID, c.at, c.who, c.src)
			require.NoError(t, err)
			assert.Equal(t, StatusSkipped, res.Status)
		}

		lead, _ := store.Snapshot("Lead", leadID)
		assert.Equal(t, "2025-01-15T10:12:00.000Z", lead[FieldFirstResponseAt], "order %v", order)
		assert.Equal(t, "005B", lead[FieldFirstResponder])
		assert.Equal(t, "EmailMessage", lead[FieldResponseSource])
		assert.Equal(t, 12, lead[FieldTTFR])
	})
	assert.Equal(t, 24, orders)
}

func TestDetect_DataIntegrityErrors(t *testing.T) {
	tests := []struct {
		name    string
		lead    salesforce.Record
		at      time.Time
		wantErr error
	}{
		{
			name:    "missing created date",
			lead:    salesforce.Record{"Id": leadID},
			at:      ts("10:25"),
			wantErr: ErrMissingCreatedDate,
		},
		{
			name:    "malformed created date",
			lead:    salesforce.Record{"Id": leadID, "CreatedDate": "last tuesday"},
			at:      ts("10:25"),
			wantErr: ErrMalformedTimestamp,
		},
		{
			name:    "malformed existing response",
			lead:    salesforce.Record{"Id": leadID, "CreatedDate": "2025-01-15T10:00:00Z", FieldFirstResponseAt: "soon"},
			at:      ts("10:25"),
			wantErr: ErrMalformedTimestamp,
		},
		{
			name:    "response before creation",
			lead:    salesforce.Record{"Id": leadID, "CreatedDate": "2025-01-15T10:00:00Z"},
			at:      ts("09:59"),
			wantErr: ErrNegativeTTFR,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := salesforce.NewMemoryStore()
			store.Put("Lead", tt.lead)

			res, err := NewResolver(store, nil, nil).Detect(context.Background(), leadID, tt.at, "005U1", SourceTask)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, StatusError, res.Status)

			after, _ := store.Snapshot("Lead", leadID)
			assert.Nil(t, after[FieldFirstResponder], "nothing is written")
		})
	}
}

func TestDetect_LeadNotFound(t *testing.T) {
	res, err := NewResolver(salesforce.NewMemoryStore(), nil, nil).Detect(context.Background(), leadID, ts("10:25"), "005U1", SourceTask)
	require.Error(t, err)
	assert.True(t, errors.Is(err, salesforce.ErrNotFound))
	assert.Equal(t, StatusError, res.Status)
}

func TestDetect_WriteFailureSurfaces(t *testing.T) {
	store := &failingStore{MemoryStore: newLeadStore()}
	log := &recordingLog{}

	res, err := NewResolver(store, log, nil).Detect(context.Background(), leadID, ts("10:25"), "005U1", SourceTask)
	require.Error(t, err)
	assert.True(t, errors.Is(err, salesforce.ErrRequest))
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 1, store.updates)

	require.Len(t, log.decisions, 1)
	assert.Equal(t, "error", log.decisions[0].Status)
	assert.Nil(t, log.decisions[0].TTFRMinutes)
}
