package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/leadpulse/cdc/internal/metrics"
	"github.com/leadpulse/leadpulse/cdc/internal/models"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
)

const taskChannel = "/data/TaskChangeEvent"

var pollStart = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

type memoryMarks struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
}

func newMemoryMarks() *memoryMarks { return &memoryMarks{values: map[string]string{}} }

func (m *memoryMarks) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryMarks) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryMarks) value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

type flakyQuerier struct {
	Querier
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyQuerier) Query(ctx context.Context, q salesforce.Query) ([]salesforce.Record, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("salesforce: 503 service unavailable")
	}
	return f.Querier.Query(ctx, q)
}

func putPolledTask(m *salesforce.MemoryStore, id string, modstamp time.Time) {
	m.Put("Task", salesforce.Record{
		"Id":                id,
		"WhoId":             "00Q000000000001",
		"Status":            "Completed",
		"CompletedDateTime": salesforce.FormatTime(modstamp),
		"SystemModstamp":    salesforce.FormatTime(modstamp),
	})
}

func newTestPoller(q Querier, marks WatermarkStore, batch int) *Poller {
	p := NewPoller(q, marks, PollConfig{Interval: 10 * time.Millisecond, BatchSize: batch}, nil)
	p.now = func() time.Time { return pollStart }
	return p
}

func TestPoller_StartsAtNowWithoutWatermark(t *testing.T) {
	store := salesforce.NewMemoryStore()
	putPolledTask(store, "00T000000000001", pollStart.Add(-time.Minute))
	putPolledTask(store, "00T000000000002", pollStart.Add(time.Minute))
	marks := newMemoryMarks()

	stream, err := newTestPoller(store, marks, 10).Subscribe(context.Background(), taskChannel, "")
	require.NoError(t, err)
	defer stream.Close()

	env, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"00T000000000002"}, env.RecordIDs)
	assert.Equal(t, models.ChangeUpdate, env.ChangeType)
	assert.Equal(t, models.EntityTask, env.EntityName)
	assert.Equal(t, taskChannel, env.Channel)
	assert.Empty(t, env.Token)
	assert.Equal(t, pollStart.Add(time.Minute).UnixMilli(), env.CommitTimestamp)
	assert.Equal(t, "00Q000000000001", env.Payload["WhoId"])
}

func TestPoller_WatermarkAdvancesAfterBatchDrains(t *testing.T) {
	store := salesforce.NewMemoryStore()
	for i, id := range []string{"00T000000000001", "00T000000000002", "00T000000000003"} {
		putPolledTask(store, id, pollStart.Add(time.Duration(i+1)*time.Second))
	}
	marks := newMemoryMarks()
	ctx := context.Background()

	stream, err := newTestPoller(store, marks, 2).Subscribe(ctx, taskChannel, "")
	require.NoError(t, err)
	defer stream.Close()

	env, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "00T000000000001", env.RecordIDs[0])

	env, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "00T000000000002", env.RecordIDs[0])

	_, ok := marks.value(WatermarkKey(models.EntityTask))
	assert.False(t, ok, "watermark must not move while the batch is in flight")

	env, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "00T000000000003", env.RecordIDs[0])

	mark, ok := marks.value("poll:Task")
	require.True(t, ok)
	assert.Equal(t, salesforce.FormatTime(pollStart.Add(2*time.Second)), mark)
}

func TestPoller_ResumesFromStoredWatermark(t *testing.T) {
	store := salesforce.NewMemoryStore()
	putPolledTask(store, "00T000000000001", pollStart.Add(-2*time.Hour))
	putPolledTask(store, "00T000000000002", pollStart.Add(-time.Hour))
	marks := newMemoryMarks()
	require.NoError(t, marks.Set(context.Background(), "poll:Task", salesforce.FormatTime(pollStart.Add(-90*time.Minute))))

	stream, err := newTestPoller(store, marks, 10).Subscribe(context.Background(), taskChannel, "")
	require.NoError(t, err)
	defer stream.Close()

	env, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "00T000000000002", env.RecordIDs[0])
}

func TestPoller_RetriesFailedQuery(t *testing.T) {
	store := salesforce.NewMemoryStore()
	putPolledTask(store, "00T000000000001", pollStart.Add(time.Second))
	q := &flakyQuerier{Querier: store, failures: 2}
	before := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues(models.EntityTask, "polling_error"))

	stream, err := newTestPoller(q, newMemoryMarks(), 10).Subscribe(context.Background(), taskChannel, "")
	require.NoError(t, err)
	defer stream.Close()

	env, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "00T000000000001", env.RecordIDs[0])
	assert.Equal(t, 3, q.calls)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues(models.EntityTask, "polling_error")))
}

// scriptedQuerier returns one canned batch per call and records the
// watermark each query used.
type scriptedQuerier struct {
	mu      sync.Mutex
	batches [][]salesforce.Record
	since   []time.Time
}

func (q *scriptedQuerier) Query(_ context.Context, query salesforce.Query) ([]salesforce.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range query.Where {
		if ts, ok := c.Value.(time.Time); ok {
			q.since = append(q.since, ts)
		}
	}
	if len(q.batches) == 0 {
		return nil, nil
	}
	batch := q.batches[0]
	q.batches = q.batches[1:]
	return batch, nil
}

func TestPoller_UnreadableModstampDoesNotStall(t *testing.T) {
	good := salesforce.Record{"Id": "00T000000000001", "SystemModstamp": salesforce.FormatTime(pollStart.Add(time.Minute))}
	bad := salesforce.Record{"Id": "00T000000000002", "SystemModstamp": "not-a-date"}
	later := salesforce.Record{"Id": "00T000000000003", "SystemModstamp": salesforce.FormatTime(pollStart.Add(5 * time.Minute))}
	q := &scriptedQuerier{batches: [][]salesforce.Record{
		{good, bad},
		{bad, later},
	}}
	marks := newMemoryMarks()
	ctx := context.Background()

	stream, err := newTestPoller(q, marks, 10).Subscribe(ctx, taskChannel, "")
	require.NoError(t, err)
	defer stream.Close()

	env, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "00T000000000001", env.RecordIDs[0])

	_, err = stream.Next(ctx)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, taskChannel, decodeErr.Channel)
	assert.Empty(t, decodeErr.Token)
	assert.Contains(t, string(decodeErr.Raw), "00T000000000002")

	env, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "00T000000000003", env.RecordIDs[0], "a rejected row is not delivered twice")

	mark, ok := marks.value(WatermarkKey(models.EntityTask))
	require.True(t, ok)
	assert.Equal(t, salesforce.FormatTime(pollStart.Add(time.Minute)), mark)

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.since, 2)
	assert.Equal(t, pollStart, q.since[0])
	assert.Equal(t, pollStart.Add(time.Minute), q.since[1])
}

func TestPoller_CloseAndCancelUnblockNext(t *testing.T) {
	store := salesforce.NewMemoryStore()
	p := newTestPoller(store, newMemoryMarks(), 10)
	p.interval = time.Hour

	stream, err := p.Subscribe(context.Background(), taskChannel, "")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, stream.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrEndOfStream)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}

	stream, err = p.Subscribe(context.Background(), taskChannel, "")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoller_SubscribeErrors(t *testing.T) {
	store := salesforce.NewMemoryStore()

	_, err := newTestPoller(store, newMemoryMarks(), 10).Subscribe(context.Background(), "/data/AccountChangeEvent", "")
	assert.ErrorContains(t, err, "no poll field list")

	marks := newMemoryMarks()
	marks.getErr = errors.New("disk on fire")
	_, err = newTestPoller(store, marks, 10).Subscribe(context.Background(), taskChannel, "")
	assert.ErrorContains(t, err, "disk on fire")

	marks = newMemoryMarks()
	marks.values["poll:Task"] = "yesterday"
	_, err = newTestPoller(store, marks, 10).Subscribe(context.Background(), taskChannel, "")
	assert.Error(t, err)
}

func TestPollFieldsCoverHandlers(t *testing.T) {
	for entity, fields := range PollFields {
		assert.Contains(t, fields, "Id", entity)
		assert.Contains(t, fields, FieldSystemModstamp, entity)
	}
	assert.Contains(t, PollFields[models.EntityTask], "CompletedDateTime")
	assert.Contains(t, PollFields[models.EntityEmailMessage], "Incoming")
	assert.Contains(t, PollFields[models.EntityLead], "NumberOfEmployees")
}
