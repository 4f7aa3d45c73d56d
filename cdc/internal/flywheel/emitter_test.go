package flywheel

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leadpulse/leadpulse/common/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmitter(t *testing.T) (*Emitter, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "flywheel")
	e, err := NewEmitter(Config{Enabled: true, LogDir: dir, ClientID: "salesforce-test"}, nil)
	require.NoError(t, err)
	e.now = func() time.Time { return time.Unix(1736935200, 0) }
	return e, dir
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "lead.route.jsonl", FileName("lead.route"))
	assert.Equal(t, "a_b_c.jsonl", FileName("a/b c"))
}

func TestEmitter_EmitFillsDefaults(t *testing.T) {
	e, dir := newTestEmitter(t)

	require.NoError(t, e.Emit(context.Background(), &Record{WorkloadID: "custom/work load", Outcome: "ok"}))

	data, err := os.ReadFile(filepath.Join(dir, "custom_work_load.jsonl"))
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(1736935200), rec.Timestamp)
	assert.Equal(t, "salesforce-test", rec.ClientID)
}

func TestEmitter_RoutingDecision(t *testing.T) {
	e, dir := newTestEmitter(t)
	employees := 250
	ctx := logging.ContextWithReplayID(context.Background(), "42183991")

	err := e.EmitRoutingDecision(ctx, RoutingDecision{
		LeadID:        "00Q000000000001",
		Company:       "Acme",
		Employees:     &employees,
		Country:       "US",
		Segment:       "MM",
		Region:        "NA",
		OwnerID:       "005000000000002",
		Outcome:       "success",
		PolicyVersion: "v1.0.0",
		Latency:       1500 * time.Microsecond,
	})
	require.NoError(t, err)

	recs, err := NewReader(dir).Read(WorkloadLeadRoute, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, WorkloadLeadRoute, rec.WorkloadID)
	assert.Equal(t, "00Q000000000001", rec.LeadID)
	assert.Equal(t, "v1.0.0", rec.PolicyVersion)
	assert.Equal(t, "42183991", rec.ReplayID)
	assert.Equal(t, "success", rec.Outcome)
	assert.InDelta(t, 1.5, rec.LatencyMS, 0.001)
	require.Len(t, rec.Request.Messages, 2)
	assert.Contains(t, rec.Request.Messages[1].Content, "Employees: 250")
	require.Len(t, rec.Response.Choices, 1)
	assert.JSONEq(t, `{"segment":"MM","region":"NA","owner_id":"005000000000002","outcome":"success"}`,
		rec.Response.Choices[0].Message.Content)
}

func TestEmitter_FirstTouch(t *testing.T) {
	e, dir := newTestEmitter(t)
	ttfr := 25

	err := e.EmitFirstTouch(context.Background(), FirstTouchDecision{
		LeadID:      "00Q000000000001",
		Source:      "EmailMessage",
		ResponderID: "005000000000002",
		Candidate:   time.Date(2025, 1, 15, 10, 25, 0, 0, time.UTC),
		Status:      "updated",
		TTFRMinutes: &ttfr,
	})
	require.NoError(t, err)

	recs, err := NewReader(dir).Read(WorkloadFirstTouch, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "updated", recs[0].Outcome)
	assert.Contains(t, recs[0].Request.Messages[1].Content, "Existing: None")
	assert.JSONEq(t, `{"status":"updated","reason":"","ttfr_minutes":25}`, recs[0].Response.Choices[0].Message.Content)
}

func TestEmitter_Disabled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "flywheel")
	e, err := NewEmitter(Config{Enabled: false, LogDir: dir}, nil)
	require.NoError(t, err)
	assert.False(t, e.Enabled())

	require.NoError(t, e.Emit(context.Background(), &Record{WorkloadID: WorkloadLeadRoute}))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestEmitter_ConcurrentWritesKeepLinesIntact(t *testing.T) {
	e, dir := newTestEmitter(t)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Emit(context.Background(), &Record{WorkloadID: WorkloadLeadRoute, Outcome: "success", LeadID: strings.Repeat("x", 2048)})
		}()
	}
	wg.Wait()

	recs, err := NewReader(dir).Read(WorkloadLeadRoute, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 40)
}
