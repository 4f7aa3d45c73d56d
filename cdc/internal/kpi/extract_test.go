package kpi

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/leadpulse/cdc/internal/flywheel"
	"github.com/leadpulse/leadpulse/cdc/internal/routing"
	"github.com/leadpulse/leadpulse/cdc/internal/salesforce"
)

var reportNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func putLead(m *salesforce.MemoryStore, id string, created time.Time, owner string, assignedAfter time.Duration, ttfr any, source string) {
	rec := salesforce.Record{
		"Id":             id,
		"CreatedDate":    salesforce.FormatTime(created),
		"SystemModstamp": salesforce.FormatTime(created.Add(assignedAfter)),
	}
	if owner != "" {
		rec["OwnerId"] = owner
	}
	if source != "" {
		rec["First_Response_At__c"] = salesforce.FormatTime(created.Add(time.Hour))
		rec["First_Response_Source__c"] = source
		if ttfr != nil {
			rec["Time_to_First_Response__c"] = ttfr
		}
	}
	m.Put("Lead", rec)
}

func newReportStore() *salesforce.MemoryStore {
	m := salesforce.NewMemoryStore()
	day := reportNow.AddDate(0, 0, -9)
	putLead(m, "00Q000000000001", day, "005A", 30*time.Second, 10, "Task")
	putLead(m, "00Q000000000002", day.Add(time.Hour), "005B", 90*time.Second, float64(25), "EmailMessage")
	putLead(m, "00Q000000000003", day.Add(2*time.Hour), "", 0, 45, "Task")
	putLead(m, "00Q000000000004", day.Add(3*time.Hour), "005A", 150*time.Second, 90, "Task")
	putLead(m, "00Q000000000005", day.Add(4*time.Hour), "005C", time.Minute, nil, "")
	putLead(m, "00Q000000000006", day.Add(5*time.Hour), "005C", time.Minute, nil, "Task")
	putLead(m, "00Q000000000007", reportNow.AddDate(0, -3, 0), "005A", time.Second, 5, "Task")
	return m
}

func writeRoutingLog(t *testing.T, dir string, records ...*flywheel.Record) {
	t.Helper()
	e, err := flywheel.NewEmitter(flywheel.Config{Enabled: true, LogDir: dir, ClientID: "kpi-test"}, nil)
	require.NoError(t, err)
	for _, rec := range records {
		rec.WorkloadID = flywheel.WorkloadLeadRoute
		require.NoError(t, e.Emit(context.Background(), rec))
	}
}

func routed(ts time.Time, outcome, segment, region, version string, latencyMS float64) *flywheel.Record {
	rec := &flywheel.Record{
		Timestamp:     ts.Unix(),
		Outcome:       outcome,
		PolicyVersion: version,
		LatencyMS:     latencyMS,
	}
	if segment != "" {
		content, _ := json.Marshal(map[string]string{"segment": segment, "region": region, "outcome": outcome})
		rec.Response.Choices = []flywheel.Choice{{Message: flywheel.Message{Role: "assistant", Content: string(content)}}}
	}
	return rec
}

func newTestExtractor(store Querier, logDir string) *Extractor {
	e := NewExtractor(store, flywheel.NewReader(logDir), 0, nil)
	e.now = func() time.Time { return reportNow }
	return e
}

func TestTTFR(t *testing.T) {
	e := newTestExtractor(newReportStore(), t.TempDir())

	report, err := e.TTFR(context.Background(), reportNow.AddDate(0, 0, -30))
	require.NoError(t, err)

	assert.Equal(t, 4, report.TotalResponses)
	assert.Equal(t, 1, report.Skipped, "a response without TTFR is not counted")
	assert.InDelta(t, 35, report.Minutes.Median, 1e-9)
	assert.InDelta(t, 83.25, report.Minutes.P95, 1e-9)
	assert.Equal(t, 90.0, report.Minutes.Max)
	assert.InDelta(t, 42.5, report.Minutes.Avg, 1e-9)

	assert.Equal(t, 60.0, report.SLA.ThresholdMinutes)
	assert.Equal(t, 3, report.SLA.Within)
	assert.Equal(t, 1, report.SLA.Breached)
	assert.InDelta(t, 0.25, report.SLA.BreachRate, 1e-9)

	assert.Equal(t, []Bucket{
		{Label: "0-15min", Count: 1},
		{Label: "15-30min", Count: 1},
		{Label: "30-60min", Count: 1},
		{Label: "60min+", Count: 1},
	}, report.Distribution)
	assert.Equal(t, map[string]int{"Task": 3, "EmailMessage": 1}, report.BySource)
}

func TestTTFR_CustomSLA(t *testing.T) {
	e := NewExtractor(newReportStore(), flywheel.NewReader(t.TempDir()), 20*time.Minute, nil)

	report, err := e.TTFR(context.Background(), reportNow.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 20.0, report.SLA.ThresholdMinutes)
	assert.Equal(t, 3, report.SLA.Breached)
}

func TestTTFR_NoData(t *testing.T) {
	e := newTestExtractor(newReportStore(), t.TempDir())

	_, err := e.TTFR(context.Background(), reportNow)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRouting(t *testing.T) {
	dir := t.TempDir()
	inPeriod := reportNow.AddDate(0, 0, -2)
	writeRoutingLog(t, dir,
		routed(inPeriod, routing.OutcomeSuccess, "SMB", "NA", "1.0.0", 2),
		routed(inPeriod.Add(time.Minute), routing.OutcomeSuccess, "ENT", "EMEA", "1.0.0", 4),
		routed(inPeriod.Add(2*time.Minute), routing.OutcomeSkippedSameOwner, "SMB", "NA", "1.0.1", 6),
		routed(inPeriod.Add(3*time.Minute), routing.OutcomeError, "", "", "", 8),
		routed(reportNow.AddDate(0, -2, 0), routing.OutcomeSuccess, "SMB", "NA", "0.9.0", 1),
	)
	e := newTestExtractor(newReportStore(), dir)

	report, err := e.Routing(context.Background(), reportNow.AddDate(0, 0, -30))
	require.NoError(t, err)

	assert.Equal(t, 4, report.TotalRouted)
	assert.Equal(t, map[string]int{
		routing.OutcomeSuccess:          2,
		routing.OutcomeSkippedSameOwner: 1,
		routing.OutcomeError:            1,
	}, report.Outcomes)
	assert.Equal(t, map[string]int{"SMB": 2, "ENT": 1}, report.BySegment)
	assert.Equal(t, map[string]int{"NA": 2, "EMEA": 1}, report.ByRegion)
	assert.Equal(t, map[string]int{"1.0.0": 2, "1.0.1": 1}, report.ByPolicyVersion)
	assert.InDelta(t, 5, report.DecisionLatencyMS.Median, 1e-9)
	assert.Equal(t, 8.0, report.DecisionLatencyMS.Max)

	assert.Equal(t, 5, report.AssignmentLatency.Count, "only owned leads in the period")
	assert.InDelta(t, 60, report.AssignmentLatency.Median, 1e-9)
	assert.Equal(t, 150.0, report.AssignmentLatency.Max)
}

func TestRouting_NoLog(t *testing.T) {
	e := newTestExtractor(newReportStore(), t.TempDir())

	_, err := e.Routing(context.Background(), reportNow.AddDate(0, 0, -30))
	assert.ErrorIs(t, err, ErrNoData)
}

type failingQuerier struct{ err error }

func (f failingQuerier) Query(context.Context, salesforce.Query) ([]salesforce.Record, error) {
	return nil, f.err
}

func TestDashboard(t *testing.T) {
	e := newTestExtractor(newReportStore(), t.TempDir())

	d, err := e.Dashboard(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, reportNow, d.GeneratedAt)
	assert.Equal(t, 30, d.PeriodDays)
	assert.Equal(t, 60.0, d.SLAMinutes)
	require.NotNil(t, d.TTFR)
	assert.Equal(t, 4, d.TTFR.TotalResponses)
	assert.Nil(t, d.Routing)
	assert.Contains(t, d.Missing["routing"], ErrNoData.Error())

	dir := filepath.Join(t.TempDir(), "reports")
	path, err := d.Save(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dashboard_20250310.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var saved Dashboard
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, d.TTFR.Minutes, saved.TTFR.Minutes)
	assert.Equal(t, d.Missing, saved.Missing)
}

func TestDashboard_Errors(t *testing.T) {
	e := newTestExtractor(failingQuerier{err: errors.New("salesforce: 401 INVALID_SESSION_ID")}, t.TempDir())

	_, err := e.Dashboard(context.Background(), 30)
	assert.ErrorContains(t, err, "INVALID_SESSION_ID")

	_, err = e.Dashboard(context.Background(), 0)
	assert.Error(t, err)
}
