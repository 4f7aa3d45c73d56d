package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpsClient(t *testing.T) {
	client := NewOpsClient("http://localhost:8080/")

	assert.Equal(t, "http://localhost:8080", client.baseURL)
	assert.Equal(t, 10*time.Second, client.client.Timeout)
}

func TestStatus_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"mode": "jetstream",
			"channels": ["/data/LeadChangeEvent"],
			"handlers_registered": ["/data/LeadChangeEvent"],
			"replay_ids": {"/data/LeadChangeEvent": "42183991"},
			"last_event_times": {"/data/LeadChangeEvent": {"timestamp": "2025-03-10T12:00:00Z", "seconds_ago": 3.5}},
			"ready": true
		}`))
	}))
	defer server.Close()

	st, err := NewOpsClient(server.URL).Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "jetstream", st.Mode)
	assert.True(t, st.Ready)
	assert.Equal(t, "42183991", st.ReplayIDs["/data/LeadChangeEvent"])
	assert.InDelta(t, 3.5, st.LastEventTimes["/data/LeadChangeEvent"].SecondsAgo, 0.001)
}

func TestStatus_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewOpsClient(server.URL).Status(context.Background())
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "boom", se.Body)
}

func TestStatus_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	_, err := NewOpsClient(server.URL).Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode /status")
}

func TestReady(t *testing.T) {
	var ready atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ready", r.URL.Path)
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not_ready"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	}))
	defer server.Close()

	c := NewOpsClient(server.URL)
	err := c.Ready(context.Background())
	require.ErrorIs(t, err, ErrNotReady)

	ready.Store(true)
	assert.NoError(t, c.Ready(context.Background()))
}

func TestVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"service":"leadpulse-cdc","version":"1.4.0","policy_version":"v1.2.0"}`))
	}))
	defer server.Close()

	v, err := NewOpsClient(server.URL).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, VersionInfo{Service: "leadpulse-cdc", Version: "1.4.0", PolicyVersion: "v1.2.0"}, v)
}

func TestConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewOpsClient(url).Status(context.Background())
	assert.Error(t, err)
}
