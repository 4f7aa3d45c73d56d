package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpulse/leadpulse/cdc/internal/dispatcher"
)

type fakeStatus struct{ st dispatcher.Status }

func (f fakeStatus) Status(context.Context) dispatcher.Status { return f.st }

func TestReady_ListsChannelsWhenNotReady(t *testing.T) {
	h := NewOpsHandler(fakeStatus{dispatcher.Status{Channels: []string{"/data/TaskChangeEvent"}}}, nil, BuildInfo{})

	w := httptest.NewRecorder()
	h.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"not_ready","channels":["/data/TaskChangeEvent"]}`, w.Body.String())
}

func TestVersion_WithoutPolicy(t *testing.T) {
	h := NewOpsHandler(fakeStatus{}, nil, BuildInfo{Service: "leadpulse-cdc", Version: "dev"})

	w := httptest.NewRecorder()
	h.Version(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "", body["policy_version"])
	assert.Equal(t, "dev", body["version"])
}

func TestHealth_EmbedsSnapshot(t *testing.T) {
	h := NewOpsHandler(fakeStatus{dispatcher.Status{Mode: "poll", Error: "subscribe failed"}}, nil, BuildInfo{})

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "poll", body["mode"])
	assert.Equal(t, "subscribe failed", body["error"])
}

type fakeBroker struct{ connected bool }

func (fakeBroker) Publish(context.Context, string, []byte) error { return nil }
func (fakeBroker) Close() error                                  { return nil }
func (b fakeBroker) IsConnected() bool                           { return b.connected }

func TestReady_BrokerDisconnected(t *testing.T) {
	h := NewOpsHandler(fakeStatus{dispatcher.Status{Ready: true}}, nil, BuildInfo{}).WithBroker(fakeBroker{})

	w := httptest.NewRecorder()
	h.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"not_ready","broker":{"connected":false,"error":"not connected to message broker"}}`, w.Body.String())

	h.WithBroker(fakeBroker{connected: true})
	w = httptest.NewRecorder()
	h.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Contains(t, w.Body.String(), `"broker":{"connected":true}`)
}

func TestOps_RejectNonGet(t *testing.T) {
	h := NewOpsHandler(fakeStatus{}, nil, BuildInfo{})
	for name, fn := range map[string]http.HandlerFunc{
		"health":  h.Health,
		"ready":   h.Ready,
		"status":  h.Status,
		"version": h.Version,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			fn(w, httptest.NewRequest(http.MethodDelete, "/", nil))
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		})
	}
}
