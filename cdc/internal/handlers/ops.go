// Package handlers serves the CDC service's operational HTTP endpoints.
package handlers

import (
	"context"
	"net/http"

	"github.com/leadpulse/leadpulse/cdc/internal/dispatcher"
	"github.com/leadpulse/leadpulse/common/httputil"
	"github.com/leadpulse/leadpulse/common/messaging"
)

// StatusReporter produces the consumer health snapshot.
type StatusReporter interface {
	Status(ctx context.Context) dispatcher.Status
}

// PolicyVersioner reports the active routing policy version.
type PolicyVersioner interface {
	Version() string
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Service string
	Version string
}

// OpsHandler serves health, readiness, status and version.
type OpsHandler struct {
	status StatusReporter
	policy PolicyVersioner
	build  BuildInfo
	broker messaging.Client
}

func NewOpsHandler(status StatusReporter, policy PolicyVersioner, build BuildInfo) *OpsHandler {
	return &OpsHandler{status: status, policy: policy, build: build}
}

// WithBroker adds the message broker connection to health and readiness.
func (h *OpsHandler) WithBroker(c messaging.Client) *OpsHandler {
	h.broker = c
	return h
}

func (h *OpsHandler) brokerHealth() *messaging.HealthStatus {
	if h.broker == nil {
		return nil
	}
	hs := messaging.CheckClientHealth(h.broker)
	return &hs
}

type healthResponse struct {
	Health string                  `json:"status"`
	Broker *messaging.HealthStatus `json:"broker,omitempty"`
	dispatcher.Status
}

// Health reports liveness along with the consumer snapshot.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Health: "healthy",
		Broker: h.brokerHealth(),
		Status: h.status.Status(r.Context()),
	})
}

// Ready returns 503 until every channel has subscribed and while the broker
// is disconnected.
func (h *OpsHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	st := h.status.Status(r.Context())
	if !st.Ready {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "not_ready",
			"channels": st.Channels,
		})
		return
	}
	if broker := h.brokerHealth(); broker != nil && !broker.Connected {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"broker": broker,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// Status returns the full consumer snapshot.
func (h *OpsHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.status.Status(r.Context()))
}

// Version reports build and policy versions.
func (h *OpsHandler) Version(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	policy := ""
	if h.policy != nil {
		policy = h.policy.Version()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"service":        h.build.Service,
		"version":        h.build.Version,
		"policy_version": policy,
	})
}
