package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leadpulse/leadpulse/cdc/internal/handlers"
	"github.com/leadpulse/leadpulse/common/middleware"
)

// NewRouter constructs a ServeMux with the ops endpoints registered.
func NewRouter(h *handlers.OpsHandler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/ready", h.Ready)
	mux.HandleFunc("/status", h.Status)
	mux.HandleFunc("/version", h.Version)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(middleware.AccessLog(logger)(middleware.Recover(logger)(mux)))
}
