package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CDC stream metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_events_total",
			Help: "Total CDC events processed",
		},
		[]string{"object", "change_type"},
	)

	LagSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cdc_lag_seconds",
			Help:    "Seconds between upstream commit and local processing",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"object"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_errors_total",
			Help: "Total CDC processing errors",
		},
		[]string{"object", "error_type"},
	)

	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_reconnects_total",
			Help: "Stream reconnect attempts per channel",
		},
		[]string{"channel"},
	)

	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdc_dlq_writes_total",
			Help: "Envelopes written to the dead-letter queue",
		},
		[]string{"reason", "status"},
	)

	// First-touch metrics
	FirstResponseLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "first_response_latency_seconds",
			Help:    "Time from lead creation to first human response",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
		},
	)

	FirstResponseUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "first_response_updates_total",
			Help: "First response detection outcomes",
		},
		[]string{"outcome"},
	)

	// Routing metrics
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_decisions_total",
			Help: "Lead routing decisions",
		},
		[]string{"segment", "region", "outcome"},
	)

	AssignmentLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assignment_latency_seconds",
			Help:    "Time from lead creation to owner assignment",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 3600},
		},
	)

	// Decision log metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisions_total",
			Help: "Decisions written to the flywheel log",
		},
		[]string{"workload", "outcome"},
	)

	// Salesforce API metrics
	SFAuthRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sf_auth_requests_total",
			Help: "Salesforce OAuth token requests",
		},
		[]string{"status"},
	)

	SFAuthLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sf_auth_latency_seconds",
			Help:    "Salesforce OAuth token request latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	SFAPIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sf_api_requests_total",
			Help: "Salesforce REST API requests",
		},
		[]string{"method", "status"},
	)

	SFAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sf_api_request_duration_seconds",
			Help:    "Salesforce REST API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Build info
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "system_info",
			Help: "Build and policy information",
		},
		[]string{"version", "policy_version", "mode"},
	)
)
