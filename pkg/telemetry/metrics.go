// Package telemetry declares the Prometheus collectors exported at /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Window store
var (
	SamplesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corridorpulse_window_samples_appended_total",
		Help: "Total number of samples accepted into corridor windows.",
	})
	MirrorWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corridorpulse_window_mirror_writes_total",
		Help: "Total number of windows written through to the durable mirror.",
	})
	MirrorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corridorpulse_window_mirror_failures_total",
		Help: "Total number of mirror writes or reads that failed or timed out.",
	})
	MirrorWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "corridorpulse_window_mirror_write_duration_seconds",
		Help:    "Duration of a single mirror write.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
	})
)

// Derivation and refresh
var (
	SnapshotsDerived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corridorpulse_derive_snapshots_total",
		Help: "Total number of snapshots computed, by status.",
	}, []string{"status"})
	RefreshCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corridorpulse_scheduler_refresh_cycles_total",
		Help: "Total number of refresh cycles run by the scheduler.",
	})
	StaleResultsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corridorpulse_scheduler_stale_results_dropped_total",
		Help: "Total number of derivations discarded because the selection changed.",
	})
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "corridorpulse_scheduler_refresh_duration_seconds",
		Help:    "Duration of a refresh cycle.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5},
	})
)

// Ingress
var (
	DetectionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corridorpulse_detect_runs_total",
		Help: "Total number of detection runs, by result.",
	}, []string{"result"})
	SamplesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corridorpulse_ingest_samples_received_total",
		Help: "Total number of samples received, by source.",
	}, []string{"source"})
	SamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corridorpulse_ingest_samples_rejected_total",
		Help: "Total number of samples rejected, by source.",
	}, []string{"source"})
)

// Fan-out
var (
	SnapshotsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corridorpulse_publish_snapshots_total",
		Help: "Total number of snapshots handed to publishers, by publisher.",
	}, []string{"publisher"})
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corridorpulse_publish_failures_total",
		Help: "Total number of failed snapshot publishes, by publisher.",
	}, []string{"publisher"})
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "corridorpulse_ws_clients",
		Help: "Number of connected websocket clients.",
	})
)

// Mirror retention
var (
	RetentionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corridorpulse_retention_runs_total",
		Help: "Total number of mirror retention runs, by result.",
	}, []string{"result"})
)

// HTTP API
var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corridorpulse_http_requests_total",
		Help: "Total number of API requests, by method, route and status.",
	}, []string{"method", "route", "status"})
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "corridorpulse_http_request_duration_seconds",
		Help:    "Duration of API requests, by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
