// Package fleetmetrics provides the Prometheus metrics exported by the
// fleet server's /metrics endpoint and the agent's own operational counters.
package fleetmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Server: ingestion ──────────────────────────────────────────────────────

// IngestLatency, IngestTotal, MachinesActive and CommandsEnqueued are
// registered, and so exported on /metrics, but no code in this module
// records into them: they stay at their zero values.

// IngestLatency tracks /api/fleet/report handler latency in seconds.
var IngestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "atlas",
	Subsystem: "fleet",
	Name:      "ingest_latency_seconds",
	Help:      "Latency of the report ingestion handler.",
	Buckets:   prometheus.DefBuckets,
})

// IngestTotal counts accepted vs rejected reports by outcome.
var IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Subsystem: "fleet",
	Name:      "ingest_total",
	Help:      "Total ingested reports by outcome.",
}, []string{"outcome"})

// MachinesActive tracks the number of machines currently classified online.
var MachinesActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "atlas",
	Subsystem: "fleet",
	Name:      "machines_online",
	Help:      "Number of machines currently classified online.",
})

// CommandsEnqueued counts commands enqueued by type.
var CommandsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Subsystem: "fleet",
	Name:      "commands_enqueued_total",
	Help:      "Total commands enqueued by type.",
}, []string{"type"})

// ─── Server: auth ───────────────────────────────────────────────────────────

// LoginAttempts counts login attempts by outcome.
var LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Subsystem: "auth",
	Name:      "login_attempts_total",
	Help:      "Total login attempts by outcome.",
}, []string{"outcome"})

// ─── Agent: monitors ────────────────────────────────────────────────────────

// MonitorSampleFailures counts sampler failures by monitor and failure kind.
var MonitorSampleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Subsystem: "agent",
	Name:      "monitor_sample_failures_total",
	Help:      "Total sampler failures by monitor and kind.",
}, []string{"monitor", "kind"})

// ReporterPostLatency tracks the agent's HTTP POST latency to the server.
var ReporterPostLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "atlas",
	Subsystem: "agent",
	Name:      "reporter_post_latency_seconds",
	Help:      "Latency of the periodic report POST.",
	Buckets:   prometheus.DefBuckets,
})

// ReporterBackoffSeconds tracks the current backoff delay, 0 when healthy.
var ReporterBackoffSeconds = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "atlas",
	Subsystem: "agent",
	Name:      "reporter_backoff_seconds",
	Help:      "Current reporter backoff delay in seconds (0 when not backing off).",
})
