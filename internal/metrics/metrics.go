// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline: ingest and dispatch outcomes, reprocess and backfill runs, poll
// cursor drift, and HTTP request latency. Exposed at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Total ledger ingest attempts",
		},
		[]string{"provider", "result"}, // result: inserted, duplicate, error
	)

	// Dispatch metrics
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_outcomes_total",
			Help: "Total dispatch outcomes by event kind",
		},
		[]string{"provider", "outcome"}, // outcome: applied, skipped, failed
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Duration of single-entry dispatch including fact writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Staleness guard metrics
	StaleWritesIgnored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stale_writes_ignored_total",
			Help: "Fact upserts skipped because the stored row was newer",
		},
		[]string{"fact"},
	)

	// Reprocess metrics
	ReprocessRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reprocess_runs_total",
			Help: "Total reprocessing runs started",
		},
	)

	ReprocessEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reprocess_entries_total",
			Help: "Ledger entries visited by reprocessing runs",
		},
		[]string{"outcome"},
	)

	// Poll sync metrics
	SyncCursorPosition = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_cursor_position",
			Help: "Current cursor position per poll source",
		},
		[]string{"source"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Poll sync runs by source and result",
		},
		[]string{"source", "result"}, // result: ok, error
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful poll sync",
		},
		[]string{"source"},
	)

	// Enrichment backfill metrics
	BackfillProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_entities_total",
			Help: "Entities visited by enrichment backfill",
		},
		[]string{"source", "result"}, // result: done, failed
	)

	BackfillBacklog = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backfill_backlog",
			Help: "Entities still eligible for enrichment",
		},
		[]string{"source"},
	)

	// Circuit breaker metrics for outbound provider clients
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker by result",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordIngest records one ledger ingest attempt.
func RecordIngest(provider string, inserted bool, err error) {
	result := "inserted"
	switch {
	case err != nil:
		result = "error"
	case !inserted:
		result = "duplicate"
	}
	IngestTotal.WithLabelValues(provider, result).Inc()
}

// RecordDispatch records one dispatch outcome.
func RecordDispatch(provider, outcome string, duration time.Duration) {
	DispatchTotal.WithLabelValues(provider, outcome).Inc()
	DispatchDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
