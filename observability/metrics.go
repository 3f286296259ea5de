// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the engine.
//
// # Description
//
// Counters, histograms, and gauges covering the three hot paths:
// session event appends, memory retrieval, and knowledge ingestion /
// search. Exposed on /metrics for Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "negentropy"

// EngineMetrics holds all Prometheus metrics for the engine. Initialize
// once at startup via InitMetrics().
type EngineMetrics struct {
	// RequestsTotal counts HTTP requests by route and status class.
	// Labels: route, status
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures handler latency.
	// Labels: route
	RequestDurationSeconds *prometheus.HistogramVec

	// EventsAppendedTotal counts session events written.
	// Labels: author (user, agent, system, tool)
	EventsAppendedTotal *prometheus.CounterVec

	// SearchesTotal counts knowledge searches by mode and outcome.
	// Labels: mode, status
	SearchesTotal *prometheus.CounterVec

	// SearchDurationSeconds measures retrieval latency by mode.
	SearchDurationSeconds *prometheus.HistogramVec

	// IngestionRunsTotal counts pipeline runs by operation and terminal
	// status. Labels: operation, status
	IngestionRunsTotal *prometheus.CounterVec

	// ChunksPersistedTotal counts chunks written by the pipeline.
	ChunksPersistedTotal prometheus.Counter

	// EmbeddingCallsTotal counts embedding provider calls.
	// Labels: status (success, error)
	EmbeddingCallsTotal *prometheus.CounterVec

	// SpansDroppedTotal counts spans dropped by the export queue.
	SpansDroppedTotal prometheus.Counter

	// ActiveRequests gauges in-flight HTTP requests.
	ActiveRequests prometheus.Gauge
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *EngineMetrics

// InitMetrics creates and registers all engine metrics on the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *EngineMetrics {
	DefaultMetrics = &EngineMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Handler latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),

		EventsAppendedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_appended_total",
				Help:      "Session events appended by author",
			},
			[]string{"author"},
		),

		SearchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "searches_total",
				Help:      "Knowledge searches by mode and outcome",
			},
			[]string{"mode", "status"},
		),

		SearchDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "search_duration_seconds",
				Help:      "Retrieval latency in seconds by mode",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"mode"},
		),

		IngestionRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ingestion_runs_total",
				Help:      "Pipeline runs by operation and terminal status",
			},
			[]string{"operation", "status"},
		),

		ChunksPersistedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "chunks_persisted_total",
				Help:      "Knowledge chunks written by the pipeline",
			},
		),

		EmbeddingCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "embedding_calls_total",
				Help:      "Embedding provider calls by outcome",
			},
			[]string{"status"},
		),

		SpansDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "spans_dropped_total",
				Help:      "Trace spans dropped by the bounded export queue",
			},
		),

		ActiveRequests: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_requests",
				Help:      "In-flight HTTP requests",
			},
		),
	}
	return DefaultMetrics
}

// ===== Recording Helpers =====
//
// Domain packages record through these nil-safe functions so they work
// before InitMetrics runs (unit tests, library use).

// RecordEventAppended counts one session event write.
func RecordEventAppended(author string) {
	if m := DefaultMetrics; m != nil {
		m.EventsAppendedTotal.WithLabelValues(author).Inc()
	}
}

// RecordSearch counts one knowledge search and its latency.
func RecordSearch(mode, status string, seconds float64) {
	if m := DefaultMetrics; m != nil {
		m.SearchesTotal.WithLabelValues(mode, status).Inc()
		m.SearchDurationSeconds.WithLabelValues(mode).Observe(seconds)
	}
}

// RecordIngestionRun counts one pipeline run reaching a terminal status.
func RecordIngestionRun(operation, status string) {
	if m := DefaultMetrics; m != nil {
		m.IngestionRunsTotal.WithLabelValues(operation, status).Inc()
	}
}

// RecordChunksPersisted counts chunks written by the pipeline.
func RecordChunksPersisted(n int) {
	if m := DefaultMetrics; m != nil {
		m.ChunksPersistedTotal.Add(float64(n))
	}
}

// RecordEmbeddingCall counts one embedding provider call by outcome.
func RecordEmbeddingCall(status string) {
	if m := DefaultMetrics; m != nil {
		m.EmbeddingCallsTotal.WithLabelValues(status).Inc()
	}
}

// RecordSpanDropped counts one span evicted from the export queue.
func RecordSpanDropped() {
	if m := DefaultMetrics; m != nil {
		m.SpansDroppedTotal.Inc()
	}
}
