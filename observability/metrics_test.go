// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// newTestMetrics builds metrics on an isolated registry so tests don't
// collide with the default registry or each other.
func newTestMetrics(t *testing.T) *EngineMetrics {
	t.Helper()
	reg := prometheus.NewRegistry()

	m := &EngineMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: metricsNamespace, Name: "requests_total", Help: "h"},
			[]string{"route", "status"}),
		EventsAppendedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: metricsNamespace, Name: "events_appended_total", Help: "h"},
			[]string{"author"}),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: metricsNamespace, Name: "searches_total", Help: "h"},
			[]string{"mode", "status"}),
		SearchDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: metricsNamespace, Name: "search_duration_seconds", Help: "h"},
			[]string{"mode"}),
		IngestionRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: metricsNamespace, Name: "ingestion_runs_total", Help: "h"},
			[]string{"operation", "status"}),
		ChunksPersistedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: metricsNamespace, Name: "chunks_persisted_total", Help: "h"}),
		EmbeddingCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: metricsNamespace, Name: "embedding_calls_total", Help: "h"},
			[]string{"status"}),
		SpansDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: metricsNamespace, Name: "spans_dropped_total", Help: "h"}),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: metricsNamespace, Name: "active_requests", Help: "h"}),
	}
	reg.MustRegister(m.RequestsTotal, m.EventsAppendedTotal, m.SearchesTotal,
		m.SearchDurationSeconds, m.IngestionRunsTotal, m.ChunksPersistedTotal,
		m.EmbeddingCallsTotal, m.SpansDroppedTotal, m.ActiveRequests)
	return m
}

func TestMetrics_Counters(t *testing.T) {
	m := newTestMetrics(t)

	m.RequestsTotal.WithLabelValues("/knowledge/base", "2xx").Inc()
	m.RequestsTotal.WithLabelValues("/knowledge/base", "2xx").Inc()
	m.RequestsTotal.WithLabelValues("/knowledge/base", "5xx").Inc()

	assert.InDelta(t, 2, testutil.ToFloat64(
		m.RequestsTotal.WithLabelValues("/knowledge/base", "2xx")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		m.RequestsTotal.WithLabelValues("/knowledge/base", "5xx")), 1e-9)

	m.EventsAppendedTotal.WithLabelValues("user").Inc()
	m.EventsAppendedTotal.WithLabelValues("agent").Add(3)
	assert.InDelta(t, 3, testutil.ToFloat64(m.EventsAppendedTotal.WithLabelValues("agent")), 1e-9)

	m.IngestionRunsTotal.WithLabelValues("ingest_url", "completed").Inc()
	assert.InDelta(t, 1, testutil.ToFloat64(
		m.IngestionRunsTotal.WithLabelValues("ingest_url", "completed")), 1e-9)
}

func TestRecordHelpers_NilSafe(t *testing.T) {
	prev := DefaultMetrics
	DefaultMetrics = nil
	defer func() { DefaultMetrics = prev }()

	RecordEventAppended("user")
	RecordSearch("hybrid", "success", 0.02)
	RecordIngestionRun("ingest_text", "completed")
	RecordChunksPersisted(10)
	RecordEmbeddingCall("success")
	RecordSpanDropped()
}

func TestRecordHelpers_Increment(t *testing.T) {
	prev := DefaultMetrics
	DefaultMetrics = newTestMetrics(t)
	defer func() { DefaultMetrics = prev }()

	RecordEventAppended("agent")
	RecordEventAppended("agent")
	RecordSearch("rrf", "error", 0.5)
	RecordIngestionRun("sync_source", "failed")
	RecordChunksPersisted(7)
	RecordEmbeddingCall("error")
	RecordSpanDropped()

	m := DefaultMetrics
	assert.InDelta(t, 2, testutil.ToFloat64(m.EventsAppendedTotal.WithLabelValues("agent")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("rrf", "error")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		m.IngestionRunsTotal.WithLabelValues("sync_source", "failed")), 1e-9)
	assert.InDelta(t, 7, testutil.ToFloat64(m.ChunksPersistedTotal), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EmbeddingCallsTotal.WithLabelValues("error")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SpansDroppedTotal), 1e-9)
}

func TestMetrics_Gauge(t *testing.T) {
	m := newTestMetrics(t)

	m.ActiveRequests.Inc()
	m.ActiveRequests.Inc()
	m.ActiveRequests.Dec()
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveRequests), 1e-9)
}
