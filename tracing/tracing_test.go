// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// newTestProvider wires a provider straight into a memory store with a
// synchronous (simple) processor, so spans land on End.
func newTestProvider(t *testing.T, store SpanStore, extra ...sdktrace.SpanProcessor) (*sdktrace.TracerProvider, *DBExporter) {
	t.Helper()
	exporter := NewDBExporter(store, nil, 4, 16, time.Hour)
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	}
	for _, p := range extra {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = exporter.Shutdown(context.Background())
	})
	return tp, exporter
}

func TestDBExporter_WritesSpans(t *testing.T) {
	store := NewMemorySpanStore()
	tp, exporter := newTestProvider(t, store)

	ctx, span := tp.Tracer("test").Start(context.Background(), "engine.operation")
	span.AddEvent("checkpoint")
	_, child := tp.Tracer("test").Start(ctx, "engine.child")
	child.End()
	span.End()

	require.NoError(t, exporter.Flush(context.Background()))

	traceID := span.SpanContext().TraceID().String()
	spans, err := store.ListByTrace(context.Background(), traceID)
	require.NoError(t, err)
	require.Len(t, spans, 2)

	byName := map[string]struct{ parent string }{}
	for _, s := range spans {
		byName[s.OperationName] = struct{ parent string }{s.ParentSpanID}
		assert.NotNil(t, s.DurationNs)
		assert.NotNil(t, s.EndTime)
	}
	require.Contains(t, byName, "engine.operation")
	require.Contains(t, byName, "engine.child")
	assert.Empty(t, byName["engine.operation"].parent)
	assert.Equal(t, span.SpanContext().SpanID().String(), byName["engine.child"].parent)
}

func TestDBExporter_DropsOldestOnOverflow(t *testing.T) {
	store := NewMemorySpanStore()
	// Tiny queue, manual flush only.
	exporter := NewDBExporter(store, nil, 100, 2, time.Hour)
	defer exporter.Shutdown(context.Background())

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	defer tp.Shutdown(context.Background())

	for i := 0; i < 5; i++ {
		_, span := tp.Tracer("test").Start(context.Background(), "noisy")
		span.End()
	}

	exporter.mu.Lock()
	queued := len(exporter.queue)
	dropped := exporter.dropped
	exporter.mu.Unlock()
	assert.Equal(t, 2, queued)
	assert.Equal(t, uint64(3), dropped)
}

func TestScopeProcessor_InjectsSessionAndUser(t *testing.T) {
	store := NewMemorySpanStore()
	tp, exporter := newTestProvider(t, store, ScopeProcessor{})

	ctx := WithRequestScope(context.Background(), "sess-1", "user-1")
	_, span := tp.Tracer("test").Start(ctx, "scoped")
	span.End()

	require.NoError(t, exporter.Flush(context.Background()))

	spans, err := store.ListByTrace(context.Background(), span.SpanContext().TraceID().String())
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "sess-1", spans[0].Attributes["session.id"])
	assert.Equal(t, "user-1", spans[0].Attributes["user.id"])
}

func TestScopeProcessor_NoScopeNoAttributes(t *testing.T) {
	store := NewMemorySpanStore()
	tp, exporter := newTestProvider(t, store, ScopeProcessor{})

	_, span := tp.Tracer("test").Start(context.Background(), "unscoped")
	span.End()
	require.NoError(t, exporter.Flush(context.Background()))

	spans, err := store.ListByTrace(context.Background(), span.SpanContext().TraceID().String())
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.NotContains(t, spans[0].Attributes, "session.id")
}

func TestNormalizeModelName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gpt-4o", "gpt-4o"},
		{"openai/gpt-4o", "gpt-4o"},
		{"GPT-4o  ", "gpt-4o"},
		{"gpt-4o-2024-11-20", "gpt-4o"},
		{"anthropic/claude-sonnet-4", "claude-sonnet-4"},
		{"text-embedding-3-small", "text-embedding-3-small"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeModelName(tt.in), tt.in)
	}
}

func TestDefaultCost_PriorityChain(t *testing.T) {
	explicit := 0.042
	cost, ok := defaultCost("gpt-4o", Usage{PromptTokens: 1000, ResponseCost: &explicit})
	require.True(t, ok)
	assert.InDelta(t, 0.042, cost, 1e-9)

	cost, ok = defaultCost("unknown-model", Usage{
		CostBreakdown: map[string]float64{"prompt": 0.01, "completion": 0.02},
	})
	require.True(t, ok)
	assert.InDelta(t, 0.03, cost, 1e-9)

	cost, ok = defaultCost("gpt-4o", Usage{PromptTokens: 1_000_000, CompletionTokens: 100_000})
	require.True(t, ok)
	assert.InDelta(t, 2.50+1.00, cost, 1e-9)

	_, ok = defaultCost("completely-unknown", Usage{PromptTokens: 10})
	assert.False(t, ok)
}

func TestDecorateLLMSpan(t *testing.T) {
	store := NewMemorySpanStore()
	tp, exporter := newTestProvider(t, store)

	_, span := tp.Tracer("test").Start(context.Background(), "llm.complete",
		trace.WithSpanKind(trace.SpanKindClient))
	DecorateLLMSpan(span, "openai/gpt-4o-mini", Usage{PromptTokens: 2_000_000, CompletionTokens: 1_000_000})
	span.End()

	require.NoError(t, exporter.Flush(context.Background()))
	spans, err := store.ListByTrace(context.Background(), span.SpanContext().TraceID().String())
	require.NoError(t, err)
	require.Len(t, spans, 1)

	attrs := spans[0].Attributes
	assert.Equal(t, "gpt-4o-mini", attrs["gen_ai.request.model"])
	assert.InDelta(t, 0.15*2+0.60, attrs["gen_ai.usage.cost"].(float64), 1e-9)
	assert.JSONEq(t, `{"total": 0.9}`, attrs["langfuse.observation.cost_details"].(string))
	assert.Equal(t, "client", spans[0].SpanKind)
}
