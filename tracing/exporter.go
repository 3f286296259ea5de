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
	"strings"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/observability"
	"github.com/AleutianAI/negentropy/pkg/logging"
)

// Exporter queue defaults.
const (
	DefaultBatchSize     = 512
	DefaultFlushInterval = 5 * time.Second
	DefaultQueueCapacity = 4096
)

// DBExporter is an OpenTelemetry span exporter that writes spans to a
// SpanStore. Spans are queued in a bounded ring; a background worker
// drains them in batches on size or interval. Overflow drops the
// oldest queued span with a warning.
type DBExporter struct {
	store         SpanStore
	logger        *logging.Logger
	batchSize     int
	flushInterval time.Duration

	mu       sync.Mutex
	queue    []datatypes.Span
	capacity int
	dropped  uint64

	flushCh chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	stopped bool
}

// NewDBExporter starts the background drain worker. Zero values take
// the package defaults.
func NewDBExporter(store SpanStore, logger *logging.Logger, batchSize, queueCapacity int, flushInterval time.Duration) *DBExporter {
	if logger == nil {
		logger = logging.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	e := &DBExporter{
		store:         store,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		capacity:      queueCapacity,
		flushCh:       make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	go e.drainLoop()
	return e
}

// ExportSpans enqueues spans without blocking. Called by the SDK's
// batch processor.
func (e *DBExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	for _, ros := range spans {
		if len(e.queue) >= e.capacity {
			e.queue = e.queue[1:]
			e.dropped++
			observability.RecordSpanDropped()
			if e.dropped%100 == 1 {
				e.logger.Warn("span queue full, dropping oldest span",
					"capacity", e.capacity, "dropped_total", e.dropped)
			}
		}
		e.queue = append(e.queue, convertSpan(ros))
	}
	full := len(e.queue) >= e.batchSize
	e.mu.Unlock()

	if full {
		select {
		case e.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Shutdown flushes remaining spans and stops the worker.
func (e *DBExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Flush synchronously drains the queue, for tests.
func (e *DBExporter) Flush(ctx context.Context) error {
	return e.flushBatch(ctx)
}

func (e *DBExporter) drainLoop() {
	defer close(e.done)
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.flushAll()
		case <-e.flushCh:
			e.flushAll()
		case <-e.stopCh:
			e.flushAll()
			return
		}
	}
}

func (e *DBExporter) flushAll() {
	for {
		e.mu.Lock()
		n := len(e.queue)
		e.mu.Unlock()
		if n == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := e.flushBatch(ctx)
		cancel()
		if err != nil {
			// Best effort: the batch is gone, move on.
			e.logger.Warn("span batch write failed", "error", err)
			return
		}
	}
}

func (e *DBExporter) flushBatch(ctx context.Context) error {
	e.mu.Lock()
	n := len(e.queue)
	if n == 0 {
		e.mu.Unlock()
		return nil
	}
	if n > e.batchSize {
		n = e.batchSize
	}
	batch := make([]datatypes.Span, n)
	copy(batch, e.queue[:n])
	e.queue = e.queue[n:]
	e.mu.Unlock()

	return e.store.WriteSpans(ctx, batch)
}

// convertSpan maps an SDK span to the database row shape.
func convertSpan(ros sdktrace.ReadOnlySpan) datatypes.Span {
	sc := ros.SpanContext()
	end := ros.EndTime()
	duration := end.Sub(ros.StartTime()).Nanoseconds()

	attrs := make(map[string]any, len(ros.Attributes()))
	for _, kv := range ros.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}

	var events []datatypes.SpanEvent
	for _, ev := range ros.Events() {
		evAttrs := make(map[string]any, len(ev.Attributes))
		for _, kv := range ev.Attributes {
			evAttrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		events = append(events, datatypes.SpanEvent{
			Name:       ev.Name,
			Timestamp:  ev.Time,
			Attributes: evAttrs,
		})
	}

	span := datatypes.Span{
		TraceID:       sc.TraceID().String(),
		SpanID:        sc.SpanID().String(),
		OperationName: ros.Name(),
		SpanKind:      strings.ToLower(ros.SpanKind().String()),
		Attributes:    attrs,
		Events:        events,
		StartTime:     ros.StartTime(),
		EndTime:       &end,
		DurationNs:    &duration,
		StatusCode:    strings.ToLower(ros.Status().Code.String()),
		StatusMessage: ros.Status().Description,
	}
	if ros.Parent().HasSpanID() {
		span.ParentSpanID = ros.Parent().SpanID().String()
	}
	return span
}
