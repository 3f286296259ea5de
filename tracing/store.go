// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracing persists trace spans to the database alongside the
// OTLP pipeline, and decorates LLM-call spans with cost attributes.
// Exports are best-effort: a bounded queue drops the oldest span on
// overflow so the request hot path never blocks on tracing.
package tracing

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/storage"
)

// SpanStore writes span batches. Implementations must tolerate
// re-exports of the same (trace_id, span_id).
type SpanStore interface {
	WriteSpans(ctx context.Context, spans []datatypes.Span) error
	ListByTrace(ctx context.Context, traceID string) ([]datatypes.Span, error)
}

// ===== In-Memory Store =====

// MemorySpanStore collects spans in memory, for tests and the
// zero-config development mode.
type MemorySpanStore struct {
	mu    sync.Mutex
	spans map[string][]datatypes.Span // key: trace id
}

func NewMemorySpanStore() *MemorySpanStore {
	return &MemorySpanStore{spans: make(map[string][]datatypes.Span)}
}

func (s *MemorySpanStore) WriteSpans(_ context.Context, spans []datatypes.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, span := range spans {
		existing := s.spans[span.TraceID]
		replaced := false
		for i := range existing {
			if existing[i].SpanID == span.SpanID {
				existing[i] = span
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, span)
		}
		s.spans[span.TraceID] = existing
	}
	return nil
}

func (s *MemorySpanStore) ListByTrace(_ context.Context, traceID string) ([]datatypes.Span, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datatypes.Span, len(s.spans[traceID]))
	copy(out, s.spans[traceID])
	return out, nil
}

// Count reports the total number of stored spans.
func (s *MemorySpanStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, spans := range s.spans {
		n += len(spans)
	}
	return n
}

// ===== Postgres Store =====

// PostgresSpanStore batch-writes spans with pgx.Batch upserts.
type PostgresSpanStore struct {
	db *storage.DB
}

func NewPostgresSpanStore(db *storage.DB) *PostgresSpanStore {
	return &PostgresSpanStore{db: db}
}

func (s *PostgresSpanStore) WriteSpans(ctx context.Context, spans []datatypes.Span) error {
	if len(spans) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, span := range spans {
		attrs, err := json.Marshal(span.Attributes)
		if err != nil {
			return datatypes.Internal(err)
		}
		events, err := json.Marshal(span.Events)
		if err != nil {
			return datatypes.Internal(err)
		}
		batch.Queue(`
			INSERT INTO spans
				(trace_id, span_id, parent_span_id, operation_name, span_kind,
				 attributes, events, start_time, end_time, duration_ns,
				 status_code, status_message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (trace_id, span_id) DO UPDATE SET
				attributes     = EXCLUDED.attributes,
				events         = EXCLUDED.events,
				end_time       = EXCLUDED.end_time,
				duration_ns    = EXCLUDED.duration_ns,
				status_code    = EXCLUDED.status_code,
				status_message = EXCLUDED.status_message`,
			span.TraceID, span.SpanID, span.ParentSpanID, span.OperationName,
			span.SpanKind, attrs, events, span.StartTime, span.EndTime,
			span.DurationNs, span.StatusCode, span.StatusMessage)
	}
	results := s.db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range spans {
		if _, err := results.Exec(); err != nil {
			return datatypes.DatabaseError(err)
		}
	}
	return nil
}

func (s *PostgresSpanStore) ListByTrace(ctx context.Context, traceID string) ([]datatypes.Span, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT trace_id, span_id, parent_span_id, operation_name, span_kind,
		       attributes, events, start_time, end_time, duration_ns,
		       status_code, status_message
		FROM spans WHERE trace_id = $1 ORDER BY start_time`, traceID)
	if err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	defer rows.Close()

	var out []datatypes.Span
	for rows.Next() {
		var span datatypes.Span
		var attrs, events []byte
		if err := rows.Scan(&span.TraceID, &span.SpanID, &span.ParentSpanID,
			&span.OperationName, &span.SpanKind, &attrs, &events,
			&span.StartTime, &span.EndTime, &span.DurationNs,
			&span.StatusCode, &span.StatusMessage); err != nil {
			return nil, datatypes.DatabaseError(err)
		}
		if err := json.Unmarshal(attrs, &span.Attributes); err != nil {
			return nil, datatypes.Internal(err)
		}
		if err := json.Unmarshal(events, &span.Events); err != nil {
			return nil, datatypes.Internal(err)
		}
		out = append(out, span)
	}
	return out, rows.Err()
}
