// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory implements long-term memory: episodic consolidation,
// semantic facts, retention scoring, and governance with audit records.
package memory

import (
	"context"

	"github.com/AleutianAI/negentropy/datatypes"
)

// Store persists memories, facts, and audit records.
type Store interface {
	// CreateMemory inserts a memory row, assigning ID and timestamps.
	CreateMemory(ctx context.Context, m *datatypes.Memory) error

	// GetMemory returns a memory scoped to (app, user).
	GetMemory(ctx context.Context, appName, userID, id string) (*datatypes.Memory, error)

	// SearchMemories ranks the user's memories against the query.
	// When queryVec is non-nil, ranking is cosine nearest-neighbor over
	// rows with embeddings; otherwise a case-insensitive substring match
	// over content, most recent first.
	SearchMemories(ctx context.Context, appName, userID, query string, queryVec []float32, limit int) ([]datatypes.MemorySearchResult, error)

	// TouchMemory increments access_count and stamps last_accessed_at.
	TouchMemory(ctx context.Context, appName, userID, id string) error

	// ListMemories returns the user's memories, newest first.
	ListMemories(ctx context.Context, appName, userID string, limit int) ([]datatypes.Memory, error)

	// UpsertFact inserts or overwrites a fact by its identity
	// (user_id, app_name, fact_type, key).
	UpsertFact(ctx context.Context, f *datatypes.Fact) error

	// SearchFacts ranks facts against the query. Vector ranking applies
	// when queryVec is non-nil; else key substring match, newest first.
	// Expired facts (valid_until in the past) are excluded.
	SearchFacts(ctx context.Context, appName, userID, query string, queryVec []float32, limit int) ([]datatypes.Fact, error)

	// ListFacts returns the user's unexpired facts, newest first.
	ListFacts(ctx context.Context, appName, userID string) ([]datatypes.Fact, error)

	// InAuditTx runs fn against transactional audit operations. All
	// mutations commit together or not at all.
	InAuditTx(ctx context.Context, fn func(ops AuditOps) error) error
}

// AuditOps are the mutations available inside an audit transaction.
type AuditOps interface {
	// PriorAuditRecords returns records previously written under the
	// same (app, user, idempotency_key), ordered by creation.
	PriorAuditRecords(ctx context.Context, appName, userID, idempotencyKey string) ([]datatypes.AuditRecord, error)

	// MaxAuditVersion returns the highest audit version for the memory,
	// 0 when no audit record exists.
	MaxAuditVersion(ctx context.Context, appName, userID, memoryID string) (int, error)

	// GetMemory loads the memory under the transaction's snapshot.
	GetMemory(ctx context.Context, appName, userID, id string) (*datatypes.Memory, error)

	// DeleteMemory removes the memory row.
	DeleteMemory(ctx context.Context, appName, userID, id string) error

	// AnonymizeMemory blanks content, metadata, and embedding.
	AnonymizeMemory(ctx context.Context, appName, userID, id string) error

	// DeleteFactsBySession removes facts sharing the session.
	DeleteFactsBySession(ctx context.Context, appName, userID, sessionID string) error

	// AnonymizeFactsBySession replaces fact values with {anonymized:true}
	// and clears embeddings for facts sharing the session.
	AnonymizeFactsBySession(ctx context.Context, appName, userID, sessionID string) error

	// InsertAuditRecord writes one audit record. Version collisions
	// surface as version-conflict errors.
	InsertAuditRecord(ctx context.Context, rec *datatypes.AuditRecord) error
}
