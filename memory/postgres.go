// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/storage"
)

// pgUniqueViolation is the Postgres error code for unique constraint
// violations; on the audit version index it means a concurrent audit won.
const pgUniqueViolation = "23505"

// PostgresStore persists memories, facts, and audit records. Concurrent
// audits on the same memory are arbitrated by the unique
// (app, user, memory, version) index: the loser's insert fails and is
// surfaced as a version conflict.
type PostgresStore struct {
	db *storage.DB
}

// NewPostgresStore wraps a connected DB.
func NewPostgresStore(db *storage.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateMemory(ctx context.Context, m *datatypes.Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	metaJSON, err := json.Marshal(orEmptyMap(m.Metadata))
	if err != nil {
		return datatypes.InvalidArgument("metadata not serializable: %v", err)
	}

	err = s.db.Pool.QueryRow(ctx, `
		INSERT INTO memories (id, session_id, user_id, app_name, memory_type, content,
			embedding, metadata, retention_score, access_count)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, NULLIF($7, '')::vector, $8, $9, $10)
		RETURNING created_at, updated_at`,
		m.ID, m.SessionID, m.UserID, m.AppName, m.MemoryType, m.Content,
		storage.EncodeVector(m.Embedding), metaJSON, m.RetentionScore, m.AccessCount).
		Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("insert memory: %w", err))
	}
	return nil
}

func (s *PostgresStore) GetMemory(ctx context.Context, appName, userID, id string) (*datatypes.Memory, error) {
	return scanMemoryRow(s.db.Pool.QueryRow(ctx, `
		SELECT id, COALESCE(session_id::text, ''), user_id, app_name, memory_type, content,
			COALESCE(embedding::text, ''), metadata, retention_score, access_count,
			last_accessed_at, created_at, updated_at
		FROM memories
		WHERE app_name = $1 AND user_id = $2 AND id = $3`,
		appName, userID, id), id)
}

func (s *PostgresStore) SearchMemories(ctx context.Context, appName, userID, query string, queryVec []float32, limit int) ([]datatypes.MemorySearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	var (
		rows pgx.Rows
		err  error
	)
	if queryVec != nil {
		rows, err = s.db.Pool.Query(ctx, `
			SELECT id, COALESCE(session_id::text, ''), user_id, app_name, memory_type, content,
				COALESCE(embedding::text, ''), metadata, retention_score, access_count,
				last_accessed_at, created_at, updated_at,
				1 - (embedding <=> $3::vector) AS relevance
			FROM memories
			WHERE app_name = $1 AND user_id = $2 AND embedding IS NOT NULL
			ORDER BY embedding <=> $3::vector
			LIMIT $4`,
			appName, userID, storage.EncodeVector(queryVec), limit)
	} else {
		rows, err = s.db.Pool.Query(ctx, `
			SELECT id, COALESCE(session_id::text, ''), user_id, app_name, memory_type, content,
				COALESCE(embedding::text, ''), metadata, retention_score, access_count,
				last_accessed_at, created_at, updated_at,
				retention_score AS relevance
			FROM memories
			WHERE app_name = $1 AND user_id = $2 AND content ILIKE '%' || $3 || '%'
			ORDER BY created_at DESC
			LIMIT $4`,
			appName, userID, query, limit)
	}
	if err != nil {
		return nil, datatypes.SearchError(fmt.Errorf("search memories: %w", err))
	}
	defer rows.Close()

	var out []datatypes.MemorySearchResult
	for rows.Next() {
		var result datatypes.MemorySearchResult
		if err := scanMemoryInto(rows, &result.Memory, &result.RelevanceScore); err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TouchMemory(ctx context.Context, appName, userID, id string) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = now(), updated_at = now()
		WHERE app_name = $1 AND user_id = $2 AND id = $3`,
		appName, userID, id)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("touch memory: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return datatypes.NotFound("memory", id)
	}
	return nil
}

func (s *PostgresStore) ListMemories(ctx context.Context, appName, userID string, limit int) ([]datatypes.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, COALESCE(session_id::text, ''), user_id, app_name, memory_type, content,
			COALESCE(embedding::text, ''), metadata, retention_score, access_count,
			last_accessed_at, created_at, updated_at
		FROM memories
		WHERE app_name = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		appName, userID, limit)
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("list memories: %w", err))
	}
	defer rows.Close()

	var out []datatypes.Memory
	for rows.Next() {
		var m datatypes.Memory
		if err := scanMemoryInto(rows, &m, nil); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertFact(ctx context.Context, f *datatypes.Fact) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	valueJSON, err := json.Marshal(orEmptyMap(f.Value))
	if err != nil {
		return datatypes.InvalidArgument("fact value not serializable: %v", err)
	}

	err = s.db.Pool.QueryRow(ctx, `
		INSERT INTO facts (id, session_id, user_id, app_name, fact_type, key, value,
			embedding, confidence, valid_from, valid_until)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7,
			NULLIF($8, '')::vector, $9, COALESCE($10, now()), $11)
		ON CONFLICT (user_id, app_name, fact_type, key)
		DO UPDATE SET value = EXCLUDED.value, confidence = EXCLUDED.confidence,
			embedding = EXCLUDED.embedding, valid_until = EXCLUDED.valid_until
		RETURNING id, valid_from, created_at`,
		f.ID, f.SessionID, f.UserID, f.AppName, f.FactType, f.Key, valueJSON,
		storage.EncodeVector(f.Embedding), f.Confidence, f.ValidFrom, f.ValidUntil).
		Scan(&f.ID, &f.ValidFrom, &f.CreatedAt)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("upsert fact: %w", err))
	}
	return nil
}

func (s *PostgresStore) SearchFacts(ctx context.Context, appName, userID, query string, queryVec []float32, limit int) ([]datatypes.Fact, error) {
	if limit <= 0 {
		limit = 10
	}

	var (
		rows pgx.Rows
		err  error
	)
	if queryVec != nil {
		rows, err = s.db.Pool.Query(ctx, `
			SELECT id, COALESCE(session_id::text, ''), user_id, app_name, fact_type, key, value,
				COALESCE(embedding::text, ''), confidence, valid_from, valid_until, created_at
			FROM facts
			WHERE app_name = $1 AND user_id = $2 AND embedding IS NOT NULL
				AND (valid_until IS NULL OR valid_until > now())
			ORDER BY embedding <=> $3::vector
			LIMIT $4`,
			appName, userID, storage.EncodeVector(queryVec), limit)
	} else {
		rows, err = s.db.Pool.Query(ctx, `
			SELECT id, COALESCE(session_id::text, ''), user_id, app_name, fact_type, key, value,
				COALESCE(embedding::text, ''), confidence, valid_from, valid_until, created_at
			FROM facts
			WHERE app_name = $1 AND user_id = $2 AND key ILIKE '%' || $3 || '%'
				AND (valid_until IS NULL OR valid_until > now())
			ORDER BY created_at DESC
			LIMIT $4`,
			appName, userID, query, limit)
	}
	if err != nil {
		return nil, datatypes.SearchError(fmt.Errorf("search facts: %w", err))
	}
	defer rows.Close()

	return scanFacts(rows)
}

func (s *PostgresStore) ListFacts(ctx context.Context, appName, userID string) ([]datatypes.Fact, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, COALESCE(session_id::text, ''), user_id, app_name, fact_type, key, value,
			COALESCE(embedding::text, ''), confidence, valid_from, valid_until, created_at
		FROM facts
		WHERE app_name = $1 AND user_id = $2
			AND (valid_until IS NULL OR valid_until > now())
		ORDER BY created_at DESC`,
		appName, userID)
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("list facts: %w", err))
	}
	defer rows.Close()

	return scanFacts(rows)
}

// InAuditTx runs fn inside one database transaction.
func (s *PostgresStore) InAuditTx(ctx context.Context, fn func(ops AuditOps) error) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("begin audit: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgAuditOps{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return datatypes.DatabaseError(fmt.Errorf("commit audit: %w", err))
	}
	return nil
}

// pgAuditOps applies audit mutations within a transaction.
type pgAuditOps struct {
	tx pgx.Tx
}

func (o *pgAuditOps) PriorAuditRecords(ctx context.Context, appName, userID, idempotencyKey string) ([]datatypes.AuditRecord, error) {
	rows, err := o.tx.Query(ctx, `
		SELECT id, app_name, user_id, memory_id, decision, note, idempotency_key, version, created_at
		FROM memory_audit
		WHERE app_name = $1 AND user_id = $2 AND idempotency_key = $3
		ORDER BY created_at`,
		appName, userID, idempotencyKey)
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("query prior audits: %w", err))
	}
	defer rows.Close()

	var out []datatypes.AuditRecord
	for rows.Next() {
		var rec datatypes.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.AppName, &rec.UserID, &rec.MemoryID,
			&rec.Decision, &rec.Note, &rec.IdempotencyKey, &rec.Version, &rec.CreatedAt); err != nil {
			return nil, datatypes.DatabaseError(err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (o *pgAuditOps) MaxAuditVersion(ctx context.Context, appName, userID, memoryID string) (int, error) {
	var version int
	err := o.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM memory_audit
		WHERE app_name = $1 AND user_id = $2 AND memory_id = $3`,
		appName, userID, memoryID).Scan(&version)
	if err != nil {
		return 0, datatypes.DatabaseError(fmt.Errorf("max audit version: %w", err))
	}
	return version, nil
}

func (o *pgAuditOps) GetMemory(ctx context.Context, appName, userID, id string) (*datatypes.Memory, error) {
	return scanMemoryRow(o.tx.QueryRow(ctx, `
		SELECT id, COALESCE(session_id::text, ''), user_id, app_name, memory_type, content,
			COALESCE(embedding::text, ''), metadata, retention_score, access_count,
			last_accessed_at, created_at, updated_at
		FROM memories
		WHERE app_name = $1 AND user_id = $2 AND id = $3
		FOR UPDATE`,
		appName, userID, id), id)
}

func (o *pgAuditOps) DeleteMemory(ctx context.Context, appName, userID, id string) error {
	tag, err := o.tx.Exec(ctx, `
		DELETE FROM memories WHERE app_name = $1 AND user_id = $2 AND id = $3`,
		appName, userID, id)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("delete memory: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return datatypes.NotFound("memory", id)
	}
	return nil
}

func (o *pgAuditOps) AnonymizeMemory(ctx context.Context, appName, userID, id string) error {
	tag, err := o.tx.Exec(ctx, `
		UPDATE memories
		SET content = $4, metadata = '{}'::jsonb, embedding = NULL, updated_at = now()
		WHERE app_name = $1 AND user_id = $2 AND id = $3`,
		appName, userID, id, datatypes.AnonymizedContent)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("anonymize memory: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return datatypes.NotFound("memory", id)
	}
	return nil
}

func (o *pgAuditOps) DeleteFactsBySession(ctx context.Context, appName, userID, sessionID string) error {
	_, err := o.tx.Exec(ctx, `
		DELETE FROM facts
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3::uuid`,
		appName, userID, sessionID)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("delete session facts: %w", err))
	}
	return nil
}

func (o *pgAuditOps) AnonymizeFactsBySession(ctx context.Context, appName, userID, sessionID string) error {
	_, err := o.tx.Exec(ctx, `
		UPDATE facts
		SET value = '{"anonymized": true}'::jsonb, embedding = NULL
		WHERE app_name = $1 AND user_id = $2 AND session_id = $3::uuid`,
		appName, userID, sessionID)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("anonymize session facts: %w", err))
	}
	return nil
}

func (o *pgAuditOps) InsertAuditRecord(ctx context.Context, rec *datatypes.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := o.tx.QueryRow(ctx, `
		INSERT INTO memory_audit (id, app_name, user_id, memory_id, decision, note, idempotency_key, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		rec.ID, rec.AppName, rec.UserID, rec.MemoryID, rec.Decision,
		rec.Note, rec.IdempotencyKey, rec.Version).Scan(&rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return datatypes.VersionConflict("memory", rec.Version-1, rec.Version)
		}
		return datatypes.DatabaseError(fmt.Errorf("insert audit record: %w", err))
	}
	return nil
}

// =============================================================================
// Row Scanning
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryRow(row pgx.Row, id string) (*datatypes.Memory, error) {
	var m datatypes.Memory
	if err := scanMemoryInto(row, &m, nil); err != nil {
		if datatypes.IsKind(err, datatypes.KindNotFound) {
			return nil, datatypes.NotFound("memory", id)
		}
		return nil, err
	}
	return &m, nil
}

func scanMemoryInto(row rowScanner, m *datatypes.Memory, relevance *float64) error {
	var (
		embText  string
		metaJSON []byte
		dest     []any
	)
	dest = []any{&m.ID, &m.SessionID, &m.UserID, &m.AppName, &m.MemoryType, &m.Content,
		&embText, &metaJSON, &m.RetentionScore, &m.AccessCount,
		&m.LastAccessedAt, &m.CreatedAt, &m.UpdatedAt}
	if relevance != nil {
		dest = append(dest, relevance)
	}

	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return datatypes.NotFound("memory", "")
	}
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("scan memory: %w", err))
	}

	if m.Embedding, err = storage.ParseVector(embText); err != nil {
		return datatypes.DatabaseError(err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
			return datatypes.DatabaseError(err)
		}
	}
	return nil
}

func scanFacts(rows pgx.Rows) ([]datatypes.Fact, error) {
	var out []datatypes.Fact
	for rows.Next() {
		var (
			f         datatypes.Fact
			embText   string
			valueJSON []byte
		)
		if err := rows.Scan(&f.ID, &f.SessionID, &f.UserID, &f.AppName, &f.FactType,
			&f.Key, &valueJSON, &embText, &f.Confidence,
			&f.ValidFrom, &f.ValidUntil, &f.CreatedAt); err != nil {
			return nil, datatypes.DatabaseError(fmt.Errorf("scan fact: %w", err))
		}
		var err error
		if f.Embedding, err = storage.ParseVector(embText); err != nil {
			return nil, datatypes.DatabaseError(err)
		}
		if err := json.Unmarshal(valueJSON, &f.Value); err != nil {
			return nil, datatypes.DatabaseError(err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var (
	_ Store    = (*PostgresStore)(nil)
	_ AuditOps = (*pgAuditOps)(nil)
)
