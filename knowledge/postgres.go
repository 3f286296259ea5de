// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/storage"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements Repository over pgvector and Postgres
// full-text search.
type PostgresRepository struct {
	db *storage.DB
}

func NewPostgresRepository(db *storage.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ===== Corpora =====

func (r *PostgresRepository) CreateCorpus(ctx context.Context, c *datatypes.Corpus) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	meta, err := json.Marshal(orEmptyConfig(c.Config))
	if err != nil {
		return datatypes.Internal(err)
	}
	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO corpora (id, app_name, name, description, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		c.ID, c.AppName, c.Name, c.Description, meta)
	if err := row.Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return datatypes.InvalidArgument("corpus %q already exists", c.Name)
		}
		return datatypes.DatabaseError(err)
	}
	return nil
}

func (r *PostgresRepository) GetCorpus(ctx context.Context, appName, id string) (*datatypes.Corpus, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, app_name, name, description, metadata, created_at, updated_at
		FROM corpora WHERE app_name = $1 AND id = $2`, appName, id)
	return scanCorpus(row)
}

func (r *PostgresRepository) ListCorpora(ctx context.Context, appName string) ([]datatypes.Corpus, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, app_name, name, description, metadata, created_at, updated_at
		FROM corpora WHERE app_name = $1 ORDER BY name`, appName)
	if err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	defer rows.Close()

	var out []datatypes.Corpus
	for rows.Next() {
		c, err := scanCorpus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) PatchCorpus(ctx context.Context, appName, id, name, description string, config map[string]any) (*datatypes.Corpus, error) {
	meta, err := json.Marshal(orEmptyConfig(config))
	if err != nil {
		return nil, datatypes.Internal(err)
	}
	row := r.db.Pool.QueryRow(ctx, `
		UPDATE corpora SET
			name        = COALESCE(NULLIF($3, ''), name),
			description = COALESCE(NULLIF($4, ''), description),
			metadata    = metadata || $5,
			updated_at  = now()
		WHERE app_name = $1 AND id = $2
		RETURNING id, app_name, name, description, metadata, created_at, updated_at`,
		appName, id, name, description, meta)
	c, err := scanCorpus(row)
	if errors.Is(err, pgx.ErrNoRows) || datatypes.IsKind(err, datatypes.KindNotFound) {
		return nil, datatypes.NotFound("corpus", id)
	}
	return c, err
}

func (r *PostgresRepository) DeleteCorpus(ctx context.Context, appName, id string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM corpora WHERE app_name = $1 AND id = $2`, appName, id)
	if err != nil {
		return datatypes.DatabaseError(err)
	}
	if tag.RowsAffected() == 0 {
		return datatypes.NotFound("corpus", id)
	}
	return nil
}

// ===== Chunks =====

func (r *PostgresRepository) InsertChunks(ctx context.Context, chunks []datatypes.Knowledge) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = uuid.NewString()
		}
		meta, err := json.Marshal(orEmptyConfig(chunks[i].Metadata))
		if err != nil {
			return datatypes.Internal(err)
		}
		batch.Queue(`
			INSERT INTO knowledge (id, corpus_id, app_name, content, embedding, source_uri, chunk_index, metadata)
			VALUES ($1, $2, $3, $4, NULLIF($5, '')::vector, $6, $7, $8)`,
			chunks[i].ID, chunks[i].CorpusID, chunks[i].AppName, chunks[i].Content,
			storage.EncodeVector(chunks[i].Embedding), chunks[i].SourceURI,
			chunks[i].ChunkIndex, meta)
	}
	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return datatypes.DatabaseError(err)
		}
	}
	return nil
}

func (r *PostgresRepository) DeleteChunksBySource(ctx context.Context, corpusID, sourceURI string) (int, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM knowledge WHERE corpus_id = $1 AND source_uri = $2`, corpusID, sourceURI)
	if err != nil {
		return 0, datatypes.DatabaseError(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) ListChunks(ctx context.Context, corpusID, sourceURI string, limit, offset int) ([]datatypes.Knowledge, int, error) {
	var total int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM knowledge
		WHERE corpus_id = $1 AND ($2 = '' OR source_uri = $2)`,
		corpusID, sourceURI).Scan(&total)
	if err != nil {
		return nil, 0, datatypes.DatabaseError(err)
	}

	query := `
		SELECT id, corpus_id, app_name, content, source_uri, chunk_index, metadata, created_at
		FROM knowledge
		WHERE corpus_id = $1 AND ($2 = '' OR source_uri = $2)
		ORDER BY source_uri, chunk_index`
	args := []any{corpusID, sourceURI}
	if limit > 0 {
		query += ` LIMIT $3 OFFSET $4`
		args = append(args, limit, offset)
	}
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, datatypes.DatabaseError(err)
	}
	defer rows.Close()

	var out []datatypes.Knowledge
	for rows.Next() {
		var k datatypes.Knowledge
		var meta []byte
		if err := rows.Scan(&k.ID, &k.CorpusID, &k.AppName, &k.Content,
			&k.SourceURI, &k.ChunkIndex, &meta, &k.CreatedAt); err != nil {
			return nil, 0, datatypes.DatabaseError(err)
		}
		if err := json.Unmarshal(meta, &k.Metadata); err != nil {
			return nil, 0, datatypes.Internal(err)
		}
		out = append(out, k)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepository) ListSources(ctx context.Context, corpusID string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT DISTINCT source_uri FROM knowledge
		WHERE corpus_id = $1 AND source_uri <> '' ORDER BY source_uri`, corpusID)
	if err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, datatypes.DatabaseError(err)
		}
		out = append(out, uri)
	}
	return out, rows.Err()
}

// ===== Search =====

func (r *PostgresRepository) SemanticSearch(ctx context.Context, corpusID string, queryVec []float32, limit int, filter map[string]any) ([]datatypes.SearchResult, error) {
	filterJSON, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, content, source_uri, chunk_index, metadata,
		       1 - (embedding <=> $2::vector) AS score
		FROM knowledge
		WHERE corpus_id = $1
		  AND embedding IS NOT NULL
		  AND ($4::jsonb IS NULL OR metadata @> $4::jsonb)
		ORDER BY embedding <=> $2::vector
		LIMIT $3`,
		corpusID, storage.EncodeVector(queryVec), limit, filterJSON)
	if err != nil {
		return nil, datatypes.SearchError(err)
	}
	defer rows.Close()
	return scanResults(rows, true)
}

func (r *PostgresRepository) KeywordSearch(ctx context.Context, corpusID, query string, limit int, filter map[string]any) ([]datatypes.SearchResult, error) {
	filterJSON, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, content, source_uri, chunk_index, metadata,
		       ts_rank(content_tsv, plainto_tsquery('english', $2)) AS score
		FROM knowledge
		WHERE corpus_id = $1
		  AND content_tsv @@ plainto_tsquery('english', $2)
		  AND ($4::jsonb IS NULL OR metadata @> $4::jsonb)
		ORDER BY score DESC
		LIMIT $3`,
		corpusID, query, limit, filterJSON)
	if err != nil {
		return nil, datatypes.SearchError(err)
	}
	defer rows.Close()
	return scanResults(rows, false)
}

// ===== Documents =====

func (r *PostgresRepository) GetDocumentByHash(ctx context.Context, corpusID, fileHash string) (*datatypes.KnowledgeDocument, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, corpus_id, app_name, file_hash, original_filename, gcs_uri,
		       content_type, file_size, status, metadata, created_at, updated_at
		FROM knowledge_documents
		WHERE corpus_id = $1 AND file_hash = $2 AND status <> 'deleted'`,
		corpusID, fileHash)
	return scanDocument(row)
}

func (r *PostgresRepository) InsertDocument(ctx context.Context, doc *datatypes.KnowledgeDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	meta, err := json.Marshal(orEmptyConfig(doc.Metadata))
	if err != nil {
		return datatypes.Internal(err)
	}
	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO knowledge_documents
			(id, corpus_id, app_name, file_hash, original_filename, gcs_uri, content_type, file_size, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		doc.ID, doc.CorpusID, doc.AppName, doc.FileHash, doc.OriginalFilename,
		doc.GCSURI, doc.ContentType, doc.FileSize, doc.Status, meta)
	if err := row.Scan(&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return datatypes.DatabaseError(err)
	}
	return nil
}

func (r *PostgresRepository) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE knowledge_documents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return datatypes.DatabaseError(err)
	}
	if tag.RowsAffected() == 0 {
		return datatypes.NotFound("document", id)
	}
	return nil
}

func (r *PostgresRepository) ListDocuments(ctx context.Context, corpusID string) ([]datatypes.KnowledgeDocument, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, corpus_id, app_name, file_hash, original_filename, gcs_uri,
		       content_type, file_size, status, metadata, created_at, updated_at
		FROM knowledge_documents WHERE corpus_id = $1 ORDER BY created_at DESC`, corpusID)
	if err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	defer rows.Close()

	var out []datatypes.KnowledgeDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

// ===== Pipeline Runs =====

func (r *PostgresRepository) UpsertRun(ctx context.Context, run *datatypes.PipelineRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	payload, err := json.Marshal(orEmptyConfig(run.Payload))
	if err != nil {
		return datatypes.Internal(err)
	}

	if run.IdempotencyKey != "" {
		var existingRunID string
		err := r.db.Pool.QueryRow(ctx, `
			SELECT run_id FROM pipeline_runs
			WHERE app_name = $1 AND idempotency_key = $2 AND run_id <> $3`,
			run.AppName, run.IdempotencyKey, run.RunID).Scan(&existingRunID)
		if err == nil {
			return datatypes.InvalidArgument(
				"idempotency key already used by run %s", existingRunID)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return datatypes.DatabaseError(err)
		}
	}

	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO pipeline_runs (id, app_name, run_id, status, payload, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (app_name, run_id) DO UPDATE SET
			status     = EXCLUDED.status,
			payload    = EXCLUDED.payload,
			version    = pipeline_runs.version + 1,
			updated_at = now()
		RETURNING id, version, created_at, updated_at`,
		run.ID, run.AppName, run.RunID, run.Status, payload, run.IdempotencyKey)
	if err := row.Scan(&run.ID, &run.Version, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return datatypes.DatabaseError(err)
	}
	return nil
}

func (r *PostgresRepository) GetRun(ctx context.Context, appName, runID string) (*datatypes.PipelineRun, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, app_name, run_id, status, payload, idempotency_key, version, created_at, updated_at
		FROM pipeline_runs WHERE app_name = $1 AND run_id = $2`, appName, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, datatypes.NotFound("pipeline run", runID)
	}
	return run, err
}

func (r *PostgresRepository) ListRuns(ctx context.Context, appName string, limit int) ([]datatypes.PipelineRun, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, app_name, run_id, status, payload, idempotency_key, version, created_at, updated_at
		FROM pipeline_runs WHERE app_name = $1
		ORDER BY updated_at DESC LIMIT $2`, appName, limit)
	if err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	defer rows.Close()

	var out []datatypes.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) FindRunByIdempotencyKey(ctx context.Context, appName, key string) (*datatypes.PipelineRun, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, app_name, run_id, status, payload, idempotency_key, version, created_at, updated_at
		FROM pipeline_runs WHERE app_name = $1 AND idempotency_key = $2`, appName, key)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, datatypes.NotFound("pipeline run", key)
	}
	return run, err
}

// ===== Dashboard =====

func (r *PostgresRepository) Stats(ctx context.Context, appName string) (*DashboardStats, error) {
	stats := &DashboardStats{RunsByStatus: map[string]int{}}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM corpora WHERE app_name = $1),
			(SELECT count(*) FROM knowledge k JOIN corpora c ON k.corpus_id = c.id WHERE c.app_name = $1),
			(SELECT count(*) FROM knowledge_documents d JOIN corpora c ON d.corpus_id = c.id
			 WHERE c.app_name = $1 AND d.status <> 'deleted')`,
		appName).Scan(&stats.CorpusCount, &stats.ChunkCount, &stats.DocumentCount)
	if err != nil {
		return nil, datatypes.DatabaseError(err)
	}

	rows, err := r.db.Pool.Query(ctx,
		`SELECT status, count(*) FROM pipeline_runs WHERE app_name = $1 GROUP BY status`, appName)
	if err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, datatypes.DatabaseError(err)
		}
		stats.RunsByStatus[status] = n
	}
	return stats, rows.Err()
}

// ===== Scan Helpers =====

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCorpus(row rowScanner) (*datatypes.Corpus, error) {
	var c datatypes.Corpus
	var meta []byte
	err := row.Scan(&c.ID, &c.AppName, &c.Name, &c.Description, &meta, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, datatypes.NotFound("corpus", "")
	}
	if err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	if err := json.Unmarshal(meta, &c.Config); err != nil {
		return nil, datatypes.Internal(err)
	}
	return &c, nil
}

func scanDocument(row rowScanner) (*datatypes.KnowledgeDocument, error) {
	var doc datatypes.KnowledgeDocument
	var meta []byte
	err := row.Scan(&doc.ID, &doc.CorpusID, &doc.AppName, &doc.FileHash,
		&doc.OriginalFilename, &doc.GCSURI, &doc.ContentType, &doc.FileSize,
		&doc.Status, &meta, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, datatypes.NotFound("document", "")
	}
	if err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
		return nil, datatypes.Internal(err)
	}
	return &doc, nil
}

func scanRun(row rowScanner) (*datatypes.PipelineRun, error) {
	var run datatypes.PipelineRun
	var payload []byte
	err := row.Scan(&run.ID, &run.AppName, &run.RunID, &run.Status, &payload,
		&run.IdempotencyKey, &run.Version, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, datatypes.DatabaseError(err)
	}
	if err := json.Unmarshal(payload, &run.Payload); err != nil {
		return nil, datatypes.Internal(err)
	}
	return &run, nil
}

func scanResults(rows pgx.Rows, semantic bool) ([]datatypes.SearchResult, error) {
	var out []datatypes.SearchResult
	for rows.Next() {
		var res datatypes.SearchResult
		var meta []byte
		var score float64
		if err := rows.Scan(&res.KnowledgeID, &res.Content, &res.SourceURI,
			&res.ChunkIndex, &meta, &score); err != nil {
			return nil, datatypes.DatabaseError(err)
		}
		if err := json.Unmarshal(meta, &res.Metadata); err != nil {
			return nil, datatypes.Internal(err)
		}
		if semantic {
			res.SemanticScore = score
		} else {
			res.KeywordScore = score
		}
		res.CombinedScore = score
		out = append(out, res)
	}
	return out, rows.Err()
}

func marshalFilter(filter map[string]any) (any, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return nil, datatypes.Internal(err)
	}
	return string(raw), nil
}

func orEmptyConfig(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var _ Repository = (*PostgresRepository)(nil)
