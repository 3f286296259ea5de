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

	"github.com/AleutianAI/negentropy/datatypes"
)

// DashboardStats aggregates corpus health for the observability endpoint.
type DashboardStats struct {
	CorpusCount   int            `json:"corpus_count"`
	ChunkCount    int            `json:"chunk_count"`
	DocumentCount int            `json:"document_count"`
	RunsByStatus  map[string]int `json:"runs_by_status"`
}

// Repository persists corpora, knowledge chunks, uploaded documents, and
// pipeline runs.
type Repository interface {
	// ----- Corpora -----

	CreateCorpus(ctx context.Context, c *datatypes.Corpus) error
	GetCorpus(ctx context.Context, appName, id string) (*datatypes.Corpus, error)
	ListCorpora(ctx context.Context, appName string) ([]datatypes.Corpus, error)

	// PatchCorpus applies non-empty name/description and shallow-merges
	// config. Returns the updated corpus.
	PatchCorpus(ctx context.Context, appName, id, name, description string, config map[string]any) (*datatypes.Corpus, error)

	// DeleteCorpus removes the corpus; chunks and documents cascade.
	DeleteCorpus(ctx context.Context, appName, id string) error

	// ----- Chunks -----

	// InsertChunks writes all chunk rows in one batch.
	InsertChunks(ctx context.Context, chunks []datatypes.Knowledge) error

	// DeleteChunksBySource removes chunks for (corpus, source_uri) and
	// returns how many were removed.
	DeleteChunksBySource(ctx context.Context, corpusID, sourceURI string) (int, error)

	// ListChunks pages chunks, optionally filtered by source_uri.
	// Returns the page and the total matching count.
	ListChunks(ctx context.Context, corpusID, sourceURI string, limit, offset int) ([]datatypes.Knowledge, int, error)

	// ListSources returns the distinct source URIs in a corpus.
	ListSources(ctx context.Context, corpusID string) ([]string, error)

	// ----- Search primitives -----

	// SemanticSearch ranks chunks by cosine similarity to queryVec,
	// excluding rows without embeddings. SemanticScore = 1 - distance.
	SemanticSearch(ctx context.Context, corpusID string, queryVec []float32, limit int, filter map[string]any) ([]datatypes.SearchResult, error)

	// KeywordSearch ranks chunks by full-text match. KeywordScore is
	// the rank value.
	KeywordSearch(ctx context.Context, corpusID, query string, limit int, filter map[string]any) ([]datatypes.SearchResult, error)

	// ----- Documents -----

	GetDocumentByHash(ctx context.Context, corpusID, fileHash string) (*datatypes.KnowledgeDocument, error)
	InsertDocument(ctx context.Context, doc *datatypes.KnowledgeDocument) error
	UpdateDocumentStatus(ctx context.Context, id, status string) error
	ListDocuments(ctx context.Context, corpusID string) ([]datatypes.KnowledgeDocument, error)

	// ----- Pipeline runs -----

	// UpsertRun inserts or updates a run by (app_name, run_id),
	// incrementing version on update. Reusing an idempotency key with a
	// different run_id fails with invalid-argument.
	UpsertRun(ctx context.Context, run *datatypes.PipelineRun) error

	GetRun(ctx context.Context, appName, runID string) (*datatypes.PipelineRun, error)
	ListRuns(ctx context.Context, appName string, limit int) ([]datatypes.PipelineRun, error)
	FindRunByIdempotencyKey(ctx context.Context, appName, key string) (*datatypes.PipelineRun, error)

	// ----- Observability -----

	Stats(ctx context.Context, appName string) (*DashboardStats, error)
}
