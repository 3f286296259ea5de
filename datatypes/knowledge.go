// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Corpus and Chunks
// =============================================================================

// Corpus is a named collection of knowledge chunks under one app.
// (app_name, name) is unique; deleting a corpus cascades to its chunks.
type Corpus struct {
	ID          string         `json:"id"`
	AppName     string         `json:"app_name"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Knowledge is one chunk of an ingested document. The database maintains a
// full-text search_vector over Content via trigger; Embedding is nil until
// the embed stage has run (or when it failed).
type Knowledge struct {
	ID         string         `json:"id"`
	CorpusID   string         `json:"corpus_id"`
	AppName    string         `json:"app_name"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"embedding,omitempty"`
	SourceURI  string         `json:"source_uri,omitempty"`
	ChunkIndex int            `json:"chunk_index"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}

// KnowledgeDocument records one uploaded file. (corpus_id, file_hash) is
// unique: re-uploading identical bytes is a no-op returning the existing
// record.
type KnowledgeDocument struct {
	ID               string         `json:"id"`
	CorpusID         string         `json:"corpus_id"`
	AppName          string         `json:"app_name"`
	FileHash         string         `json:"file_hash"`
	OriginalFilename string         `json:"original_filename"`
	GCSURI           string         `json:"gcs_uri"`
	ContentType      string         `json:"content_type,omitempty"`
	FileSize         int64          `json:"file_size"`
	Status           string         `json:"status"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Document status values.
const (
	DocumentStatusActive  = "active"
	DocumentStatusDeleted = "deleted"
	DocumentStatusFailed  = "failed"
)

// =============================================================================
// Search
// =============================================================================

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	SearchModeSemantic SearchMode = "semantic"
	SearchModeKeyword  SearchMode = "keyword"
	SearchModeHybrid   SearchMode = "hybrid"
	SearchModeRRF      SearchMode = "rrf"
)

// Valid reports whether the mode is one of the supported strategies.
func (m SearchMode) Valid() bool {
	switch m {
	case SearchModeSemantic, SearchModeKeyword, SearchModeHybrid, SearchModeRRF:
		return true
	}
	return false
}

// Default search parameters.
const (
	DefaultSearchLimit    = 10
	DefaultSemanticWeight = 0.7
	DefaultKeywordWeight  = 0.3
	DefaultRRFK           = 60
)

// SearchConfig parameterizes one retrieval call.
type SearchConfig struct {
	Mode           SearchMode     `json:"mode"`
	Limit          int            `json:"limit"`
	SemanticWeight float64        `json:"semantic_weight"`
	KeywordWeight  float64        `json:"keyword_weight"`
	RRFK           int            `json:"rrf_k"`
	ScoreThreshold float64        `json:"score_threshold"`
	MetadataFilter map[string]any `json:"metadata_filter,omitempty"`
}

// DefaultSearchConfig returns the engine defaults (hybrid 0.7/0.3, top 10).
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Mode:           SearchModeHybrid,
		Limit:          DefaultSearchLimit,
		SemanticWeight: DefaultSemanticWeight,
		KeywordWeight:  DefaultKeywordWeight,
		RRFK:           DefaultRRFK,
	}
}

// SearchResult is one ranked chunk returned by the retrieval engine.
type SearchResult struct {
	KnowledgeID   string         `json:"knowledge_id"`
	Content       string         `json:"content"`
	SourceURI     string         `json:"source_uri,omitempty"`
	ChunkIndex    int            `json:"chunk_index"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	SemanticScore float64        `json:"semantic_score"`
	KeywordScore  float64        `json:"keyword_score"`
	CombinedScore float64        `json:"combined_score"`
}

// =============================================================================
// Pipeline / Graph Runs
// =============================================================================

// Run status values.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// StageStatus tracks one pipeline stage inside a run payload.
type StageStatus struct {
	Status      string         `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	Output      map[string]any `json:"output,omitempty"`
	ErrorType   string         `json:"error_type,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// PipelineRun persists the per-stage progress of one ingestion operation.
// (app_name, run_id) is unique, as is (app_name, idempotency_key) when the
// key is present. Version increments on every update.
type PipelineRun struct {
	ID             string         `json:"id"`
	AppName        string         `json:"app_name"`
	RunID          string         `json:"run_id"`
	Status         string         `json:"status"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// GraphRun mirrors PipelineRun for the (optional) graph subsystem's runs.
// The engine persists and lists these; graph execution itself is an
// external collaborator.
type GraphRun = PipelineRun
