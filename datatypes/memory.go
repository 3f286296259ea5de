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
// Episodic Memory
// =============================================================================

// MemoryType labels how a memory row was produced.
const (
	MemoryTypeEpisodic = "episodic"
	MemoryTypeSemantic = "semantic"
)

// AnonymizedContent is the sentinel written over a memory's content when a
// governance anonymize decision executes.
const AnonymizedContent = "[ANONYMIZED]"

// Memory is a searchable consolidation of conversational events.
type Memory struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id,omitempty"`
	UserID     string `json:"user_id"`
	AppName    string `json:"app_name"`
	MemoryType string `json:"memory_type"`
	Content    string `json:"content"`
	// Embedding is nil when no embedding function was configured or the
	// provider failed; null embeddings are excluded from vector search.
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	// RetentionScore is in [0,1]; new memories start at 1.0.
	RetentionScore float64 `json:"retention_score"`
	AccessCount    int     `json:"access_count"`
	// LastAccessedAt is nil until the memory is first touched.
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// MemorySearchResult pairs a memory with its query relevance.
type MemorySearchResult struct {
	Memory
	// RelevanceScore mirrors the memory's retention score on substring
	// search, or 1-distance on vector search.
	RelevanceScore float64 `json:"relevance_score"`
}

// =============================================================================
// Semantic Facts
// =============================================================================

// Fact is a structured key/value semantic memory with a validity window.
// (user_id, app_name, fact_type, key) is unique; upserts overwrite in place.
type Fact struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id"`
	AppName   string         `json:"app_name"`
	FactType  string         `json:"fact_type"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	Embedding []float32      `json:"embedding,omitempty"`
	// Confidence is in [0,1].
	Confidence float64 `json:"confidence"`
	// ValidFrom nil defaults to the insert time on write.
	ValidFrom *time.Time `json:"valid_from,omitempty"`
	// ValidUntil nil means the fact never expires.
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// EffectiveAt reports whether the fact is valid at time t:
// valid_from <= t and (valid_until is nil or valid_until > t).
func (f *Fact) EffectiveAt(t time.Time) bool {
	if f.ValidFrom != nil && f.ValidFrom.After(t) {
		return false
	}
	return f.ValidUntil == nil || f.ValidUntil.After(t)
}

// =============================================================================
// Governance
// =============================================================================

// AuditDecision enumerates the governance actions over a memory.
type AuditDecision string

const (
	DecisionRetain    AuditDecision = "retain"
	DecisionDelete    AuditDecision = "delete"
	DecisionAnonymize AuditDecision = "anonymize"
)

// Valid reports whether the decision is one of the known actions.
func (d AuditDecision) Valid() bool {
	switch d {
	case DecisionRetain, DecisionDelete, DecisionAnonymize:
		return true
	}
	return false
}

// AuditRecord is one committed governance decision over a memory.
// Version is strictly increasing per (app, user, memory).
type AuditRecord struct {
	ID             string        `json:"id"`
	AppName        string        `json:"app_name"`
	UserID         string        `json:"user_id"`
	MemoryID       string        `json:"memory_id"`
	Decision       AuditDecision `json:"decision"`
	Note           string        `json:"note,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	Version        int           `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
}
