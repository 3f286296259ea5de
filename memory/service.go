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
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/pkg/logging"
	"github.com/AleutianAI/negentropy/provider"
)

var tracer = otel.Tracer("negentropy.memory")

// Service implements memory writes, consolidation, search, and the fact
// lifecycle on top of a Store. The embedder may be nil; all operations
// then run in text-only mode.
type Service struct {
	store    Store
	embedder provider.Embedder
	logger   *logging.Logger
	limit    int
}

// NewService creates a memory Service. limit caps search results
// (default 10 when <= 0).
func NewService(store Store, embedder provider.Embedder, logger *logging.Logger, limit int) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if limit <= 0 {
		limit = 10
	}
	return &Service{store: store, embedder: embedder, logger: logger, limit: limit}
}

// Write stores a memory with default retention bookkeeping. An absent
// embedding is computed from content when an embedder is configured;
// embedding failure degrades to a null embedding.
func (s *Service) Write(ctx context.Context, m *datatypes.Memory) error {
	ctx, span := tracer.Start(ctx, "memory.Write")
	defer span.End()

	if m.UserID == "" || m.AppName == "" {
		return datatypes.InvalidArgument("user_id and app_name are required")
	}
	if m.Content == "" {
		return datatypes.InvalidArgument("content is required")
	}
	if m.MemoryType == "" {
		m.MemoryType = datatypes.MemoryTypeEpisodic
	}
	m.RetentionScore = 1.0
	m.AccessCount = 0

	if m.Embedding == nil {
		m.Embedding = s.tryEmbed(ctx, m.Content)
	}
	return s.store.CreateMemory(ctx, m)
}

// Consolidate distills the session into an episodic memory and stores
// it. Returns the stored memory, or nil when the session had no
// conversational text.
func (s *Service) Consolidate(ctx context.Context, sess *datatypes.Session) (*datatypes.Memory, error) {
	ctx, span := tracer.Start(ctx, "memory.Consolidate")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID))

	var embed func(ctx context.Context, text string) ([]float32, error)
	if s.embedder != nil {
		embed = func(ctx context.Context, text string) ([]float32, error) {
			vecs, err := s.embedder.Embed(ctx, []string{text})
			if err != nil {
				return nil, err
			}
			return vecs[0], nil
		}
	}

	m, err := ConsolidateSession(ctx, sess, embed)
	if err != nil || m == nil {
		return nil, err
	}
	if err := s.store.CreateMemory(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info("session consolidated",
		"session_id", sess.ID, "memory_id", m.ID,
		"event_count", m.Metadata["event_count"])
	return m, nil
}

// Search ranks the user's memories against the query. Vector search when
// an embedder is configured, substring match otherwise. Each result
// carries retention_score as relevance metadata per the store contract.
func (s *Service) Search(ctx context.Context, appName, userID, query string) ([]datatypes.MemorySearchResult, error) {
	ctx, span := tracer.Start(ctx, "memory.Search")
	defer span.End()

	queryVec := s.tryEmbed(ctx, query)
	return s.store.SearchMemories(ctx, appName, userID, query, queryVec, s.limit)
}

// Touch records an access for retention scoring.
func (s *Service) Touch(ctx context.Context, appName, userID, memoryID string) error {
	return s.store.TouchMemory(ctx, appName, userID, memoryID)
}

// List returns the user's memories, newest first, with retention scores
// recomputed against the current clock.
func (s *Service) List(ctx context.Context, appName, userID string, limit int) ([]datatypes.Memory, error) {
	memories, err := s.store.ListMemories(ctx, appName, userID, limit)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range memories {
		memories[i].RetentionScore = RetentionScore(
			memories[i].LastAccessedAt, memories[i].AccessCount, now, DefaultDecayLambda)
	}
	return memories, nil
}

// UpsertFact writes a fact by identity (user, app, fact_type, key). The
// embedding input is "{key}: {stringified value}"; embedding failures
// are logged and the fact persists with a null embedding.
func (s *Service) UpsertFact(ctx context.Context, f *datatypes.Fact) error {
	ctx, span := tracer.Start(ctx, "memory.UpsertFact")
	defer span.End()

	if f.UserID == "" || f.AppName == "" || f.Key == "" {
		return datatypes.InvalidArgument("user_id, app_name, and key are required")
	}
	if f.FactType == "" {
		f.FactType = datatypes.MemoryTypeSemantic
	}
	if f.Confidence == 0 {
		f.Confidence = 1.0
	}

	if f.Embedding == nil {
		input := fmt.Sprintf("%s: %v", f.Key, f.Value)
		f.Embedding = s.tryEmbed(ctx, input)
	}
	return s.store.UpsertFact(ctx, f)
}

// SearchFacts ranks unexpired facts against the query.
func (s *Service) SearchFacts(ctx context.Context, appName, userID, query string) ([]datatypes.Fact, error) {
	ctx, span := tracer.Start(ctx, "memory.SearchFacts")
	defer span.End()

	queryVec := s.tryEmbed(ctx, query)
	return s.store.SearchFacts(ctx, appName, userID, query, queryVec, s.limit)
}

// ListFacts returns the user's unexpired facts.
func (s *Service) ListFacts(ctx context.Context, appName, userID string) ([]datatypes.Fact, error) {
	return s.store.ListFacts(ctx, appName, userID)
}

// tryEmbed returns nil on missing embedder or failure; callers degrade
// to text-only behavior.
func (s *Service) tryEmbed(ctx context.Context, text string) []float32 {
	if s.embedder == nil || text == "" {
		return nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		s.logger.Warn("embedding failed, continuing without vector", "error", err)
		return nil
	}
	return vecs[0]
}
