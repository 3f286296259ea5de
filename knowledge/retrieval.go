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
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/observability"
	"github.com/AleutianAI/negentropy/pkg/logging"
	"github.com/AleutianAI/negentropy/provider"
)

var tracer = otel.Tracer("negentropy.knowledge")

// Retriever dispatches retrieval modes over a Repository and passes
// results through a Reranker.
type Retriever struct {
	repo     Repository
	embedder provider.Embedder
	reranker Reranker
	logger   *logging.Logger
}

// NewRetriever creates a Retriever. reranker may be nil (Noop).
func NewRetriever(repo Repository, embedder provider.Embedder, reranker Reranker, logger *logging.Logger) *Retriever {
	if reranker == nil {
		reranker = NoopReranker{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Retriever{repo: repo, embedder: embedder, reranker: reranker, logger: logger}
}

// Search runs the configured retrieval mode over a corpus and reranks
// the merged results.
func (r *Retriever) Search(ctx context.Context, corpusID, query string, cfg datatypes.SearchConfig) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "knowledge.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.mode", string(cfg.Mode)),
		attribute.String("corpus.id", corpusID),
	)

	if query == "" {
		return nil, datatypes.InvalidArgument("query is required")
	}
	cfg = normalizeConfig(cfg)
	if !cfg.Mode.Valid() {
		return nil, datatypes.InvalidArgument("unknown search mode %q", cfg.Mode)
	}

	started := time.Now()
	var (
		results []datatypes.SearchResult
		err     error
	)
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.RecordSearch(string(cfg.Mode), status, time.Since(started).Seconds())
	}()
	switch cfg.Mode {
	case datatypes.SearchModeSemantic:
		results, err = r.semantic(ctx, corpusID, query, cfg)
	case datatypes.SearchModeKeyword:
		results, err = r.repo.KeywordSearch(ctx, corpusID, query, cfg.Limit, cfg.MetadataFilter)
		for i := range results {
			results[i].CombinedScore = results[i].KeywordScore
		}
	case datatypes.SearchModeHybrid:
		results, err = r.fused(ctx, corpusID, query, cfg, false)
	case datatypes.SearchModeRRF:
		results, err = r.fused(ctx, corpusID, query, cfg, true)
	}
	if err != nil {
		return nil, err
	}

	reranked, err := r.reranker.Rerank(ctx, query, results, cfg)
	if err != nil {
		// Rerank failure degrades to the fused order.
		r.logger.Warn("rerank failed, returning unreranked results", "error", err)
		err = nil
		return results, nil
	}
	return reranked, nil
}

func (r *Retriever) semantic(ctx context.Context, corpusID, query string, cfg datatypes.SearchConfig) ([]datatypes.SearchResult, error) {
	queryVec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := r.repo.SemanticSearch(ctx, corpusID, queryVec, cfg.Limit, cfg.MetadataFilter)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].CombinedScore = results[i].SemanticScore
	}
	return results, nil
}

// fused runs semantic and keyword retrieval and merges by id, either
// weighted (hybrid) or by reciprocal-rank fusion.
func (r *Retriever) fused(ctx context.Context, corpusID, query string, cfg datatypes.SearchConfig, rrf bool) ([]datatypes.SearchResult, error) {
	// Overfetch both lists so fusion has candidates beyond the cut.
	fetchLimit := cfg.Limit * 2

	var semantic []datatypes.SearchResult
	queryVec, err := r.embedQuery(ctx, query)
	if err == nil {
		semantic, err = r.repo.SemanticSearch(ctx, corpusID, queryVec, fetchLimit, cfg.MetadataFilter)
		if err != nil {
			return nil, err
		}
	} else if !datatypes.IsKind(err, datatypes.KindEmbeddingFailed) {
		return nil, err
	}

	keyword, err := r.repo.KeywordSearch(ctx, corpusID, query, fetchLimit, cfg.MetadataFilter)
	if err != nil {
		return nil, err
	}

	if rrf {
		return MergeRRF(semantic, keyword, cfg.RRFK, cfg.Limit), nil
	}
	return MergeWeighted(semantic, keyword, cfg.SemanticWeight, cfg.KeywordWeight, cfg.Limit), nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.embedder == nil {
		return nil, datatypes.EmbeddingFailed(nil)
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func normalizeConfig(cfg datatypes.SearchConfig) datatypes.SearchConfig {
	if cfg.Mode == "" {
		cfg.Mode = datatypes.SearchModeHybrid
	}
	if cfg.Limit <= 0 {
		cfg.Limit = datatypes.DefaultSearchLimit
	}
	if cfg.SemanticWeight == 0 && cfg.KeywordWeight == 0 {
		cfg.SemanticWeight = datatypes.DefaultSemanticWeight
		cfg.KeywordWeight = datatypes.DefaultKeywordWeight
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = datatypes.DefaultRRFK
	}
	return cfg
}

// =============================================================================
// Fusion (pure)
// =============================================================================

// MergeWeighted combines semantic and keyword result lists by id with a
// weighted score sum. Missing scores count as zero.
func MergeWeighted(semantic, keyword []datatypes.SearchResult, semWeight, kwWeight float64, limit int) []datatypes.SearchResult {
	byID := make(map[string]*datatypes.SearchResult)
	order := make([]string, 0, len(semantic)+len(keyword))

	for _, res := range semantic {
		copied := res
		byID[res.KnowledgeID] = &copied
		order = append(order, res.KnowledgeID)
	}
	for _, res := range keyword {
		if existing, ok := byID[res.KnowledgeID]; ok {
			existing.KeywordScore = res.KeywordScore
			continue
		}
		copied := res
		byID[res.KnowledgeID] = &copied
		order = append(order, res.KnowledgeID)
	}

	merged := make([]datatypes.SearchResult, 0, len(order))
	for _, id := range order {
		res := byID[id]
		res.CombinedScore = semWeight*res.SemanticScore + kwWeight*res.KeywordScore
		merged = append(merged, *res)
	}
	sortByCombined(merged)
	return truncate(merged, limit)
}

// MergeRRF combines two ranked lists by reciprocal-rank fusion:
// score = sum over lists of 1/(k + rank), rank 1-based. Insensitive to
// the scale of the underlying scores.
func MergeRRF(semantic, keyword []datatypes.SearchResult, k, limit int) []datatypes.SearchResult {
	if k <= 0 {
		k = datatypes.DefaultRRFK
	}

	byID := make(map[string]*datatypes.SearchResult)
	scores := make(map[string]float64)
	order := make([]string, 0, len(semantic)+len(keyword))

	accumulate := func(list []datatypes.SearchResult, merge func(dst *datatypes.SearchResult, src datatypes.SearchResult)) {
		for rank, res := range list {
			existing, ok := byID[res.KnowledgeID]
			if !ok {
				copied := res
				byID[res.KnowledgeID] = &copied
				order = append(order, res.KnowledgeID)
			} else {
				merge(existing, res)
			}
			scores[res.KnowledgeID] += 1 / float64(k+rank+1)
		}
	}
	accumulate(semantic, func(dst *datatypes.SearchResult, src datatypes.SearchResult) {
		dst.SemanticScore = src.SemanticScore
	})
	accumulate(keyword, func(dst *datatypes.SearchResult, src datatypes.SearchResult) {
		dst.KeywordScore = src.KeywordScore
	})

	merged := make([]datatypes.SearchResult, 0, len(order))
	for _, id := range order {
		res := byID[id]
		res.CombinedScore = scores[id]
		merged = append(merged, *res)
	}
	sortByCombined(merged)
	return truncate(merged, limit)
}

func sortByCombined(results []datatypes.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})
}

func truncate(results []datatypes.SearchResult, limit int) []datatypes.SearchResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
