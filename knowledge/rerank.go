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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/provider"
)

// Reranker reorders retrieval results by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []datatypes.SearchResult, cfg datatypes.SearchConfig) ([]datatypes.SearchResult, error)
}

// NoopReranker preserves the incoming order.
type NoopReranker struct{}

func (NoopReranker) Rerank(ctx context.Context, query string, results []datatypes.SearchResult, cfg datatypes.SearchConfig) ([]datatypes.SearchResult, error) {
	return results, nil
}

// LocalReranker rescores candidate-query pairs with a cross-encoder
// style scorer. Semantic and combined scores are overwritten with the
// rescore; candidates below cfg.ScoreThreshold are dropped; scores are
// optionally min-max normalized to 0..1.
type LocalReranker struct {
	Scorer    provider.Reranker
	Normalize bool
}

func (r *LocalReranker) Rerank(ctx context.Context, query string, results []datatypes.SearchResult, cfg datatypes.SearchConfig) ([]datatypes.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	docs := make([]string, len(results))
	for i, res := range results {
		docs[i] = res.Content
	}
	scores, err := r.Scorer.Rerank(ctx, query, docs)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(results) {
		return nil, fmt.Errorf("reranker returned %d scores for %d documents", len(scores), len(results))
	}

	if r.Normalize {
		scores = minMaxNormalize(scores)
	}

	out := make([]datatypes.SearchResult, 0, len(results))
	for i, res := range results {
		if cfg.ScoreThreshold > 0 && scores[i] < cfg.ScoreThreshold {
			continue
		}
		res.SemanticScore = scores[i]
		res.CombinedScore = scores[i]
		out = append(out, res)
	}
	sortByCombined(out)
	return out, nil
}

// APIReranker posts {query, documents, top_n, model} to an external
// rerank endpoint and reorders by the returned relevance scores.
type APIReranker struct {
	Endpoint string
	Model    string
	Client   *http.Client
}

type apiRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
	Model     string   `json:"model"`
}

type apiRerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type apiRerankResponse struct {
	Results []apiRerankResult `json:"results"`
}

func (r *APIReranker) Rerank(ctx context.Context, query string, results []datatypes.SearchResult, cfg datatypes.SearchConfig) ([]datatypes.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	docs := make([]string, len(results))
	for i, res := range results {
		docs[i] = res.Content
	}
	body, err := json.Marshal(apiRerankRequest{
		Query:     query,
		Documents: docs,
		TopN:      cfg.Limit,
		Model:     r.Model,
	})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank endpoint returned %d", resp.StatusCode)
	}

	var decoded apiRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	out := make([]datatypes.SearchResult, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		if item.Index < 0 || item.Index >= len(results) {
			return nil, fmt.Errorf("rerank index %d out of range", item.Index)
		}
		res := results[item.Index]
		res.SemanticScore = item.RelevanceScore
		res.CombinedScore = item.RelevanceScore
		out = append(out, res)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CombinedScore > out[j].CombinedScore
	})
	return out, nil
}

// CompositeReranker tries Primary, then Fallback, then Noop. Any error
// falls through to the next stage.
type CompositeReranker struct {
	Primary  Reranker
	Fallback Reranker
}

func (r *CompositeReranker) Rerank(ctx context.Context, query string, results []datatypes.SearchResult, cfg datatypes.SearchConfig) ([]datatypes.SearchResult, error) {
	if r.Primary != nil {
		if out, err := r.Primary.Rerank(ctx, query, results, cfg); err == nil {
			return out, nil
		}
	}
	if r.Fallback != nil {
		if out, err := r.Fallback.Rerank(ctx, query, results, cfg); err == nil {
			return out, nil
		}
	}
	return NoopReranker{}.Rerank(ctx, query, results, cfg)
}

func minMaxNormalize(scores []float64) []float64 {
	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	if max == min {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}
