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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/negentropy/datatypes"
)

// scriptedScorer returns fixed scores, or an error.
type scriptedScorer struct {
	scores []float64
	err    error
}

func (s *scriptedScorer) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func rerankInput() []datatypes.SearchResult {
	return []datatypes.SearchResult{
		result("a", 0.9, 0),
		result("b", 0.8, 0),
		result("c", 0.7, 0),
	}
}

func TestNoopReranker(t *testing.T) {
	in := rerankInput()
	out, err := NoopReranker{}.Rerank(context.Background(), "q", in, datatypes.SearchConfig{})
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLocalReranker_Reorders(t *testing.T) {
	r := &LocalReranker{Scorer: &scriptedScorer{scores: []float64{0.1, 0.9, 0.5}}}
	out, err := r.Rerank(context.Background(), "q", rerankInput(), datatypes.SearchConfig{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].KnowledgeID)
	assert.Equal(t, "c", out[1].KnowledgeID)
	assert.Equal(t, "a", out[2].KnowledgeID)
	assert.InDelta(t, 0.9, out[0].CombinedScore, 1e-9)
}

func TestLocalReranker_Threshold(t *testing.T) {
	r := &LocalReranker{Scorer: &scriptedScorer{scores: []float64{0.1, 0.9, 0.5}}}
	out, err := r.Rerank(context.Background(), "q", rerankInput(),
		datatypes.SearchConfig{ScoreThreshold: 0.4})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].KnowledgeID)
	assert.Equal(t, "c", out[1].KnowledgeID)
}

func TestLocalReranker_Normalize(t *testing.T) {
	r := &LocalReranker{Scorer: &scriptedScorer{scores: []float64{2, 6, 4}}, Normalize: true}
	out, err := r.Rerank(context.Background(), "q", rerankInput(), datatypes.SearchConfig{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.InDelta(t, 1.0, out[0].CombinedScore, 1e-9)
	assert.InDelta(t, 0.5, out[1].CombinedScore, 1e-9)
	assert.InDelta(t, 0.0, out[2].CombinedScore, 1e-9)
}

func TestLocalReranker_ScoreCountMismatch(t *testing.T) {
	r := &LocalReranker{Scorer: &scriptedScorer{scores: []float64{0.1}}}
	_, err := r.Rerank(context.Background(), "q", rerankInput(), datatypes.SearchConfig{})
	require.Error(t, err)
}

func TestAPIReranker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body apiRerankRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "q", body.Query)
		assert.Equal(t, []string{"a", "b", "c"}, body.Documents)
		assert.Equal(t, "test-model", body.Model)

		json.NewEncoder(w).Encode(apiRerankResponse{Results: []apiRerankResult{
			{Index: 2, RelevanceScore: 0.95},
			{Index: 0, RelevanceScore: 0.20},
		}})
	}))
	defer srv.Close()

	r := &APIReranker{Endpoint: srv.URL, Model: "test-model", Client: srv.Client()}
	out, err := r.Rerank(context.Background(), "q", rerankInput(), datatypes.SearchConfig{Limit: 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].KnowledgeID)
	assert.InDelta(t, 0.95, out[0].CombinedScore, 1e-9)
	assert.Equal(t, "a", out[1].KnowledgeID)
}

func TestAPIReranker_BadIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(apiRerankResponse{Results: []apiRerankResult{
			{Index: 7, RelevanceScore: 0.95},
		}})
	}))
	defer srv.Close()

	r := &APIReranker{Endpoint: srv.URL, Client: srv.Client()}
	_, err := r.Rerank(context.Background(), "q", rerankInput(), datatypes.SearchConfig{})
	require.Error(t, err)
}

func TestAPIReranker_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := &APIReranker{Endpoint: srv.URL, Client: srv.Client()}
	_, err := r.Rerank(context.Background(), "q", rerankInput(), datatypes.SearchConfig{})
	require.Error(t, err)
}

func TestCompositeReranker_FallsThrough(t *testing.T) {
	boom := &LocalReranker{Scorer: &scriptedScorer{err: errors.New("model offline")}}
	good := &LocalReranker{Scorer: &scriptedScorer{scores: []float64{0.1, 0.9, 0.5}}}

	r := &CompositeReranker{Primary: boom, Fallback: good}
	out, err := r.Rerank(context.Background(), "q", rerankInput(), datatypes.SearchConfig{})
	require.NoError(t, err)
	assert.Equal(t, "b", out[0].KnowledgeID)
}

func TestCompositeReranker_AllFail(t *testing.T) {
	boom := &LocalReranker{Scorer: &scriptedScorer{err: errors.New("model offline")}}

	// Both stages fail: the input order survives via the Noop tail.
	r := &CompositeReranker{Primary: boom, Fallback: boom}
	in := rerankInput()
	out, err := r.Rerank(context.Background(), "q", in, datatypes.SearchConfig{})
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
