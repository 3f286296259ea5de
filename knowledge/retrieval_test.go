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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/provider"
)

func result(id string, sem, kw float64) datatypes.SearchResult {
	return datatypes.SearchResult{KnowledgeID: id, Content: id, SemanticScore: sem, KeywordScore: kw}
}

func TestMergeWeighted(t *testing.T) {
	semantic := []datatypes.SearchResult{result("a", 0.9, 0), result("b", 0.5, 0)}
	keyword := []datatypes.SearchResult{result("b", 0, 1.0), result("c", 0, 0.4)}

	merged := MergeWeighted(semantic, keyword, 0.7, 0.3, 10)
	require.Len(t, merged, 3)

	byID := map[string]datatypes.SearchResult{}
	for _, m := range merged {
		byID[m.KnowledgeID] = m
	}
	assert.InDelta(t, 0.7*0.9, byID["a"].CombinedScore, 1e-9)
	assert.InDelta(t, 0.7*0.5+0.3*1.0, byID["b"].CombinedScore, 1e-9)
	assert.InDelta(t, 0.3*0.4, byID["c"].CombinedScore, 1e-9)

	// b appears in both lists and carries both component scores.
	assert.InDelta(t, 0.5, byID["b"].SemanticScore, 1e-9)
	assert.InDelta(t, 1.0, byID["b"].KeywordScore, 1e-9)

	// Sorted by combined score, descending.
	assert.Equal(t, "b", merged[0].KnowledgeID)
	assert.Equal(t, "a", merged[1].KnowledgeID)
}

func TestMergeWeighted_Limit(t *testing.T) {
	semantic := []datatypes.SearchResult{result("a", 0.9, 0), result("b", 0.8, 0), result("c", 0.7, 0)}
	merged := MergeWeighted(semantic, nil, 0.7, 0.3, 2)
	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].KnowledgeID)
}

func TestMergeRRF(t *testing.T) {
	semantic := []datatypes.SearchResult{result("a", 0.9, 0), result("b", 0.5, 0)}
	keyword := []datatypes.SearchResult{result("b", 0, 1.0), result("a", 0, 0.4)}

	merged := MergeRRF(semantic, keyword, 60, 10)
	require.Len(t, merged, 2)

	// Ranks are 1-based: a = 1/61 + 1/62, b = 1/62 + 1/61. Tie.
	want := 1.0/61 + 1.0/62
	for _, m := range merged {
		assert.InDelta(t, want, m.CombinedScore, 1e-9)
	}
}

func TestMergeRRF_RankBeatsScore(t *testing.T) {
	// RRF only sees positions. A huge raw score on a lower rank does
	// not outrank a first-place finish in both lists.
	semantic := []datatypes.SearchResult{result("a", 0.51, 0), result("b", 0.5, 0)}
	keyword := []datatypes.SearchResult{result("a", 0, 0.1), result("b", 0, 99)}

	merged := MergeRRF(semantic, keyword, 60, 10)
	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].KnowledgeID)
}

// seedCorpus inserts a corpus with a few chunks embedded by a
// deterministic hash embedder.
func seedCorpus(t *testing.T, repo Repository, embedder provider.Embedder, contents []string) *datatypes.Corpus {
	t.Helper()
	ctx := context.Background()

	corpus := &datatypes.Corpus{AppName: "app", Name: "docs"}
	require.NoError(t, repo.CreateCorpus(ctx, corpus))

	vecs, err := embedder.Embed(ctx, contents)
	require.NoError(t, err)

	chunks := make([]datatypes.Knowledge, len(contents))
	for i, content := range contents {
		chunks[i] = datatypes.Knowledge{
			CorpusID:   corpus.ID,
			AppName:    "app",
			Content:    content,
			Embedding:  vecs[i],
			SourceURI:  "seed",
			ChunkIndex: i,
		}
	}
	require.NoError(t, repo.InsertChunks(ctx, chunks))
	return corpus
}

func TestRetriever_SemanticMode(t *testing.T) {
	repo := NewMemoryRepository()
	embedder := provider.NewHashEmbedder(64)
	corpus := seedCorpus(t, repo, embedder, []string{
		"the quick brown fox jumps over the lazy dog",
		"postgres replication and failover",
		"the quick brown fox",
	})

	r := NewRetriever(repo, embedder, nil, nil)
	results, err := r.Search(context.Background(), corpus.ID, "quick brown fox",
		datatypes.SearchConfig{Mode: datatypes.SearchModeSemantic, Limit: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Content, "fox")
	assert.Greater(t, results[0].SemanticScore, results[1].SemanticScore-1e-12)
}

func TestRetriever_KeywordMode(t *testing.T) {
	repo := NewMemoryRepository()
	embedder := provider.NewHashEmbedder(64)
	corpus := seedCorpus(t, repo, embedder, []string{
		"postgres replication and failover",
		"kafka consumer groups",
	})

	r := NewRetriever(repo, embedder, nil, nil)
	results, err := r.Search(context.Background(), corpus.ID, "postgres failover",
		datatypes.SearchConfig{Mode: datatypes.SearchModeKeyword})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "postgres")
	assert.Equal(t, results[0].KeywordScore, results[0].CombinedScore)
}

func TestRetriever_HybridAndRRFModes(t *testing.T) {
	repo := NewMemoryRepository()
	embedder := provider.NewHashEmbedder(64)
	corpus := seedCorpus(t, repo, embedder, []string{
		"error handling in distributed systems",
		"error budgets and SLOs",
		"gardening for beginners",
	})

	r := NewRetriever(repo, embedder, nil, nil)
	for _, mode := range []datatypes.SearchMode{datatypes.SearchModeHybrid, datatypes.SearchModeRRF} {
		results, err := r.Search(context.Background(), corpus.ID, "error handling",
			datatypes.SearchConfig{Mode: mode, Limit: 3})
		require.NoError(t, err, "mode %s", mode)
		require.NotEmpty(t, results, "mode %s", mode)
		assert.Contains(t, results[0].Content, "error", "mode %s", mode)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].CombinedScore, results[i].CombinedScore)
		}
	}
}

func TestRetriever_HybridWithoutEmbedder(t *testing.T) {
	repo := NewMemoryRepository()
	embedder := provider.NewHashEmbedder(64)
	corpus := seedCorpus(t, repo, embedder, []string{"postgres failover runbook"})

	// No embedder: hybrid degrades to keyword-only instead of failing.
	r := NewRetriever(repo, nil, nil, nil)
	results, err := r.Search(context.Background(), corpus.ID, "postgres",
		datatypes.SearchConfig{Mode: datatypes.SearchModeHybrid})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].SemanticScore)
}

func TestRetriever_SemanticWithoutEmbedderFails(t *testing.T) {
	repo := NewMemoryRepository()
	r := NewRetriever(repo, nil, nil, nil)
	_, err := r.Search(context.Background(), "some-corpus", "query",
		datatypes.SearchConfig{Mode: datatypes.SearchModeSemantic})
	require.Error(t, err)
	assert.True(t, datatypes.IsKind(err, datatypes.KindEmbeddingFailed))
}

func TestRetriever_Validation(t *testing.T) {
	r := NewRetriever(NewMemoryRepository(), nil, nil, nil)

	_, err := r.Search(context.Background(), "c", "", datatypes.SearchConfig{})
	assert.True(t, datatypes.IsKind(err, datatypes.KindInvalidArgument))

	_, err = r.Search(context.Background(), "c", "q",
		datatypes.SearchConfig{Mode: datatypes.SearchMode("bogus")})
	assert.True(t, datatypes.IsKind(err, datatypes.KindInvalidArgument))
}

func TestRetriever_MetadataFilter(t *testing.T) {
	repo := NewMemoryRepository()
	embedder := provider.NewHashEmbedder(64)
	ctx := context.Background()

	corpus := &datatypes.Corpus{AppName: "app", Name: "docs"}
	require.NoError(t, repo.CreateCorpus(ctx, corpus))
	require.NoError(t, repo.InsertChunks(ctx, []datatypes.Knowledge{
		{CorpusID: corpus.ID, Content: "alpha release notes", Metadata: map[string]any{"lang": "en"}},
		{CorpusID: corpus.ID, Content: "alpha notas de versión", Metadata: map[string]any{"lang": "es"}},
	}))

	r := NewRetriever(repo, embedder, nil, nil)
	results, err := r.Search(ctx, corpus.ID, "alpha", datatypes.SearchConfig{
		Mode:           datatypes.SearchModeKeyword,
		MetadataFilter: map[string]any{"lang": "en"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "en", results[0].Metadata["lang"])
}

func TestNormalizeConfigDefaults(t *testing.T) {
	cfg := normalizeConfig(datatypes.SearchConfig{})
	assert.Equal(t, datatypes.SearchModeHybrid, cfg.Mode)
	assert.Equal(t, datatypes.DefaultSearchLimit, cfg.Limit)
	assert.InDelta(t, datatypes.DefaultSemanticWeight, cfg.SemanticWeight, 1e-9)
	assert.InDelta(t, datatypes.DefaultKeywordWeight, cfg.KeywordWeight, 1e-9)
	assert.Equal(t, datatypes.DefaultRRFK, cfg.RRFK)
	assert.False(t, math.IsNaN(cfg.SemanticWeight+cfg.KeywordWeight))
}
