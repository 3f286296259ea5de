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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/provider"
)

func TestWriteDefaults(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil, 0)
	ctx := context.Background()

	m := &datatypes.Memory{UserID: "u", AppName: "app", Content: "note"}
	require.NoError(t, svc.Write(ctx, m))

	got, err := store.GetMemory(ctx, "app", "u", m.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.MemoryTypeEpisodic, got.MemoryType)
	assert.Equal(t, 1.0, got.RetentionScore)
	assert.Equal(t, 0, got.AccessCount)
	assert.Nil(t, got.Embedding)
}

func TestWriteValidation(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil, 0)
	err := svc.Write(context.Background(), &datatypes.Memory{UserID: "u", AppName: "app"})
	assert.True(t, datatypes.IsKind(err, datatypes.KindInvalidArgument))
}

func TestSearchVectorModeRanksBySimilarity(t *testing.T) {
	store := NewMemoryStore()
	embedder := provider.NewHashEmbedder(128)
	svc := NewService(store, embedder, nil, 10)
	ctx := context.Background()

	for _, content := range []string{
		"user prefers dark mode in the editor",
		"the weather in juneau is rainy",
	} {
		require.NoError(t, svc.Write(ctx, &datatypes.Memory{
			UserID: "u", AppName: "app", Content: content,
		}))
	}

	results, err := svc.Search(ctx, "app", "u", "dark mode preference")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Content, "dark mode")
}

func TestSearchTextModeSubstringNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil, 10)
	ctx := context.Background()

	require.NoError(t, svc.Write(ctx, &datatypes.Memory{
		UserID: "u", AppName: "app", Content: "older note about cats",
	}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, svc.Write(ctx, &datatypes.Memory{
		UserID: "u", AppName: "app", Content: "newer note about CATS too",
	}))

	results, err := svc.Search(ctx, "app", "u", "cats")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Content, "newer")
	// relevance_score mirrors retention_score in text mode
	assert.Equal(t, 1.0, results[0].RelevanceScore)
}

func TestTouchUpdatesAccessBookkeeping(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil, 0)
	ctx := context.Background()

	m := &datatypes.Memory{UserID: "u", AppName: "app", Content: "note"}
	require.NoError(t, svc.Write(ctx, m))
	assert.Nil(t, m.LastAccessedAt)

	require.NoError(t, svc.Touch(ctx, "app", "u", m.ID))
	require.NoError(t, svc.Touch(ctx, "app", "u", m.ID))

	got, err := store.GetMemory(ctx, "app", "u", m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
}

func TestUpsertFactOverwritesByIdentity(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil, 0)
	ctx := context.Background()

	first := &datatypes.Fact{
		UserID: "u", AppName: "app", FactType: "preference", Key: "theme",
		Value: map[string]any{"theme": "dark"},
	}
	require.NoError(t, svc.UpsertFact(ctx, first))
	firstID := first.ID

	second := &datatypes.Fact{
		UserID: "u", AppName: "app", FactType: "preference", Key: "theme",
		Value: map[string]any{"theme": "light"}, Confidence: 0.8,
	}
	require.NoError(t, svc.UpsertFact(ctx, second))

	facts, err := svc.ListFacts(ctx, "app", "u")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, firstID, facts[0].ID)
	assert.Equal(t, map[string]any{"theme": "light"}, facts[0].Value)
	assert.Equal(t, 0.8, facts[0].Confidence)
}

func TestExpiredFactsFiltered(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil, 0)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, svc.UpsertFact(ctx, &datatypes.Fact{
		UserID: "u", AppName: "app", FactType: "preference", Key: "stale",
		Value: map[string]any{"v": 1}, ValidUntil: &past,
	}))
	require.NoError(t, svc.UpsertFact(ctx, &datatypes.Fact{
		UserID: "u", AppName: "app", FactType: "preference", Key: "current",
		Value: map[string]any{"v": 2},
	}))

	facts, err := svc.ListFacts(ctx, "app", "u")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "current", facts[0].Key)
}

func TestFactValidityBoundaryIsExclusive(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// A fact expiring exactly at t is no longer valid at t.
	f := &datatypes.Fact{ValidUntil: &at}
	assert.False(t, f.EffectiveAt(at))
	assert.True(t, f.EffectiveAt(at.Add(-time.Second)))

	// valid_from is inclusive; nil bounds never restrict.
	g := &datatypes.Fact{ValidFrom: &at}
	assert.True(t, g.EffectiveAt(at))
	assert.False(t, g.EffectiveAt(at.Add(-time.Second)))
	assert.True(t, (&datatypes.Fact{}).EffectiveAt(at))
}

func TestListRecomputesRetentionScores(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil, nil, 0)
	ctx := context.Background()

	m := &datatypes.Memory{UserID: "u", AppName: "app", Content: "note"}
	require.NoError(t, svc.Write(ctx, m))
	require.NoError(t, svc.Touch(ctx, "app", "u", m.ID))

	memories, err := svc.List(ctx, "app", "u", 0)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	// Fresh access, count 1: exp(0) * (1 + ln 2) / 5
	assert.InDelta(t, 0.3386, memories[0].RetentionScore, 0.01)
}
