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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/negentropy/datatypes"
)

const testSessionID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

func seedMemoryWithFact(t *testing.T, store *MemoryStore) *datatypes.Memory {
	t.Helper()
	ctx := context.Background()

	m := &datatypes.Memory{
		SessionID:  testSessionID,
		UserID:     "u",
		AppName:    "app",
		MemoryType: datatypes.MemoryTypeEpisodic,
		Content:    "user prefers dark mode",
		Embedding:  []float32{0.1, 0.2},
		Metadata:   map[string]any{"source": "session"},
	}
	require.NoError(t, store.CreateMemory(ctx, m))

	require.NoError(t, store.UpsertFact(ctx, &datatypes.Fact{
		SessionID: testSessionID,
		UserID:    "u",
		AppName:   "app",
		FactType:  "preference",
		Key:       "theme",
		Value:     map[string]any{"theme": "dark"},
		Embedding: []float32{0.3, 0.4},
	}))
	return m
}

func TestAuditRejectsUnknownAction(t *testing.T) {
	gov := NewGovernance(NewMemoryStore(), nil)

	_, err := gov.Audit(context.Background(), AuditRequest{
		AppName: "app", UserID: "u",
		Decisions: map[string]datatypes.AuditDecision{"m1": "purge"},
	})
	assert.True(t, datatypes.IsKind(err, datatypes.KindInvalidArgument))
}

func TestAuditDeleteRemovesMemoryAndSessionFacts(t *testing.T) {
	store := NewMemoryStore()
	m := seedMemoryWithFact(t, store)
	gov := NewGovernance(store, nil)
	ctx := context.Background()

	records, err := gov.Audit(ctx, AuditRequest{
		AppName: "app", UserID: "u",
		Decisions: map[string]datatypes.AuditDecision{m.ID: datatypes.DecisionDelete},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Version)

	_, err = store.GetMemory(ctx, "app", "u", m.ID)
	assert.True(t, datatypes.IsKind(err, datatypes.KindNotFound))

	facts, err := store.ListFacts(ctx, "app", "u")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestAuditAnonymize(t *testing.T) {
	store := NewMemoryStore()
	m := seedMemoryWithFact(t, store)
	gov := NewGovernance(store, nil)
	ctx := context.Background()

	_, err := gov.Audit(ctx, AuditRequest{
		AppName: "app", UserID: "u",
		Decisions: map[string]datatypes.AuditDecision{m.ID: datatypes.DecisionAnonymize},
	})
	require.NoError(t, err)

	got, err := store.GetMemory(ctx, "app", "u", m.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.AnonymizedContent, got.Content)
	assert.Nil(t, got.Metadata)
	assert.Nil(t, got.Embedding)

	facts, err := store.ListFacts(ctx, "app", "u")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, map[string]any{"anonymized": true}, facts[0].Value)
	assert.Nil(t, facts[0].Embedding)
}

func TestAuditRetainLeavesMemoryUntouched(t *testing.T) {
	store := NewMemoryStore()
	m := seedMemoryWithFact(t, store)
	gov := NewGovernance(store, nil)
	ctx := context.Background()

	records, err := gov.Audit(ctx, AuditRequest{
		AppName: "app", UserID: "u",
		Decisions: map[string]datatypes.AuditDecision{m.ID: datatypes.DecisionRetain},
	})
	require.NoError(t, err)
	assert.Equal(t, datatypes.DecisionRetain, records[0].Decision)

	got, err := store.GetMemory(ctx, "app", "u", m.ID)
	require.NoError(t, err)
	assert.Equal(t, "user prefers dark mode", got.Content)
}

func TestAuditIdempotentReplay(t *testing.T) {
	store := NewMemoryStore()
	m := seedMemoryWithFact(t, store)
	gov := NewGovernance(store, nil)
	ctx := context.Background()

	req := AuditRequest{
		AppName: "app", UserID: "u",
		Decisions:      map[string]datatypes.AuditDecision{m.ID: datatypes.DecisionDelete},
		IdempotencyKey: "req-42",
	}

	first, err := gov.Audit(ctx, req)
	require.NoError(t, err)

	// Replay returns the original records even though the memory is gone.
	second, err := gov.Audit(ctx, req)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].MemoryID, second[i].MemoryID)
		assert.Equal(t, first[i].Decision, second[i].Decision)
		assert.Equal(t, first[i].Version, second[i].Version)
	}
}

func TestAuditVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	m := seedMemoryWithFact(t, store)
	gov := NewGovernance(store, nil)
	ctx := context.Background()

	// First audit moves the version to 1.
	_, err := gov.Audit(ctx, AuditRequest{
		AppName: "app", UserID: "u",
		Decisions: map[string]datatypes.AuditDecision{m.ID: datatypes.DecisionRetain},
	})
	require.NoError(t, err)

	// A stale expectation fails and leaves the memory untouched.
	_, err = gov.Audit(ctx, AuditRequest{
		AppName: "app", UserID: "u",
		Decisions:        map[string]datatypes.AuditDecision{m.ID: datatypes.DecisionDelete},
		ExpectedVersions: map[string]int{m.ID: 0},
	})
	assert.True(t, datatypes.IsKind(err, datatypes.KindVersionConflict))

	_, err = store.GetMemory(ctx, "app", "u", m.ID)
	assert.NoError(t, err)
}

func TestAuditConcurrentVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	m := seedMemoryWithFact(t, store)
	gov := NewGovernance(store, nil)
	ctx := context.Background()

	// Move the version to 2 so both clients read expected=2.
	for i := 0; i < 2; i++ {
		_, err := gov.Audit(ctx, AuditRequest{
			AppName: "app", UserID: "u",
			Decisions: map[string]datatypes.AuditDecision{m.ID: datatypes.DecisionRetain},
		})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = gov.Audit(ctx, AuditRequest{
				AppName: "app", UserID: "u",
				Decisions:        map[string]datatypes.AuditDecision{m.ID: datatypes.DecisionDelete},
				ExpectedVersions: map[string]int{m.ID: 2},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, datatypes.IsKind(err, datatypes.KindVersionConflict))
		}
	}
	assert.Equal(t, 1, succeeded)

	_, err := store.GetMemory(ctx, "app", "u", m.ID)
	assert.True(t, datatypes.IsKind(err, datatypes.KindNotFound))
}

func TestAuditPartialFailureRevertsEverything(t *testing.T) {
	store := NewMemoryStore()
	m := seedMemoryWithFact(t, store)
	gov := NewGovernance(store, nil)
	ctx := context.Background()

	// Second decision targets a missing memory, so the whole request
	// must roll back, including the valid delete.
	_, err := gov.Audit(ctx, AuditRequest{
		AppName: "app", UserID: "u",
		Decisions: map[string]datatypes.AuditDecision{
			m.ID: datatypes.DecisionDelete,
			"ffffffff-ffff-ffff-ffff-ffffffffffff": datatypes.DecisionDelete,
		},
	})
	require.Error(t, err)

	_, err = store.GetMemory(ctx, "app", "u", m.ID)
	assert.NoError(t, err, "failed request must not delete anything")
}
