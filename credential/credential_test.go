// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package credential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/negentropy/datatypes"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	cred := &datatypes.Credential{
		AppName:        "app",
		UserID:         "u",
		CredentialKey:  "github_token",
		CredentialData: map[string]any{"token": "abc123"},
	}
	require.NoError(t, store.Put(ctx, cred))
	assert.False(t, cred.UpdatedAt.IsZero())

	got, err := store.Get(ctx, "app", "u", "github_token")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"token": "abc123"}, got.CredentialData)
}

func TestPutUpsertsAndBumpsUpdatedAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := &datatypes.Credential{AppName: "app", UserID: "u", CredentialKey: "k",
		CredentialData: map[string]any{"v": 1}}
	require.NoError(t, store.Put(ctx, first))

	second := &datatypes.Credential{AppName: "app", UserID: "u", CredentialKey: "k",
		CredentialData: map[string]any{"v": 2}}
	require.NoError(t, store.Put(ctx, second))

	got, err := store.Get(ctx, "app", "u", "k")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": 2}, got.CredentialData)
	assert.False(t, got.UpdatedAt.Before(first.UpdatedAt))
}

func TestPutValidatesKeys(t *testing.T) {
	store := NewMemoryStore()
	err := store.Put(context.Background(), &datatypes.Credential{AppName: "app"})
	assert.True(t, datatypes.IsKind(err, datatypes.KindInvalidArgument))
}

func TestGetMissingIsNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "app", "u", "nope")
	assert.True(t, datatypes.IsKind(err, datatypes.KindNotFound))
}

func TestDeleteMissingIsSilent(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.Delete(context.Background(), "app", "u", "nope"))
}

func TestListKeysScopedToUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		require.NoError(t, store.Put(ctx, &datatypes.Credential{
			AppName: "app", UserID: "u1", CredentialKey: key,
		}))
	}
	require.NoError(t, store.Put(ctx, &datatypes.Credential{
		AppName: "app", UserID: "u2", CredentialKey: "c",
	}))

	keys, err := store.ListKeys(ctx, "app", "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}
