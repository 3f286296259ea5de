// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/negentropy/config"
	"github.com/AleutianAI/negentropy/provider"
)

func memoryConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Services.SessionBackend = "auto"
	cfg.Services.MemoryBackend = "auto"
	cfg.Services.CredentialBackend = "auto"
	cfg.Services.KnowledgeBackend = "auto"
	cfg.Storage.Backend = "memory"
	cfg.Provider.EmbeddingDim = 64
	return cfg
}

func TestAutoResolvesToMemoryWithoutDatabase(t *testing.T) {
	f := New(memoryConfig(), nil)

	store, err := f.SessionStore()
	require.NoError(t, err)
	require.NotNil(t, store)

	repo, err := f.KnowledgeRepository()
	require.NoError(t, err)
	require.NotNil(t, repo)
}

func TestFactoriesAreMemoized(t *testing.T) {
	f := New(memoryConfig(), nil)

	first, err := f.SessionStore()
	require.NoError(t, err)
	second, err := f.SessionStore()
	require.NoError(t, err)
	assert.Same(t, first, second)

	m1, err := f.MemoryStore()
	require.NoError(t, err)
	m2, err := f.MemoryStore()
	require.NoError(t, err)
	assert.Same(t, m1, m2)
}

func TestExplicitOverrideIsNotCached(t *testing.T) {
	f := New(memoryConfig(), nil)

	cached, err := f.SessionStore()
	require.NoError(t, err)

	override, err := f.SessionStoreFor("memory")
	require.NoError(t, err)
	assert.NotSame(t, cached, override)

	again, err := f.SessionStoreFor("memory")
	require.NoError(t, err)
	assert.NotSame(t, override, again)
}

func TestResetClearsSingletons(t *testing.T) {
	f := New(memoryConfig(), nil)

	before, err := f.CredentialStore()
	require.NoError(t, err)

	f.Reset()

	after, err := f.CredentialStore()
	require.NoError(t, err)
	assert.NotSame(t, before, after)
}

func TestDatabaseBackendRequiresPool(t *testing.T) {
	f := New(memoryConfig(), nil)

	_, err := f.SessionStoreFor("database")
	assert.Error(t, err)

	_, err = f.KnowledgeRepositoryFor("database")
	assert.Error(t, err)
}

func TestUnknownBackendRejected(t *testing.T) {
	f := New(memoryConfig(), nil)

	_, err := f.MemoryStoreFor("cassandra")
	assert.Error(t, err)

	_, err = f.ArtifactStoreFor(context.Background(), "s3")
	assert.Error(t, err)
}

func TestArtifactStoreDefaultsToMemory(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Backend = ""
	f := New(cfg, nil)

	store, err := f.ArtifactStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestEmbedderFallsBackToLocal(t *testing.T) {
	f := New(memoryConfig(), nil)

	emb := f.Embedder()
	require.NotNil(t, emb)
	_, ok := emb.(*provider.HashEmbedder)
	assert.True(t, ok)

	assert.Nil(t, f.ChatModel())
}

func TestRemoteProviderSelectedWhenConfigured(t *testing.T) {
	cfg := memoryConfig()
	cfg.Provider.BaseURL = "http://localhost:11434/v1"
	f := New(cfg, nil)

	_, ok := f.Embedder().(*provider.OpenAIProvider)
	assert.True(t, ok)
	assert.NotNil(t, f.ChatModel())
}
