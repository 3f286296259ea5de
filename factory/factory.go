// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package factory constructs backend-selectable services from
// configuration.
//
// # Description
//
// Each service has a memoized factory keyed by its backend setting
// ("memory", "database", "gcs", or "auto"). Callers that pass an
// explicit backend override get an uncached instance. Reset() clears
// every singleton; it exists for tests only.
//
// # Thread Safety
//
// All factories are safe for concurrent use.
package factory

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/negentropy/artifact"
	"github.com/AleutianAI/negentropy/config"
	"github.com/AleutianAI/negentropy/credential"
	"github.com/AleutianAI/negentropy/knowledge"
	"github.com/AleutianAI/negentropy/memory"
	"github.com/AleutianAI/negentropy/provider"
	"github.com/AleutianAI/negentropy/session"
	"github.com/AleutianAI/negentropy/storage"
	"github.com/AleutianAI/negentropy/tracing"
)

// Backend names accepted by the factories.
const (
	BackendAuto     = "auto"
	BackendMemory   = "memory"
	BackendDatabase = "database"
	BackendGCS      = "gcs"
)

// Factory builds and caches the engine's services for one Config.
type Factory struct {
	cfg *config.Config

	mu          sync.Mutex
	db          *storage.DB
	sessions    map[string]session.Store
	memories    map[string]memory.Store
	credentials map[string]credential.Store
	repos       map[string]knowledge.Repository
	artifacts   map[string]artifact.Store
	spanStores  map[string]tracing.SpanStore
	embedder    provider.Embedder
	chatModel   provider.ChatModel
}

// New creates a Factory for the given configuration. Pass db when the
// pool is already connected; otherwise database backends fail with a
// clear error instead of dialing implicitly.
func New(cfg *config.Config, db *storage.DB) *Factory {
	return &Factory{
		cfg:         cfg,
		db:          db,
		sessions:    make(map[string]session.Store),
		memories:    make(map[string]memory.Store),
		credentials: make(map[string]credential.Store),
		repos:       make(map[string]knowledge.Repository),
		artifacts:   make(map[string]artifact.Store),
		spanStores:  make(map[string]tracing.SpanStore),
	}
}

// Reset clears all cached singletons. Test-only.
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = make(map[string]session.Store)
	f.memories = make(map[string]memory.Store)
	f.credentials = make(map[string]credential.Store)
	f.repos = make(map[string]knowledge.Repository)
	f.artifacts = make(map[string]artifact.Store)
	f.spanStores = make(map[string]tracing.SpanStore)
	f.embedder = nil
	f.chatModel = nil
}

// resolve maps "auto" and "" to the configured database mode.
func (f *Factory) resolve(backend string) string {
	if backend == "" || backend == BackendAuto {
		if f.cfg.UsePostgres() {
			return BackendDatabase
		}
		return BackendMemory
	}
	return backend
}

func (f *Factory) requireDB() (*storage.DB, error) {
	if f.db == nil {
		return nil, fmt.Errorf("database backend selected but no pool is connected")
	}
	return f.db, nil
}

// ===== Session Store =====

// SessionStore returns the memoized store for the configured backend.
func (f *Factory) SessionStore() (session.Store, error) {
	return f.sessionStore(f.resolve(f.cfg.Services.SessionBackend), true)
}

// SessionStoreFor builds an uncached store for an explicit backend.
func (f *Factory) SessionStoreFor(backend string) (session.Store, error) {
	return f.sessionStore(f.resolve(backend), false)
}

func (f *Factory) sessionStore(backend string, cache bool) (session.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cache {
		if s, ok := f.sessions[backend]; ok {
			return s, nil
		}
	}

	var store session.Store
	switch backend {
	case BackendMemory:
		store = session.NewMemoryStore()
	case BackendDatabase:
		db, err := f.requireDB()
		if err != nil {
			return nil, err
		}
		store = session.NewPostgresStore(db)
	default:
		return nil, fmt.Errorf("unknown session backend %q", backend)
	}
	if cache {
		f.sessions[backend] = store
	}
	return store, nil
}

// ===== Memory Store =====

func (f *Factory) MemoryStore() (memory.Store, error) {
	return f.memoryStore(f.resolve(f.cfg.Services.MemoryBackend), true)
}

func (f *Factory) MemoryStoreFor(backend string) (memory.Store, error) {
	return f.memoryStore(f.resolve(backend), false)
}

func (f *Factory) memoryStore(backend string, cache bool) (memory.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cache {
		if s, ok := f.memories[backend]; ok {
			return s, nil
		}
	}

	var store memory.Store
	switch backend {
	case BackendMemory:
		store = memory.NewMemoryStore()
	case BackendDatabase:
		db, err := f.requireDB()
		if err != nil {
			return nil, err
		}
		store = memory.NewPostgresStore(db)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", backend)
	}
	if cache {
		f.memories[backend] = store
	}
	return store, nil
}

// ===== Credential Store =====

func (f *Factory) CredentialStore() (credential.Store, error) {
	return f.credentialStore(f.resolve(f.cfg.Services.CredentialBackend), true)
}

func (f *Factory) CredentialStoreFor(backend string) (credential.Store, error) {
	return f.credentialStore(f.resolve(backend), false)
}

func (f *Factory) credentialStore(backend string, cache bool) (credential.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cache {
		if s, ok := f.credentials[backend]; ok {
			return s, nil
		}
	}

	var store credential.Store
	switch backend {
	case BackendMemory:
		store = credential.NewMemoryStore()
	case BackendDatabase:
		db, err := f.requireDB()
		if err != nil {
			return nil, err
		}
		store = credential.NewPostgresStore(db)
	default:
		return nil, fmt.Errorf("unknown credential backend %q", backend)
	}
	if cache {
		f.credentials[backend] = store
	}
	return store, nil
}

// ===== Knowledge Repository =====

func (f *Factory) KnowledgeRepository() (knowledge.Repository, error) {
	return f.knowledgeRepo(f.resolve(f.cfg.Services.KnowledgeBackend), true)
}

func (f *Factory) KnowledgeRepositoryFor(backend string) (knowledge.Repository, error) {
	return f.knowledgeRepo(f.resolve(backend), false)
}

func (f *Factory) knowledgeRepo(backend string, cache bool) (knowledge.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cache {
		if r, ok := f.repos[backend]; ok {
			return r, nil
		}
	}

	var repo knowledge.Repository
	switch backend {
	case BackendMemory:
		repo = knowledge.NewMemoryRepository()
	case BackendDatabase:
		db, err := f.requireDB()
		if err != nil {
			return nil, err
		}
		repo = knowledge.NewPostgresRepository(db)
	default:
		return nil, fmt.Errorf("unknown knowledge backend %q", backend)
	}
	if cache {
		f.repos[backend] = repo
	}
	return repo, nil
}

// ===== Artifact Store =====

func (f *Factory) ArtifactStore(ctx context.Context) (artifact.Store, error) {
	return f.artifactStore(ctx, f.cfg.Storage.Backend, true)
}

func (f *Factory) ArtifactStoreFor(ctx context.Context, backend string) (artifact.Store, error) {
	return f.artifactStore(ctx, backend, false)
}

func (f *Factory) artifactStore(ctx context.Context, backend string, cache bool) (artifact.Store, error) {
	if backend == "" || backend == BackendAuto {
		backend = BackendMemory
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if cache {
		if s, ok := f.artifacts[backend]; ok {
			return s, nil
		}
	}

	var store artifact.Store
	switch backend {
	case BackendMemory:
		store = artifact.NewMemoryStore()
	case BackendGCS:
		gcs, err := artifact.NewGCSStore(ctx, f.cfg.Storage.GCSBucket, "")
		if err != nil {
			return nil, err
		}
		store = gcs
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", backend)
	}
	if cache {
		f.artifacts[backend] = store
	}
	return store, nil
}

// ===== Span Store =====

func (f *Factory) SpanStore() (tracing.SpanStore, error) {
	backend := f.resolve(BackendAuto)
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.spanStores[backend]; ok {
		return s, nil
	}

	var store tracing.SpanStore
	switch backend {
	case BackendMemory:
		store = tracing.NewMemorySpanStore()
	case BackendDatabase:
		db, err := f.requireDB()
		if err != nil {
			return nil, err
		}
		store = tracing.NewPostgresSpanStore(db)
	}
	f.spanStores[backend] = store
	return store, nil
}

// ===== Providers =====

// Embedder returns the configured embedding provider: OpenAI-compatible
// when a base URL is set, otherwise the deterministic local embedder.
func (f *Factory) Embedder() provider.Embedder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.embedder == nil {
		if f.cfg.Provider.BaseURL != "" || f.cfg.Provider.APIKey != "" {
			f.embedder = provider.NewOpenAIProvider(f.cfg.Provider)
		} else {
			f.embedder = provider.NewHashEmbedder(f.cfg.Provider.EmbeddingDim)
		}
	}
	return f.embedder
}

// ChatModel returns the configured chat provider, or nil when no remote
// provider is configured. Callers treat nil as "feature disabled".
func (f *Factory) ChatModel() provider.ChatModel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatModel == nil {
		if f.cfg.Provider.BaseURL != "" || f.cfg.Provider.APIKey != "" {
			f.chatModel = provider.NewOpenAIProvider(f.cfg.Provider)
		}
	}
	return f.chatModel
}
