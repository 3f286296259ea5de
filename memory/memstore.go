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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/storage"
)

// MemoryStore is an in-process Store. Audit transactions clone the
// store's state, apply mutations to the clone, and swap it in on
// success, so a failed request leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	memories map[string]*datatypes.Memory     // key: id
	facts    map[string]*datatypes.Fact       // key: user/app/type/key
	audits   []datatypes.AuditRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		memories: make(map[string]*datatypes.Memory),
		facts:    make(map[string]*datatypes.Fact),
	}}
}

func factIdentity(userID, appName, factType, key string) string {
	return userID + "/" + appName + "/" + factType + "/" + key
}

func (s *MemoryStore) CreateMemory(ctx context.Context, m *datatypes.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = now
	m.UpdatedAt = now

	stored := *m
	s.state.memories[m.ID] = &stored
	return nil
}

func (s *MemoryStore) GetMemory(ctx context.Context, appName, userID, id string) (*datatypes.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getMemory(appName, userID, id)
}

func (st *memState) getMemory(appName, userID, id string) (*datatypes.Memory, error) {
	m, ok := st.memories[id]
	if !ok || m.AppName != appName || m.UserID != userID {
		return nil, datatypes.NotFound("memory", id)
	}
	out := *m
	return &out, nil
}

func (s *MemoryStore) SearchMemories(ctx context.Context, appName, userID, query string, queryVec []float32, limit int) ([]datatypes.MemorySearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*datatypes.Memory
	for _, m := range s.state.memories {
		if m.AppName == appName && m.UserID == userID {
			candidates = append(candidates, m)
		}
	}

	var results []datatypes.MemorySearchResult
	if queryVec != nil {
		for _, m := range candidates {
			if len(m.Embedding) == 0 {
				continue
			}
			score := storage.CosineSimilarity(queryVec, m.Embedding)
			results = append(results, datatypes.MemorySearchResult{Memory: *m, RelevanceScore: score})
		}
		sort.Slice(results, func(i, j int) bool {
			return results[i].RelevanceScore > results[j].RelevanceScore
		})
	} else {
		needle := strings.ToLower(query)
		for _, m := range candidates {
			if needle == "" || strings.Contains(strings.ToLower(m.Content), needle) {
				results = append(results, datatypes.MemorySearchResult{Memory: *m, RelevanceScore: m.RetentionScore})
			}
		}
		sort.Slice(results, func(i, j int) bool {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		})
	}

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *MemoryStore) TouchMemory(ctx context.Context, appName, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.state.memories[id]
	if !ok || m.AppName != appName || m.UserID != userID {
		return datatypes.NotFound("memory", id)
	}
	now := time.Now().UTC()
	m.AccessCount++
	m.LastAccessedAt = &now
	m.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ListMemories(ctx context.Context, appName, userID string, limit int) ([]datatypes.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []datatypes.Memory
	for _, m := range s.state.memories {
		if m.AppName == appName && m.UserID == userID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpsertFact(ctx context.Context, f *datatypes.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity := factIdentity(f.UserID, f.AppName, f.FactType, f.Key)
	now := time.Now().UTC()

	if existing, ok := s.state.facts[identity]; ok {
		existing.Value = f.Value
		existing.Confidence = f.Confidence
		existing.Embedding = f.Embedding
		existing.ValidUntil = f.ValidUntil
		*f = *existing
		return nil
	}

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.ValidFrom == nil {
		f.ValidFrom = &now
	}
	f.CreatedAt = now
	stored := *f
	s.state.facts[identity] = &stored
	return nil
}

func (s *MemoryStore) SearchFacts(ctx context.Context, appName, userID, query string, queryVec []float32, limit int) ([]datatypes.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var candidates []*datatypes.Fact
	for _, f := range s.state.facts {
		if f.AppName == appName && f.UserID == userID && f.EffectiveAt(now) {
			candidates = append(candidates, f)
		}
	}

	var out []datatypes.Fact
	if queryVec != nil {
		type scored struct {
			fact  datatypes.Fact
			score float64
		}
		var ranked []scored
		for _, f := range candidates {
			if len(f.Embedding) == 0 {
				continue
			}
			ranked = append(ranked, scored{*f, storage.CosineSimilarity(queryVec, f.Embedding)})
		}
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
		for _, r := range ranked {
			out = append(out, r.fact)
		}
	} else {
		needle := strings.ToLower(query)
		for _, f := range candidates {
			if needle == "" || strings.Contains(strings.ToLower(f.Key), needle) {
				out = append(out, *f)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListFacts(ctx context.Context, appName, userID string) ([]datatypes.Fact, error) {
	return s.SearchFacts(ctx, appName, userID, "", nil, 0)
}

// InAuditTx clones the state, runs fn against it, and commits the clone
// only when fn succeeds.
func (s *MemoryStore) InAuditTx(ctx context.Context, fn func(ops AuditOps) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := s.state.clone()
	if err := fn(&memAuditOps{state: clone}); err != nil {
		return err
	}
	s.state = clone
	return nil
}

func (st *memState) clone() *memState {
	out := &memState{
		memories: make(map[string]*datatypes.Memory, len(st.memories)),
		facts:    make(map[string]*datatypes.Fact, len(st.facts)),
		audits:   make([]datatypes.AuditRecord, len(st.audits)),
	}
	for id, m := range st.memories {
		copied := *m
		out.memories[id] = &copied
	}
	for k, f := range st.facts {
		copied := *f
		out.facts[k] = &copied
	}
	copy(out.audits, st.audits)
	return out
}

// memAuditOps applies audit mutations to a cloned state.
type memAuditOps struct {
	state *memState
}

func (o *memAuditOps) PriorAuditRecords(ctx context.Context, appName, userID, idempotencyKey string) ([]datatypes.AuditRecord, error) {
	var out []datatypes.AuditRecord
	for _, rec := range o.state.audits {
		if rec.AppName == appName && rec.UserID == userID && rec.IdempotencyKey == idempotencyKey {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (o *memAuditOps) MaxAuditVersion(ctx context.Context, appName, userID, memoryID string) (int, error) {
	max := 0
	for _, rec := range o.state.audits {
		if rec.AppName == appName && rec.UserID == userID && rec.MemoryID == memoryID && rec.Version > max {
			max = rec.Version
		}
	}
	return max, nil
}

func (o *memAuditOps) GetMemory(ctx context.Context, appName, userID, id string) (*datatypes.Memory, error) {
	return o.state.getMemory(appName, userID, id)
}

func (o *memAuditOps) DeleteMemory(ctx context.Context, appName, userID, id string) error {
	if _, err := o.state.getMemory(appName, userID, id); err != nil {
		return err
	}
	delete(o.state.memories, id)
	return nil
}

func (o *memAuditOps) AnonymizeMemory(ctx context.Context, appName, userID, id string) error {
	m, ok := o.state.memories[id]
	if !ok || m.AppName != appName || m.UserID != userID {
		return datatypes.NotFound("memory", id)
	}
	m.Content = datatypes.AnonymizedContent
	m.Metadata = nil
	m.Embedding = nil
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (o *memAuditOps) DeleteFactsBySession(ctx context.Context, appName, userID, sessionID string) error {
	for k, f := range o.state.facts {
		if f.AppName == appName && f.UserID == userID && f.SessionID == sessionID {
			delete(o.state.facts, k)
		}
	}
	return nil
}

func (o *memAuditOps) AnonymizeFactsBySession(ctx context.Context, appName, userID, sessionID string) error {
	for _, f := range o.state.facts {
		if f.AppName == appName && f.UserID == userID && f.SessionID == sessionID {
			f.Value = map[string]any{"anonymized": true}
			f.Embedding = nil
		}
	}
	return nil
}

func (o *memAuditOps) InsertAuditRecord(ctx context.Context, rec *datatypes.AuditRecord) error {
	for _, existing := range o.state.audits {
		if existing.AppName == rec.AppName && existing.UserID == rec.UserID &&
			existing.MemoryID == rec.MemoryID && existing.Version == rec.Version {
			return datatypes.VersionConflict("memory_audit", rec.Version, existing.Version)
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now().UTC()
	o.state.audits = append(o.state.audits, *rec)
	return nil
}

var (
	_ Store    = (*MemoryStore)(nil)
	_ AuditOps = (*memAuditOps)(nil)
)
