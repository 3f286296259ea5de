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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/storage"
)

// MemoryRepository is an in-process Repository. Keyword search
// approximates full-text ranking with token-overlap scoring, which is
// close enough for tests and development.
type MemoryRepository struct {
	mu      sync.Mutex
	corpora map[string]*datatypes.Corpus
	chunks  map[string][]datatypes.Knowledge          // key: corpus id
	docs    map[string]*datatypes.KnowledgeDocument   // key: doc id
	runs    map[string]*datatypes.PipelineRun         // key: appName/runID
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		corpora: make(map[string]*datatypes.Corpus),
		chunks:  make(map[string][]datatypes.Knowledge),
		docs:    make(map[string]*datatypes.KnowledgeDocument),
		runs:    make(map[string]*datatypes.PipelineRun),
	}
}

func (r *MemoryRepository) CreateCorpus(ctx context.Context, c *datatypes.Corpus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.corpora {
		if existing.AppName == c.AppName && existing.Name == c.Name {
			return datatypes.InvalidArgument("corpus %q already exists", c.Name)
		}
	}

	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	stored := *c
	r.corpora[c.ID] = &stored
	return nil
}

func (r *MemoryRepository) GetCorpus(ctx context.Context, appName, id string) (*datatypes.Corpus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.corpora[id]
	if !ok || c.AppName != appName {
		return nil, datatypes.NotFound("corpus", id)
	}
	out := *c
	return &out, nil
}

func (r *MemoryRepository) ListCorpora(ctx context.Context, appName string) ([]datatypes.Corpus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []datatypes.Corpus
	for _, c := range r.corpora {
		if c.AppName == appName {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) PatchCorpus(ctx context.Context, appName, id, name, description string, config map[string]any) (*datatypes.Corpus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.corpora[id]
	if !ok || c.AppName != appName {
		return nil, datatypes.NotFound("corpus", id)
	}
	if name != "" {
		c.Name = name
	}
	if description != "" {
		c.Description = description
	}
	if config != nil {
		merged := make(map[string]any, len(c.Config)+len(config))
		for k, v := range c.Config {
			merged[k] = v
		}
		for k, v := range config {
			merged[k] = v
		}
		c.Config = merged
	}
	c.UpdatedAt = time.Now().UTC()
	out := *c
	return &out, nil
}

func (r *MemoryRepository) DeleteCorpus(ctx context.Context, appName, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.corpora[id]
	if !ok || c.AppName != appName {
		return datatypes.NotFound("corpus", id)
	}
	delete(r.corpora, id)
	delete(r.chunks, id)
	for docID, doc := range r.docs {
		if doc.CorpusID == id {
			delete(r.docs, docID)
		}
	}
	return nil
}

func (r *MemoryRepository) InsertChunks(ctx context.Context, chunks []datatypes.Knowledge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = uuid.NewString()
		}
		chunks[i].CreatedAt = now
		r.chunks[chunks[i].CorpusID] = append(r.chunks[chunks[i].CorpusID], chunks[i])
	}
	return nil
}

func (r *MemoryRepository) DeleteChunksBySource(ctx context.Context, corpusID, sourceURI string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.chunks[corpusID]
	kept := existing[:0]
	removed := 0
	for _, chunk := range existing {
		if chunk.SourceURI == sourceURI {
			removed++
			continue
		}
		kept = append(kept, chunk)
	}
	r.chunks[corpusID] = kept
	return removed, nil
}

func (r *MemoryRepository) ListChunks(ctx context.Context, corpusID, sourceURI string, limit, offset int) ([]datatypes.Knowledge, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []datatypes.Knowledge
	for _, chunk := range r.chunks[corpusID] {
		if sourceURI == "" || chunk.SourceURI == sourceURI {
			matched = append(matched, chunk)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].SourceURI != matched[j].SourceURI {
			return matched[i].SourceURI < matched[j].SourceURI
		}
		return matched[i].ChunkIndex < matched[j].ChunkIndex
	})

	total := len(matched)
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (r *MemoryRepository) ListSources(ctx context.Context, corpusID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, chunk := range r.chunks[corpusID] {
		if chunk.SourceURI != "" && !seen[chunk.SourceURI] {
			seen[chunk.SourceURI] = true
			out = append(out, chunk.SourceURI)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepository) SemanticSearch(ctx context.Context, corpusID string, queryVec []float32, limit int, filter map[string]any) ([]datatypes.SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []datatypes.SearchResult
	for _, chunk := range r.chunks[corpusID] {
		if len(chunk.Embedding) == 0 || !metadataContains(chunk.Metadata, filter) {
			continue
		}
		score := storage.CosineSimilarity(queryVec, chunk.Embedding)
		out = append(out, toResult(chunk, score, 0))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SemanticScore > out[j].SemanticScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) KeywordSearch(ctx context.Context, corpusID, query string, limit int, filter map[string]any) ([]datatypes.SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	terms := strings.Fields(strings.ToLower(query))
	var out []datatypes.SearchResult
	for _, chunk := range r.chunks[corpusID] {
		if !metadataContains(chunk.Metadata, filter) {
			continue
		}
		content := strings.ToLower(chunk.Content)
		hits := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / float64(len(terms))
		out = append(out, toResult(chunk, 0, score))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].KeywordScore > out[j].KeywordScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) GetDocumentByHash(ctx context.Context, corpusID, fileHash string) (*datatypes.KnowledgeDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, doc := range r.docs {
		if doc.CorpusID == corpusID && doc.FileHash == fileHash {
			out := *doc
			return &out, nil
		}
	}
	return nil, datatypes.NotFound("document", fileHash)
}

func (r *MemoryRepository) InsertDocument(ctx context.Context, doc *datatypes.KnowledgeDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = datatypes.DocumentStatusActive
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
	stored := *doc
	r.docs[doc.ID] = &stored
	return nil
}

func (r *MemoryRepository) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return datatypes.NotFound("document", id)
	}
	doc.Status = status
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) ListDocuments(ctx context.Context, corpusID string) ([]datatypes.KnowledgeDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []datatypes.KnowledgeDocument
	for _, doc := range r.docs {
		if doc.CorpusID == corpusID {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpsertRun(ctx context.Context, run *datatypes.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run.IdempotencyKey != "" {
		for _, existing := range r.runs {
			if existing.AppName == run.AppName &&
				existing.IdempotencyKey == run.IdempotencyKey &&
				existing.RunID != run.RunID {
				return datatypes.InvalidArgument("idempotency key already used by run %s", existing.RunID)
			}
		}
	}

	key := run.AppName + "/" + run.RunID
	now := time.Now().UTC()
	if existing, ok := r.runs[key]; ok {
		existing.Status = run.Status
		existing.Payload = run.Payload
		existing.Version++
		existing.UpdatedAt = now
		*run = *existing
		return nil
	}

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Version = 1
	run.CreatedAt = now
	run.UpdatedAt = now
	stored := *run
	r.runs[key] = &stored
	return nil
}

func (r *MemoryRepository) GetRun(ctx context.Context, appName, runID string) (*datatypes.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[appName+"/"+runID]
	if !ok {
		return nil, datatypes.NotFound("pipeline_run", runID)
	}
	out := *run
	return &out, nil
}

func (r *MemoryRepository) ListRuns(ctx context.Context, appName string, limit int) ([]datatypes.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []datatypes.PipelineRun
	for _, run := range r.runs {
		if run.AppName == appName {
			out = append(out, *run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) FindRunByIdempotencyKey(ctx context.Context, appName, key string) (*datatypes.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, run := range r.runs {
		if run.AppName == appName && run.IdempotencyKey == key {
			out := *run
			return &out, nil
		}
	}
	return nil, datatypes.NotFound("pipeline_run", key)
}

func (r *MemoryRepository) Stats(ctx context.Context, appName string) (*DashboardStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &DashboardStats{RunsByStatus: make(map[string]int)}
	for id, c := range r.corpora {
		if c.AppName != appName {
			continue
		}
		stats.CorpusCount++
		stats.ChunkCount += len(r.chunks[id])
		for _, doc := range r.docs {
			if doc.CorpusID == id {
				stats.DocumentCount++
			}
		}
	}
	for _, run := range r.runs {
		if run.AppName == appName {
			stats.RunsByStatus[run.Status]++
		}
	}
	return stats, nil
}

func toResult(chunk datatypes.Knowledge, semantic, keyword float64) datatypes.SearchResult {
	return datatypes.SearchResult{
		KnowledgeID:   chunk.ID,
		Content:       chunk.Content,
		SourceURI:     chunk.SourceURI,
		ChunkIndex:    chunk.ChunkIndex,
		Metadata:      chunk.Metadata,
		SemanticScore: semantic,
		KeywordScore:  keyword,
	}
}

// metadataContains reports whether metadata is a superset of filter
// (top-level JSON containment).
func metadataContains(metadata, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

var _ Repository = (*MemoryRepository)(nil)
