// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifact stores uploaded source files (knowledge documents,
// future binary attachments) in an object store, keyed by a
// slash-separated object path. The GCS backend is used in production;
// the in-memory backend backs tests and the default zero-config mode.
package artifact

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/negentropy/datatypes"
)

// Store is the object-store surface the engine needs. Implementations
// must be safe for concurrent use.
type Store interface {
	// Put writes data under path, overwriting any existing object, and
	// returns the store-specific URI (e.g. gs://bucket/path).
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// Get reads the object at path.
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes the object at path. Missing objects are not an error.
	Delete(ctx context.Context, path string) error

	// List returns the paths under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ===== In-Memory Backend =====

// MemoryStore keeps objects in a map. URIs use the mem:// scheme.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, path string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[path] = buf
	return "mem://" + path, nil
}

func (s *MemoryStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, datatypes.NotFound("artifact", path)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var paths []string
	for path := range s.objects {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}
