// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package credential stores per-(app, user, key) credential payloads.
// Payloads are opaque JSON; the engine never inspects or encrypts them.
package credential

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/negentropy/datatypes"
)

// Store persists credentials keyed by (app_name, user_id, credential_key).
type Store interface {
	// Put upserts the credential and bumps UpdatedAt.
	Put(ctx context.Context, cred *datatypes.Credential) error

	// Get returns the credential or a not-found error.
	Get(ctx context.Context, appName, userID, key string) (*datatypes.Credential, error)

	// Delete removes the credential. Missing rows are not an error.
	Delete(ctx context.Context, appName, userID, key string) error

	// ListKeys returns the credential keys stored for (app, user).
	ListKeys(ctx context.Context, appName, userID string) ([]string, error)
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*datatypes.Credential
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*datatypes.Credential)}
}

func credKey(appName, userID, key string) string {
	return appName + "/" + userID + "/" + key
}

func (s *MemoryStore) Put(ctx context.Context, cred *datatypes.Credential) error {
	if cred.AppName == "" || cred.UserID == "" || cred.CredentialKey == "" {
		return datatypes.InvalidArgument("app_name, user_id, and credential_key are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *cred
	stored.UpdatedAt = time.Now().UTC()
	s.creds[credKey(cred.AppName, cred.UserID, cred.CredentialKey)] = &stored
	cred.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, appName, userID, key string) (*datatypes.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.creds[credKey(appName, userID, key)]
	if !ok {
		return nil, datatypes.NotFound("credential", key)
	}
	out := *stored
	return &out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, appName, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, credKey(appName, userID, key))
	return nil
}

func (s *MemoryStore) ListKeys(ctx context.Context, appName, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := appName + "/" + userID + "/"
	var keys []string
	for k, stored := range s.creds {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, stored.CredentialKey)
		}
	}
	return keys, nil
}

var _ Store = (*MemoryStore)(nil)
