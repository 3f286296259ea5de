// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/negentropy/datatypes"
)

// MemoryStore is an in-process Store used for development and tests.
// A single mutex serializes appends, which satisfies the ordering
// guarantee the Postgres store gets from row locks.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*datatypes.Session      // key: appName/userID/id
	events   map[string][]datatypes.Event       // key: session id
	userSt   map[string]map[string]any          // key: appName/userID
	appSt    map[string]map[string]any          // key: appName
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*datatypes.Session),
		events:   make(map[string][]datatypes.Event),
		userSt:   make(map[string]map[string]any),
		appSt:    make(map[string]map[string]any),
	}
}

func sessionKey(appName, userID, id string) string {
	return appName + "/" + userID + "/" + id
}

func (s *MemoryStore) CreateSession(ctx context.Context, sess *datatypes.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(sess.AppName, sess.UserID, sess.ID)
	if _, exists := s.sessions[key]; exists {
		return datatypes.InvalidArgument("session %s already exists", sess.ID)
	}

	now := time.Now().UTC()
	stored := *sess
	stored.State = cloneMap(sess.State)
	stored.Metadata = cloneMap(sess.Metadata)
	stored.Version = 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Events = nil
	s.sessions[key] = &stored

	sess.Version = stored.Version
	sess.CreatedAt = now
	sess.UpdatedAt = now
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, appName, userID, id string, recentN int) (*datatypes.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionKey(appName, userID, id)]
	if !ok {
		return nil, datatypes.NotFound("session", id)
	}

	out := *stored
	out.State = cloneMap(stored.State)
	out.Metadata = cloneMap(stored.Metadata)

	events := s.events[id]
	if recentN > 0 && len(events) > recentN {
		events = events[len(events)-recentN:]
	}
	out.Events = make([]datatypes.Event, len(events))
	copy(out.Events, events)
	return &out, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, appName, userID string) ([]*datatypes.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*datatypes.Session
	for _, stored := range s.sessions {
		if stored.AppName != appName || stored.UserID != userID {
			continue
		}
		copied := *stored
		copied.State = cloneMap(stored.State)
		copied.Metadata = cloneMap(stored.Metadata)
		copied.Events = nil
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, appName, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(appName, userID, id)
	if _, ok := s.sessions[key]; !ok {
		return datatypes.NotFound("session", id)
	}
	delete(s.sessions, key)
	delete(s.events, id)
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, appName, userID, sessionID string, event *datatypes.Event, delta RoutedDelta) (*datatypes.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(appName, userID, sessionID)
	stored, ok := s.sessions[key]
	if !ok {
		return nil, datatypes.NotFound("session", sessionID)
	}

	now := time.Now().UTC()
	appended := *event
	if appended.ID == "" {
		appended.ID = uuid.NewString()
	}
	appended.SessionID = sessionID
	appended.SequenceNum = int64(len(s.events[sessionID])) + 1
	appended.CreatedAt = now
	s.events[sessionID] = append(s.events[sessionID], appended)

	if len(delta.Session) > 0 {
		stored.State = ShallowMerge(stored.State, delta.Session)
	}
	if len(delta.User) > 0 {
		uk := appName + "/" + userID
		s.userSt[uk] = ShallowMerge(s.userSt[uk], delta.User)
	}
	if len(delta.App) > 0 {
		s.appSt[appName] = ShallowMerge(s.appSt[appName], delta.App)
	}
	stored.UpdatedAt = now

	return &appended, nil
}

func (s *MemoryStore) PatchMetadata(ctx context.Context, appName, userID, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionKey(appName, userID, id)]
	if !ok {
		return datatypes.NotFound("session", id)
	}
	stored.Metadata = ShallowMerge(stored.Metadata, patch)
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetUserState(ctx context.Context, appName, userID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.userSt[appName+"/"+userID]), nil
}

func (s *MemoryStore) GetAppState(ctx context.Context, appName string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.appSt[appName]), nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
