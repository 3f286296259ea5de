// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session implements durable conversation storage: ordered event
// append with prefix-routed state deltas, scoped user/app state, and
// background title summarization.
package session

import (
	"context"

	"github.com/AleutianAI/negentropy/datatypes"
)

// Store persists sessions, their event logs, and scoped state. Both the
// Postgres and in-memory implementations guarantee that concurrent
// appends to the same session serialize and receive distinct, strictly
// increasing sequence numbers.
type Store interface {
	// CreateSession inserts a new session. The caller supplies a
	// populated Session (ID, AppName, UserID, State already set).
	CreateSession(ctx context.Context, s *datatypes.Session) error

	// GetSession loads a session with its events in sequence order.
	// recentN > 0 limits to the most recent N events (still ascending).
	// Returns a not-found error when no row matches all three keys.
	GetSession(ctx context.Context, appName, userID, id string, recentN int) (*datatypes.Session, error)

	// ListSessions returns the user's sessions without events, most
	// recently updated first.
	ListSessions(ctx context.Context, appName, userID string) ([]*datatypes.Session, error)

	// DeleteSession removes the session and cascades to its events.
	DeleteSession(ctx context.Context, appName, userID, id string) error

	// AppendEvent atomically inserts the event with the session's next
	// sequence number, applies the routed state deltas, and bumps the
	// session's updated_at. The stored event (with assigned ID,
	// SequenceNum, CreatedAt) is returned.
	AppendEvent(ctx context.Context, appName, userID, sessionID string, event *datatypes.Event, delta RoutedDelta) (*datatypes.Event, error)

	// PatchMetadata shallow-merges patch into the session's metadata.
	PatchMetadata(ctx context.Context, appName, userID, id string, patch map[string]any) error

	// GetUserState returns the user-scoped state map (nil if absent).
	GetUserState(ctx context.Context, appName, userID string) (map[string]any, error)

	// GetAppState returns the app-scoped state map (nil if absent).
	GetAppState(ctx context.Context, appName string) (map[string]any, error)
}
