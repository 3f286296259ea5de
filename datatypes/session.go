// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Session (conversation thread)
// =============================================================================

// Session is one conversation thread. It owns an ordered event log and a
// session-scoped state object. (app_name, user_id, id) is unique; deleting
// a session cascades to its events.
type Session struct {
	ID       string `json:"id"`
	AppName  string `json:"app_name"`
	UserID   string `json:"user_id"`
	// State holds unprefixed state keys. Keys with "user:"/"app:" prefixes
	// live on UserState/AppState rows instead; "temp:" keys are never
	// persisted.
	State    map[string]any `json:"state"`
	Metadata map[string]any `json:"metadata"`
	// Version increments on every mutation; optimistic readers compare it.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Events is populated on reads that request history; it is not a
	// stored column.
	Events []Event `json:"events,omitempty"`
}

// Title returns metadata.title, or "" when no title has been generated yet.
func (s *Session) Title() string {
	if s.Metadata == nil {
		return ""
	}
	if t, ok := s.Metadata["title"].(string); ok {
		return t
	}
	return ""
}

// UserState holds the merged "user:"-prefixed state for (user_id, app_name).
type UserState struct {
	UserID    string         `json:"user_id"`
	AppName   string         `json:"app_name"`
	State     map[string]any `json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// AppState holds the merged "app:"-prefixed state for an app.
type AppState struct {
	AppName   string         `json:"app_name"`
	State     map[string]any `json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// =============================================================================
// Credentials
// =============================================================================

// Credential is an opaque per-(app,user,key) payload the agent framework
// stores on behalf of its tools. The engine never inspects CredentialData.
type Credential struct {
	AppName        string         `json:"app_name"`
	UserID         string         `json:"user_id"`
	CredentialKey  string         `json:"credential_key"`
	CredentialData map[string]any `json:"credential_data"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
