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

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Event Authors
// =============================================================================

// Author identifies who produced an event within a conversation turn.
type Author string

const (
	AuthorUser  Author = "user"
	AuthorAgent Author = "agent"
	AuthorTool  Author = "tool"
)

// Valid reports whether the author is one of the known values.
func (a Author) Valid() bool {
	switch a {
	case AuthorUser, AuthorAgent, AuthorTool:
		return true
	}
	return false
}

// Agent frameworks label model output "agent", "model", or "assistant"
// depending on provider; all three collapse to AuthorAgent. Unknown roles
// default to AuthorUser.
func normalizeAuthor(raw string) Author {
	switch strings.ToLower(raw) {
	case "model", "assistant", "agent":
		return AuthorAgent
	case "tool", "function":
		return AuthorTool
	default:
		return AuthorUser
	}
}

// NormalizeAuthor maps provider-specific role strings onto the three
// canonical authors.
func NormalizeAuthor(raw string) Author { return normalizeAuthor(raw) }

// =============================================================================
// Event Content (tagged variant)
// =============================================================================

// ContentType tags the wire form of an EventContent value.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentParts ContentType = "parts"
	ContentBlob  ContentType = "blob"
)

// Part is one piece of a multi-part event payload. Exactly one of Text or
// Data is set; Data carries its MIME type alongside.
type Part struct {
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// EventContent is the canonical tagged union for event payloads.
//
// # Description
//
// The source systems store event content duck-typed: bare strings, nested
// model objects, or raw byte payloads. EventContent replaces that with an
// explicit variant — Text for plain strings, Parts for multi-part model
// output, Blob for opaque bytes — and a JSON wire form carrying a "type"
// tag. Blob bytes are base-64 encoded over JSON.
//
// # Example
//
//	content := datatypes.TextContent("hello")
//	raw, _ := json.Marshal(content)
//	// {"type":"text","text":"hello"}
type EventContent struct {
	Type  ContentType
	Text  string
	Parts []Part
	Blob  []byte
	// BlobMime is the MIME type of Blob content ("" for Text/Parts).
	BlobMime string
}

// TextContent builds a text-variant EventContent.
func TextContent(text string) EventContent {
	return EventContent{Type: ContentText, Text: text}
}

// PartsContent builds a multi-part EventContent.
func PartsContent(parts ...Part) EventContent {
	return EventContent{Type: ContentParts, Parts: parts}
}

// BlobContent builds a binary EventContent.
func BlobContent(mime string, data []byte) EventContent {
	return EventContent{Type: ContentBlob, Blob: data, BlobMime: mime}
}

// CombinedText concatenates every textual piece of the content. Blob
// content yields "".
func (c EventContent) CombinedText() string {
	switch c.Type {
	case ContentText:
		return c.Text
	case ContentParts:
		texts := make([]string, 0, len(c.Parts))
		for _, p := range c.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

// IsEmpty reports whether the content carries no payload at all.
func (c EventContent) IsEmpty() bool {
	switch c.Type {
	case ContentText:
		return c.Text == ""
	case ContentParts:
		return len(c.Parts) == 0
	case ContentBlob:
		return len(c.Blob) == 0
	}
	return true
}

// contentWire is the JSON envelope for EventContent.
type contentWire struct {
	Type ContentType `json:"type"`
	Text string      `json:"text,omitempty"`
	Part []Part      `json:"parts,omitempty"`
	Blob string      `json:"blob,omitempty"`
	Mime string      `json:"mime_type,omitempty"`
}

// MarshalJSON writes the tagged wire form.
func (c EventContent) MarshalJSON() ([]byte, error) {
	w := contentWire{Type: c.Type, Text: c.Text, Part: c.Parts, Mime: c.BlobMime}
	if c.Type == "" {
		w.Type = ContentText
	}
	if len(c.Blob) > 0 {
		w.Blob = base64.StdEncoding.EncodeToString(c.Blob)
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the tagged wire form. Untagged plain strings are
// accepted as text content for compatibility with older writers.
func (c *EventContent) UnmarshalJSON(data []byte) error {
	// Legacy form: a bare JSON string.
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*c = TextContent(plain)
		return nil
	}

	var w contentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode event content: %w", err)
	}
	switch w.Type {
	case ContentText, "":
		*c = EventContent{Type: ContentText, Text: w.Text}
	case ContentParts:
		*c = EventContent{Type: ContentParts, Parts: w.Part}
	case ContentBlob:
		blob, err := base64.StdEncoding.DecodeString(w.Blob)
		if err != nil {
			return fmt.Errorf("decode blob content: %w", err)
		}
		*c = EventContent{Type: ContentBlob, Blob: blob, BlobMime: w.Mime}
	default:
		return fmt.Errorf("unknown event content type %q", w.Type)
	}
	return nil
}

// =============================================================================
// Event Actions
// =============================================================================

// EventActions carries the side effects an event requests alongside its
// content. Today the only action is a state delta; the struct leaves room
// for the artifact and transfer actions the agent framework defines.
type EventActions struct {
	// StateDelta maps state keys to new values. Key prefixes route the
	// write: "temp:" stays in process, "user:" goes to user state,
	// "app:" goes to app state, and unprefixed keys land on the session.
	StateDelta map[string]any `json:"state_delta,omitempty"`

	// ArtifactDelta records artifact filename -> version written during
	// the turn. Opaque to the engine.
	ArtifactDelta map[string]int `json:"artifact_delta,omitempty"`
}

// =============================================================================
// Event
// =============================================================================

// Event is one contribution to a session's append-only log.
type Event struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"session_id"`
	InvocationID string       `json:"invocation_id,omitempty"`
	Author       Author       `json:"author"`
	EventType    string       `json:"event_type,omitempty"`
	Content      EventContent `json:"content"`
	Actions      EventActions `json:"actions"`
	// SequenceNum is assigned by the store inside the append transaction;
	// it is strictly increasing per session and defines replay order.
	SequenceNum int64     `json:"sequence_num"`
	CreatedAt   time.Time `json:"created_at"`
}
