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

	"github.com/AleutianAI/negentropy/datatypes"
)

// ConsolidateSession distills a session snapshot into one episodic
// memory: conversational events (user and agent, never tool) in sequence
// order, textual parts only, joined with line breaks. Returns nil when
// the session has no usable text.
//
// The embed callback may be nil, in which case the memory is stored
// without an embedding. Embedding failures fall back to null embedding
// rather than losing the memory.
func ConsolidateSession(ctx context.Context, sess *datatypes.Session, embed func(ctx context.Context, text string) ([]float32, error)) (*datatypes.Memory, error) {
	events := make([]datatypes.Event, len(sess.Events))
	copy(events, sess.Events)
	sort.Slice(events, func(i, j int) bool {
		return events[i].SequenceNum < events[j].SequenceNum
	})

	var parts []string
	count := 0
	for _, ev := range events {
		if ev.Author != datatypes.AuthorUser && ev.Author != datatypes.AuthorAgent {
			continue
		}
		text := ev.Content.CombinedText()
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, text)
		count++
	}
	if len(parts) == 0 {
		return nil, nil
	}
	combined := strings.Join(parts, "\n")

	m := &datatypes.Memory{
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		AppName:        sess.AppName,
		MemoryType:     datatypes.MemoryTypeEpisodic,
		Content:        combined,
		RetentionScore: 1.0,
		Metadata: map[string]any{
			"source":      "session",
			"event_count": count,
		},
	}

	if embed != nil {
		vec, err := embed(ctx, combined)
		if err == nil {
			m.Embedding = vec
		}
	}
	return m, nil
}
