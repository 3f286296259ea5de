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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/negentropy/datatypes"
)

func snapshotSession(events ...datatypes.Event) *datatypes.Session {
	return &datatypes.Session{
		ID:      "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		AppName: "app",
		UserID:  "u",
		Events:  events,
	}
}

func event(seq int64, author datatypes.Author, text string) datatypes.Event {
	return datatypes.Event{
		Author:      author,
		Content:     datatypes.TextContent(text),
		SequenceNum: seq,
	}
}

func TestConsolidateSkipsToolEventsAndJoinsInOrder(t *testing.T) {
	sess := snapshotSession(
		event(2, datatypes.AuthorAgent, "Sure, enabling dark mode."),
		event(1, datatypes.AuthorUser, "Please enable dark mode"),
		event(3, datatypes.AuthorTool, `{"status": "ok"}`),
		event(4, datatypes.AuthorUser, "Thanks!"),
	)

	m, err := ConsolidateSession(context.Background(), sess, nil)
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, "Please enable dark mode\nSure, enabling dark mode.\nThanks!", m.Content)
	assert.Equal(t, datatypes.MemoryTypeEpisodic, m.MemoryType)
	assert.Equal(t, 1.0, m.RetentionScore)
	assert.Equal(t, "session", m.Metadata["source"])
	assert.Equal(t, 3, m.Metadata["event_count"])
	assert.Equal(t, sess.ID, m.SessionID)
	assert.Nil(t, m.Embedding)
}

func TestConsolidateEmptySessionProducesNoMemory(t *testing.T) {
	m, err := ConsolidateSession(context.Background(), snapshotSession(), nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	// Tool-only sessions also produce nothing.
	m, err = ConsolidateSession(context.Background(), snapshotSession(
		event(1, datatypes.AuthorTool, "result"),
	), nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestConsolidateSkipsBlankText(t *testing.T) {
	sess := snapshotSession(
		event(1, datatypes.AuthorUser, "   "),
		event(2, datatypes.AuthorUser, "real content"),
	)

	m, err := ConsolidateSession(context.Background(), sess, nil)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "real content", m.Content)
	assert.Equal(t, 1, m.Metadata["event_count"])
}

func TestConsolidateWithEmbedding(t *testing.T) {
	sess := snapshotSession(event(1, datatypes.AuthorUser, "hello"))

	embed := func(ctx context.Context, text string) ([]float32, error) {
		assert.Equal(t, "hello", text)
		return []float32{0.1, 0.2}, nil
	}
	m, err := ConsolidateSession(context.Background(), sess, embed)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, m.Embedding)
}

func TestConsolidateEmbeddingFailureFallsBackToNull(t *testing.T) {
	sess := snapshotSession(event(1, datatypes.AuthorUser, "hello"))

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("provider down")
	}
	m, err := ConsolidateSession(context.Background(), sess, embed)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Nil(t, m.Embedding)
}
