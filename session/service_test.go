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
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/provider"
)

func newTestService(t *testing.T, titler *Titler) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), titler, nil)
}

func userEvent(text string, delta map[string]any) *datatypes.Event {
	return &datatypes.Event{
		Author:  datatypes.AuthorUser,
		Content: datatypes.TextContent(text),
		Actions: datatypes.EventActions{StateDelta: delta},
	}
}

func TestCreateGeneratesUUID(t *testing.T) {
	svc := newTestService(t, nil)

	sess, err := svc.Create(context.Background(), "app", "u", "", nil)
	require.NoError(t, err)
	assert.NoError(t, uuid.Validate(sess.ID))
	assert.Equal(t, 1, sess.Version)
}

func TestCreateRejectsInvalidID(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Create(context.Background(), "app", "u", "not-a-uuid", nil)
	assert.True(t, datatypes.IsKind(err, datatypes.KindInvalidArgument))
}

func TestStateDeltaPrefixRouting(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "A", "u", "", nil)
	require.NoError(t, err)

	_, err = svc.AppendEvent(ctx, "A", "u", sess.ID, userEvent("hello", map[string]any{
		"k":         1,
		"user:pref": "dark",
		"app:feat":  "on",
		"temp:x":    9,
	}))
	require.NoError(t, err)

	got, err := svc.Get(ctx, "A", "u", sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": 1}, got.State)

	userState, err := svc.UserState(ctx, "A", "u")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pref": "dark"}, userState)

	appState, err := svc.AppState(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"feat": "on"}, appState)

	assert.Equal(t, map[string]any{"x": 9}, svc.TempState(sess.ID))

	// A fresh service simulates process restart: temp state is gone.
	assert.Nil(t, newTestService(t, nil).TempState(sess.ID))
}

func TestAppendEventNormalizesAuthor(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "A", "u", "", nil)
	require.NoError(t, err)

	ev := &datatypes.Event{Author: "assistant", Content: datatypes.TextContent("hi")}
	appended, err := svc.AppendEvent(ctx, "A", "u", sess.ID, ev)
	require.NoError(t, err)
	assert.Equal(t, datatypes.AuthorAgent, appended.Author)
}

func TestConcurrentAppendsGetDistinctSequenceNums(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "A", "u", "", nil)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	seqs := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev, err := svc.AppendEvent(ctx, "A", "u", sess.ID,
				userEvent(fmt.Sprintf("msg %d", i), map[string]any{fmt.Sprintf("k%d", i): i}))
			if assert.NoError(t, err) {
				seqs <- ev.SequenceNum
			}
		}(i)
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		assert.False(t, seen[seq], "duplicate sequence_num %d", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, n)

	got, err := svc.Get(ctx, "A", "u", sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, got.Events, n)
	for i, ev := range got.Events {
		assert.Equal(t, int64(i+1), ev.SequenceNum)
	}
	// Serial composition of all deltas under shallow merge.
	assert.Len(t, got.State, n)
}

func TestGetRecentNReturnsTailAscending(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "A", "u", "", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := svc.AppendEvent(ctx, "A", "u", sess.ID, userEvent(fmt.Sprintf("m%d", i), nil))
		require.NoError(t, err)
	}

	got, err := svc.Get(ctx, "A", "u", sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, got.Events, 2)
	assert.Equal(t, int64(4), got.Events[0].SequenceNum)
	assert.Equal(t, int64(5), got.Events[1].SequenceNum)
}

func TestDeleteEvictsTempState(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "A", "u", "", nil)
	require.NoError(t, err)

	_, err = svc.AppendEvent(ctx, "A", "u", sess.ID, userEvent("x", map[string]any{"temp:x": 1}))
	require.NoError(t, err)
	require.NotNil(t, svc.TempState(sess.ID))

	require.NoError(t, svc.Delete(ctx, "A", "u", sess.ID))
	assert.Nil(t, svc.TempState(sess.ID))

	_, err = svc.Get(ctx, "A", "u", sess.ID, 0)
	assert.True(t, datatypes.IsKind(err, datatypes.KindNotFound))
}

func TestTitleGeneratedAfterTwoNonToolEvents(t *testing.T) {
	titler := NewTitler(&provider.StaticChatModel{Response: "Dark Mode Preferences"})
	svc := newTestService(t, titler)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "A", "u", "", nil)
	require.NoError(t, err)

	_, err = svc.AppendEvent(ctx, "A", "u", sess.ID, userEvent("I want dark mode", nil))
	require.NoError(t, err)
	svc.WaitForTitles()

	// One non-tool event is not enough.
	got, err := svc.Get(ctx, "A", "u", sess.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, got.Title())

	reply := &datatypes.Event{Author: datatypes.AuthorAgent, Content: datatypes.TextContent("Enabled dark mode")}
	_, err = svc.AppendEvent(ctx, "A", "u", sess.ID, reply)
	require.NoError(t, err)
	svc.WaitForTitles()

	got, err = svc.Get(ctx, "A", "u", sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "Dark Mode Preferences", got.Title())
}

func TestUpdateTitleExplicit(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	sess, err := svc.Create(ctx, "A", "u", "", nil)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateTitle(ctx, "A", "u", sess.ID, "My Session"))
	got, err := svc.Get(ctx, "A", "u", sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "My Session", got.Title())
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Hello World", cleanTitle(`  "Hello World."  `))
	assert.Equal(t, "Plans", cleanTitle("Plans!"))
}
