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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/storage"
)

// PostgresStore persists sessions in the negentropy schema. Append
// ordering is enforced by locking the session row FOR UPDATE for the
// duration of the append transaction.
type PostgresStore struct {
	db *storage.DB
}

// NewPostgresStore wraps a connected DB.
func NewPostgresStore(db *storage.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *datatypes.Session) error {
	stateJSON, err := json.Marshal(orEmpty(sess.State))
	if err != nil {
		return datatypes.InvalidArgument("state not serializable: %v", err)
	}
	metaJSON, err := json.Marshal(orEmpty(sess.Metadata))
	if err != nil {
		return datatypes.InvalidArgument("metadata not serializable: %v", err)
	}

	row := s.db.Pool.QueryRow(ctx, `
		INSERT INTO sessions (id, app_name, user_id, state, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING version, created_at, updated_at`,
		sess.ID, sess.AppName, sess.UserID, stateJSON, metaJSON)
	if err := row.Scan(&sess.Version, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return datatypes.DatabaseError(fmt.Errorf("insert session: %w", err))
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, appName, userID, id string, recentN int) (*datatypes.Session, error) {
	sess, err := s.scanSession(ctx, appName, userID, id)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, invocation_id, author, event_type, content, actions, sequence_num, created_at
		FROM events WHERE session_id = $1
		ORDER BY sequence_num`
	args := []any{id}
	if recentN > 0 {
		// Take the tail, then restore ascending order.
		query = `
			SELECT id, invocation_id, author, event_type, content, actions, sequence_num, created_at
			FROM (
				SELECT id, invocation_id, author, event_type, content, actions, sequence_num, created_at
				FROM events WHERE session_id = $1
				ORDER BY sequence_num DESC LIMIT $2
			) recent
			ORDER BY sequence_num`
		args = append(args, recentN)
	}

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev                        datatypes.Event
			contentJSON, actionsJSON  []byte
		)
		if err := rows.Scan(&ev.ID, &ev.InvocationID, &ev.Author, &ev.EventType,
			&contentJSON, &actionsJSON, &ev.SequenceNum, &ev.CreatedAt); err != nil {
			return nil, datatypes.DatabaseError(fmt.Errorf("scan event: %w", err))
		}
		ev.SessionID = id
		if err := json.Unmarshal(contentJSON, &ev.Content); err != nil {
			return nil, datatypes.DatabaseError(fmt.Errorf("decode event content: %w", err))
		}
		if err := json.Unmarshal(actionsJSON, &ev.Actions); err != nil {
			return nil, datatypes.DatabaseError(fmt.Errorf("decode event actions: %w", err))
		}
		sess.Events = append(sess.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, appName, userID string) ([]*datatypes.Session, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, state, metadata, version, created_at, updated_at
		FROM sessions
		WHERE app_name = $1 AND user_id = $2
		ORDER BY updated_at DESC`,
		appName, userID)
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("list sessions: %w", err))
	}
	defer rows.Close()

	var out []*datatypes.Session
	for rows.Next() {
		sess := &datatypes.Session{AppName: appName, UserID: userID}
		var stateJSON, metaJSON []byte
		if err := rows.Scan(&sess.ID, &stateJSON, &metaJSON, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, datatypes.DatabaseError(fmt.Errorf("scan session: %w", err))
		}
		if err := json.Unmarshal(stateJSON, &sess.State); err != nil {
			return nil, datatypes.DatabaseError(err)
		}
		if err := json.Unmarshal(metaJSON, &sess.Metadata); err != nil {
			return nil, datatypes.DatabaseError(err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteSession(ctx context.Context, appName, userID, id string) error {
	tag, err := s.db.Pool.Exec(ctx, `
		DELETE FROM sessions WHERE app_name = $1 AND user_id = $2 AND id = $3`,
		appName, userID, id)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("delete session: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return datatypes.NotFound("session", id)
	}
	return nil
}

// AppendEvent runs the full append protocol in one transaction: lock the
// session row, insert the event with the next sequence number, apply
// routed deltas, bump updated_at.
func (s *PostgresStore) AppendEvent(ctx context.Context, appName, userID, sessionID string, event *datatypes.Event, delta RoutedDelta) (*datatypes.Event, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("begin append: %w", err))
	}
	defer tx.Rollback(ctx)

	var stateJSON []byte
	err = tx.QueryRow(ctx, `
		SELECT state FROM sessions
		WHERE app_name = $1 AND user_id = $2 AND id = $3
		FOR UPDATE`,
		appName, userID, sessionID).Scan(&stateJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, datatypes.NotFound("session", sessionID)
	}
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("lock session: %w", err))
	}

	var nextSeq int64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM events WHERE session_id = $1`,
		sessionID).Scan(&nextSeq)
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("next sequence: %w", err))
	}

	appended := *event
	if appended.ID == "" {
		appended.ID = uuid.NewString()
	}
	appended.SessionID = sessionID
	appended.SequenceNum = nextSeq

	contentJSON, err := json.Marshal(appended.Content)
	if err != nil {
		return nil, datatypes.InvalidArgument("event content not serializable: %v", err)
	}
	actionsJSON, err := json.Marshal(appended.Actions)
	if err != nil {
		return nil, datatypes.InvalidArgument("event actions not serializable: %v", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO events (id, session_id, invocation_id, author, event_type, content, actions, sequence_num)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		appended.ID, sessionID, appended.InvocationID, appended.Author,
		appended.EventType, contentJSON, actionsJSON, nextSeq).Scan(&appended.CreatedAt)
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("insert event: %w", err))
	}

	now := time.Now().UTC()
	if len(delta.Session) > 0 {
		var current map[string]any
		if err := json.Unmarshal(stateJSON, &current); err != nil {
			return nil, datatypes.DatabaseError(fmt.Errorf("decode session state: %w", err))
		}
		mergedJSON, err := json.Marshal(ShallowMerge(current, delta.Session))
		if err != nil {
			return nil, datatypes.InvalidArgument("state delta not serializable: %v", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE sessions SET state = $1, updated_at = $2 WHERE id = $3`,
			mergedJSON, now, sessionID); err != nil {
			return nil, datatypes.DatabaseError(fmt.Errorf("update session state: %w", err))
		}
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE sessions SET updated_at = $1 WHERE id = $2`, now, sessionID); err != nil {
			return nil, datatypes.DatabaseError(fmt.Errorf("touch session: %w", err))
		}
	}

	if len(delta.User) > 0 {
		if err := upsertScopedState(ctx, tx, `
			INSERT INTO user_states (app_name, user_id, state, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (app_name, user_id)
			DO UPDATE SET state = user_states.state || EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
			delta.User, appName, userID); err != nil {
			return nil, err
		}
	}
	if len(delta.App) > 0 {
		if err := upsertScopedState(ctx, tx, `
			INSERT INTO app_states (app_name, state, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (app_name)
			DO UPDATE SET state = app_states.state || EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
			delta.App, appName); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("commit append: %w", err))
	}
	return &appended, nil
}

// upsertScopedState shallow-merges delta into a scoped state row using
// jsonb concatenation, which replaces top-level keys only.
func upsertScopedState(ctx context.Context, tx pgx.Tx, query string, delta map[string]any, keys ...any) error {
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return datatypes.InvalidArgument("state delta not serializable: %v", err)
	}
	args := append(keys, deltaJSON, time.Now().UTC())
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return datatypes.DatabaseError(fmt.Errorf("upsert scoped state: %w", err))
	}
	return nil
}

func (s *PostgresStore) PatchMetadata(ctx context.Context, appName, userID, id string, patch map[string]any) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return datatypes.InvalidArgument("metadata patch not serializable: %v", err)
	}
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE sessions SET metadata = metadata || $1, updated_at = now()
		WHERE app_name = $2 AND user_id = $3 AND id = $4`,
		patchJSON, appName, userID, id)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("patch metadata: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return datatypes.NotFound("session", id)
	}
	return nil
}

func (s *PostgresStore) GetUserState(ctx context.Context, appName, userID string) (map[string]any, error) {
	return s.scanState(ctx, `
		SELECT state FROM user_states WHERE app_name = $1 AND user_id = $2`,
		appName, userID)
}

func (s *PostgresStore) GetAppState(ctx context.Context, appName string) (map[string]any, error) {
	return s.scanState(ctx, `
		SELECT state FROM app_states WHERE app_name = $1`, appName)
}

func (s *PostgresStore) scanState(ctx context.Context, query string, args ...any) (map[string]any, error) {
	var stateJSON []byte
	err := s.db.Pool.QueryRow(ctx, query, args...).Scan(&stateJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("query scoped state: %w", err))
	}
	var state map[string]any
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	return state, nil
}

func (s *PostgresStore) scanSession(ctx context.Context, appName, userID, id string) (*datatypes.Session, error) {
	sess := &datatypes.Session{ID: id, AppName: appName, UserID: userID}
	var stateJSON, metaJSON []byte
	err := s.db.Pool.QueryRow(ctx, `
		SELECT state, metadata, version, created_at, updated_at
		FROM sessions
		WHERE app_name = $1 AND user_id = $2 AND id = $3`,
		appName, userID, id).Scan(&stateJSON, &metaJSON, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, datatypes.NotFound("session", id)
	}
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("query session: %w", err))
	}
	if err := json.Unmarshal(stateJSON, &sess.State); err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	if err := json.Unmarshal(metaJSON, &sess.Metadata); err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	return sess, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var _ Store = (*PostgresStore)(nil)
