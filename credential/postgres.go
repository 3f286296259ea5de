// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/AleutianAI/negentropy/datatypes"
	"github.com/AleutianAI/negentropy/storage"
)

// PostgresStore persists credentials in the user_credentials table.
type PostgresStore struct {
	db *storage.DB
}

// NewPostgresStore wraps a connected DB.
func NewPostgresStore(db *storage.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, cred *datatypes.Credential) error {
	if cred.AppName == "" || cred.UserID == "" || cred.CredentialKey == "" {
		return datatypes.InvalidArgument("app_name, user_id, and credential_key are required")
	}
	dataJSON, err := json.Marshal(cred.CredentialData)
	if err != nil {
		return datatypes.InvalidArgument("credential_data not serializable: %v", err)
	}

	err = s.db.Pool.QueryRow(ctx, `
		INSERT INTO user_credentials (app_name, user_id, credential_key, credential_data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (app_name, user_id, credential_key)
		DO UPDATE SET credential_data = EXCLUDED.credential_data, updated_at = now()
		RETURNING updated_at`,
		cred.AppName, cred.UserID, cred.CredentialKey, dataJSON).Scan(&cred.UpdatedAt)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("upsert credential: %w", err))
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, appName, userID, key string) (*datatypes.Credential, error) {
	cred := &datatypes.Credential{AppName: appName, UserID: userID, CredentialKey: key}
	var dataJSON []byte
	err := s.db.Pool.QueryRow(ctx, `
		SELECT credential_data, updated_at FROM user_credentials
		WHERE app_name = $1 AND user_id = $2 AND credential_key = $3`,
		appName, userID, key).Scan(&dataJSON, &cred.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, datatypes.NotFound("credential", key)
	}
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("query credential: %w", err))
	}
	if err := json.Unmarshal(dataJSON, &cred.CredentialData); err != nil {
		return nil, datatypes.DatabaseError(err)
	}
	return cred, nil
}

func (s *PostgresStore) Delete(ctx context.Context, appName, userID, key string) error {
	_, err := s.db.Pool.Exec(ctx, `
		DELETE FROM user_credentials
		WHERE app_name = $1 AND user_id = $2 AND credential_key = $3`,
		appName, userID, key)
	if err != nil {
		return datatypes.DatabaseError(fmt.Errorf("delete credential: %w", err))
	}
	return nil
}

func (s *PostgresStore) ListKeys(ctx context.Context, appName, userID string) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT credential_key FROM user_credentials
		WHERE app_name = $1 AND user_id = $2
		ORDER BY credential_key`,
		appName, userID)
	if err != nil {
		return nil, datatypes.DatabaseError(fmt.Errorf("list credential keys: %w", err))
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, datatypes.DatabaseError(err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
