// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage owns the Postgres connection pool, schema migrations,
// and vector encoding shared by all persistent stores.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AleutianAI/negentropy/config"
)

// DB wraps a pgxpool.Pool configured for the engine schema.
type DB struct {
	Pool *pgxpool.Pool
}

// Connect opens a connection pool per the database config and verifies
// connectivity with a ping. The pool pins search_path to the negentropy
// schema so store SQL can use unqualified table names.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MinConns = int32(cfg.PoolSize)
	poolCfg.MaxConns = int32(cfg.PoolSize + cfg.MaxOverflow)
	poolCfg.MaxConnLifetime = cfg.PoolRecycle
	poolCfg.ConnConfig.RuntimeParams["search_path"] = "negentropy,public"
	if cfg.StatementTimout > 0 {
		ms := cfg.StatementTimout / time.Millisecond
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", ms)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close releases all pool connections.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}
