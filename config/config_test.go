// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(50<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, 5, cfg.Database.PoolSize)
	assert.Equal(t, 10, cfg.Database.MaxOverflow)
	assert.Equal(t, 3600*time.Second, cfg.Database.PoolRecycle)
	assert.Equal(t, []string{"stdio"}, cfg.Logging.Sinks)
	assert.Equal(t, 768, cfg.Provider.EmbeddingDim)
	assert.Equal(t, 512, cfg.Tracing.BatchSize)
	assert.False(t, cfg.UsePostgres())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/negentropy")
	t.Setenv("LOG_SINKS", "stdio, file")
	t.Setenv("DB_POOL_RECYCLE", "1800")
	t.Setenv("EMBED_TIMEOUT", "15s")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.UsePostgres())
	assert.Equal(t, []string{"stdio", "file"}, cfg.Logging.Sinks)
	assert.Equal(t, 30*time.Minute, cfg.Database.PoolRecycle)
	assert.Equal(t, 15*time.Second, cfg.Provider.EmbedTimeout)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("TRACING_SAMPLE_RATIO", "lots")
	t.Setenv("MEMORY_CONSOLIDATION_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	assert.True(t, cfg.Memory.ConsolidationEnabled)
}

func TestGetMemoizes(t *testing.T) {
	Reset()
	defer Reset()

	first := Get()
	second := Get()
	assert.Same(t, first, second)
}

func TestParseGenerationParams(t *testing.T) {
	tests := []struct {
		name   string
		kwargs map[string]any
		want   GenerationParams
	}{
		{
			name:   "nil map",
			kwargs: nil,
			want:   GenerationParams{},
		},
		{
			name: "json-decoded numbers",
			kwargs: map[string]any{
				"temperature": 0.7,
				"top_p":       0.95,
				"max_tokens":  float64(256),
			},
			want: GenerationParams{Temperature: 0.7, TopP: 0.95, MaxTokens: 256},
		},
		{
			name: "string values",
			kwargs: map[string]any{
				"temperature": "0.5",
				"max_tokens":  "128",
				"stop":        "END",
			},
			want: GenerationParams{Temperature: 0.5, MaxTokens: 128, Stop: []string{"END"}},
		},
		{
			name: "aliases",
			kwargs: map[string]any{
				"max_output_tokens": 64,
				"stop_sequences":    []any{"a", "b"},
			},
			want: GenerationParams{MaxTokens: 64, Stop: []string{"a", "b"}},
		},
		{
			name: "malformed values ignored",
			kwargs: map[string]any{
				"temperature": []int{1},
				"max_tokens":  "plenty",
			},
			want: GenerationParams{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseGenerationParams(tt.kwargs))
		})
	}
}
