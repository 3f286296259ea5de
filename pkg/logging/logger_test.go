// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"debug", "debug", slog.LevelDebug},
		{"info", "info", slog.LevelInfo},
		{"warn", "warn", slog.LevelWarn},
		{"warning alias", "warning", slog.LevelWarn},
		{"error", "error", slog.LevelError},
		{"mixed case", "DeBuG", slog.LevelDebug},
		{"whitespace", "  info  ", slog.LevelInfo},
		{"unknown falls back to info", "verbose", slog.LevelInfo},
		{"empty falls back to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "engine.log")

	logger := New(Config{
		Level:    "debug",
		Sinks:    []string{"file"},
		FilePath: path,
		Service:  "test-engine",
	})
	logger.Info("session appended", "session_id", "abc", "seq", 3)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "session appended", record["msg"])
	assert.Equal(t, "test-engine", record["service"])
	assert.Equal(t, "abc", record["session_id"])
}

func TestCloudSinkExports(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    "info",
		Sinks:    []string{"cloud"},
		Service:  "test-engine",
		Exporter: exporter,
	})

	logger.Info("memory consolidated", "user_id", "u1")
	logger.Debug("below threshold, not exported")

	// Export runs on a goroutine; give it a moment.
	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 1
	}, time.Second, 10*time.Millisecond)

	entries := exporter.Entries()
	assert.Equal(t, "memory consolidated", entries[0].Message)
	assert.Equal(t, "u1", entries[0].Attrs["user_id"])
	assert.Equal(t, "test-engine", entries[0].Service)
	require.NoError(t, logger.Close())
}

func TestWithCarriesAttrs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")

	logger := New(Config{Sinks: []string{"file"}, FilePath: path})
	child := logger.With("app_name", "demo")
	child.Info("corpus created")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "demo", record["app_name"])
}

func TestZeroConfigDoesNotPanic(t *testing.T) {
	logger := New(Config{})
	logger.Info("hello")
	assert.NoError(t, logger.Close())
}
