// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for negentropy components.
//
// The engine logs through Go's standard library slog package with
// extensions for multi-sink output:
//
//   - stdio: stderr output, console or JSON format (default sink)
//   - file:  append-only JSON log file with automatic directory creation
//   - cloud: extensible via the LogExporter interface
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: "info", Sinks: []string{"stdio"}})
//	defer logger.Close()
//	logger.Info("session created", "session_id", id)
//
// # Thread Safety
//
// Logger is safe for concurrent use. The underlying slog.Logger is
// thread-safe and mutable state is protected by a mutex.
//
// # Security Considerations
//
// This package does NOT redact sensitive data. Callers must ensure PII,
// tokens, and credential payloads are never passed as attributes.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures Logger behavior. A zero value logs Info+ to stderr in
// console format.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn", or "error".
	// Unknown values fall back to "info".
	Level string

	// Sinks lists the enabled destinations: "stdio", "file", "cloud".
	// Empty means stdio only.
	Sinks []string

	// Format selects stderr output format: "console" (human-readable
	// text) or "json". File output is always JSON.
	Format string

	// FilePath is the log file location for the "file" sink. The parent
	// directory is created with 0750 permissions if missing.
	FilePath string

	// Service is stamped onto every record as the "service" attribute.
	Service string

	// Exporter receives entries for the "cloud" sink. Export failures
	// are dropped; the exporter must buffer internally.
	Exporter LogExporter
}

// LogExporter is the extension point for the "cloud" sink. Implementations
// upload entries to external systems (GCS, Loki, an OTLP log collector).
// Export must not block; Flush and Close are called during shutdown.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is the structured record handed to a LogExporter.
type LogEntry struct {
	Timestamp time.Time
	Level     slog.Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps slog.Logger with multi-sink fan-out and cleanup.
type Logger struct {
	slog     *slog.Logger
	service  string
	level    slog.Level
	file     *os.File
	exporter LogExporter
	mu       sync.Mutex
}

// parseLevel maps a config string to a slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a Logger from config. The returned Logger must be closed to
// flush the file sink and the exporter.
func New(config Config) *Logger {
	level := parseLevel(config.Level)
	opts := &slog.HandlerOptions{Level: level}

	sinks := config.Sinks
	if len(sinks) == 0 {
		sinks = []string{"stdio"}
	}
	enabled := make(map[string]bool, len(sinks))
	for _, s := range sinks {
		enabled[strings.ToLower(strings.TrimSpace(s))] = true
	}

	logger := &Logger{service: config.Service, level: level}

	var handlers []slog.Handler
	if enabled["stdio"] {
		if strings.EqualFold(config.Format, "json") {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}
	if enabled["file"] && config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0750); err == nil {
			file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err == nil {
				logger.file = file
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			}
		}
	}
	if enabled["cloud"] && config.Exporter != nil {
		logger.exporter = config.Exporter
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns an Info-level stderr logger for the engine service.
func Default() *Logger {
	return New(Config{Level: "info", Service: "negentropy"})
}

// Debug logs at Debug level with slog-style key-value args.
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// With returns a child logger carrying additional attributes. The parent
// is not modified; file handle and exporter are shared.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		service:  l.service,
		level:    l.level,
		file:     l.file,
		exporter: l.exporter,
	}
}

// Slog exposes the underlying slog.Logger, e.g. for slog.SetDefault.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Close flushes the exporter and syncs and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}
	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	l.slog.Log(context.Background(), level, msg, args...)

	if l.exporter != nil && level >= l.level {
		entry := LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   msg,
			Service:   l.service,
			Attrs:     argsToMap(args),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = l.exporter.Export(ctx, entry)
		}()
	}
}

// =============================================================================
// Multi-Handler (internal)
// =============================================================================

// multiHandler fans out records to multiple slog handlers so stderr and
// file sinks can use different formats.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Helpers and Built-in Exporters
// =============================================================================

// argsToMap converts slog-style key-value args into a map for LogEntry.
func argsToMap(args []any) map[string]any {
	result := make(map[string]any)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			result[key] = args[i+1]
		}
	}
	return result
}

// BufferedExporter collects entries in memory. Used in tests to verify
// what was exported.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter creates an empty BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{entries: make([]LogEntry, 0, 64)}
}

// Export appends the entry to the buffer.
func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

// Flush is a no-op; entries are already in memory.
func (e *BufferedExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op.
func (e *BufferedExporter) Close() error { return nil }

// Entries returns a copy of the collected entries.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

var _ LogExporter = (*BufferedExporter)(nil)
