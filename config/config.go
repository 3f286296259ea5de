// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads engine configuration from the environment.
//
// Configuration is read once per process via Get(), layered from dotenv
// files (see dotenv.go) and then the process environment. Every knob has
// a default so the engine starts with an empty environment, using
// in-memory backends.
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Configuration Groups
// =============================================================================

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// MaxUploadBytes caps multipart ingestion uploads.
	MaxUploadBytes int64
}

// DatabaseConfig controls the Postgres connection pool.
type DatabaseConfig struct {
	// URL is a pgx connection string. Empty selects in-memory backends.
	URL             string
	PoolSize        int
	MaxOverflow     int
	PoolRecycle     time.Duration
	MigrateOnStart  bool
	StatementTimout time.Duration
}

// LoggingConfig mirrors pkg/logging.Config.
type LoggingConfig struct {
	Level    string
	Sinks    []string
	Format   string
	FilePath string
}

// TracingConfig controls OTLP export and the database span exporter.
type TracingConfig struct {
	Enabled       bool
	OTLPEndpoint  string
	ServiceName   string
	SampleRatio   float64
	DBExport      bool
	BatchSize     int
	FlushInterval time.Duration
	QueueCapacity int
}

// ProviderConfig controls embedding and LLM access.
type ProviderConfig struct {
	// BaseURL points at an OpenAI-compatible API. Empty disables remote
	// providers; factories fall back to deterministic local stubs.
	BaseURL          string
	APIKey           string
	EmbeddingModel   string
	EmbeddingDim     int
	ChatModel        string
	EmbedTimeout     time.Duration
	ChatTimeout      time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

// ServicesConfig selects per-service backends. "auto" follows
// Database.URL: database when set, memory otherwise.
type ServicesConfig struct {
	SessionBackend    string
	MemoryBackend     string
	CredentialBackend string
	KnowledgeBackend  string
}

// StorageConfig controls artifact blob storage.
type StorageConfig struct {
	// Backend is "memory" or "gcs".
	Backend   string
	GCSBucket string
}

// AuthConfig is consumed by the fronting auth collaborator. An empty
// TokenSecret disables request authentication entirely.
type AuthConfig struct {
	TokenSecret    string
	CookieName     string
	SessionTTL     time.Duration
	AllowedDomains []string
	AllowedEmails  []string
	AdminEmails    []string
}

// MemoryConfig controls consolidation and retention.
type MemoryConfig struct {
	ConsolidationEnabled bool
	RetentionHalfLife    time.Duration
	SearchLimit          int
}

// Config is the root of all engine settings.
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Logging     LoggingConfig
	Tracing     TracingConfig
	Provider    ProviderConfig
	Services    ServicesConfig
	Storage     StorageConfig
	Auth        AuthConfig
	Memory      MemoryConfig
}

// =============================================================================
// Loading
// =============================================================================

var (
	once     sync.Once
	instance *Config
)

// Get returns the process-wide configuration, loading it on first call.
// Dotenv files are applied before reading the environment.
func Get() *Config {
	once.Do(func() {
		LoadDotenv(getEnvString("NEGENTROPY_ENV", "development"))
		instance = Load()
	})
	return instance
}

// Reset clears the singleton. Test-only.
func Reset() {
	once = sync.Once{}
	instance = nil
}

// Load reads configuration from the current environment without dotenv
// layering or memoization. Prefer Get() outside tests.
func Load() *Config {
	return &Config{
		Environment: getEnvString("NEGENTROPY_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxUploadBytes:  getEnvInt64("SERVER_MAX_UPLOAD_BYTES", 50<<20),
		},
		Database: DatabaseConfig{
			URL:             getEnvString("DATABASE_URL", ""),
			PoolSize:        getEnvInt("DB_POOL_SIZE", 5),
			MaxOverflow:     getEnvInt("DB_MAX_OVERFLOW", 10),
			PoolRecycle:     getEnvDuration("DB_POOL_RECYCLE", 3600*time.Second),
			MigrateOnStart:  getEnvBool("DB_MIGRATE_ON_START", false),
			StatementTimout: getEnvDuration("DB_STATEMENT_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:    getEnvString("LOG_LEVEL", "info"),
			Sinks:    splitCSV(getEnvString("LOG_SINKS", "stdio")),
			Format:   getEnvString("LOG_FORMAT", "console"),
			FilePath: getEnvString("LOG_FILE", "logs/negentropy.log"),
		},
		Tracing: TracingConfig{
			Enabled:       getEnvBool("TRACING_ENABLED", false),
			OTLPEndpoint:  getEnvString("OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:   getEnvString("TRACING_SERVICE_NAME", "negentropy"),
			SampleRatio:   getEnvFloat("TRACING_SAMPLE_RATIO", 1.0),
			DBExport:      getEnvBool("TRACING_DB_EXPORT", true),
			BatchSize:     getEnvInt("TRACING_BATCH_SIZE", 512),
			FlushInterval: getEnvDuration("TRACING_FLUSH_INTERVAL", 5*time.Second),
			QueueCapacity: getEnvInt("TRACING_QUEUE_CAPACITY", 4096),
		},
		Provider: ProviderConfig{
			BaseURL:        getEnvString("PROVIDER_BASE_URL", ""),
			APIKey:         getEnvString("PROVIDER_API_KEY", ""),
			EmbeddingModel: getEnvString("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDim:   getEnvInt("EMBEDDING_DIM", 768),
			ChatModel:      getEnvString("CHAT_MODEL", "gpt-4o-mini"),
			EmbedTimeout:   getEnvDuration("EMBED_TIMEOUT", 10*time.Second),
			ChatTimeout:    getEnvDuration("CHAT_TIMEOUT", 30*time.Second),
			MaxRetries:     getEnvInt("PROVIDER_MAX_RETRIES", 3),
			RetryBaseDelay: getEnvDuration("PROVIDER_RETRY_BASE_DELAY", time.Second),
			RetryMaxDelay:  getEnvDuration("PROVIDER_RETRY_MAX_DELAY", 8*time.Second),
		},
		Services: ServicesConfig{
			SessionBackend:    getEnvString("SESSION_BACKEND", "auto"),
			MemoryBackend:     getEnvString("MEMORY_BACKEND", "auto"),
			CredentialBackend: getEnvString("CREDENTIAL_BACKEND", "auto"),
			KnowledgeBackend:  getEnvString("KNOWLEDGE_BACKEND", "auto"),
		},
		Storage: StorageConfig{
			Backend:   getEnvString("ARTIFACT_BACKEND", "memory"),
			GCSBucket: getEnvString("GCS_BUCKET", ""),
		},
		Auth: AuthConfig{
			TokenSecret:    getEnvString("AUTH_TOKEN_SECRET", ""),
			CookieName:     getEnvString("AUTH_COOKIE_NAME", "negentropy_session"),
			SessionTTL:     getEnvDuration("AUTH_SESSION_TTL", 24*time.Hour),
			AllowedDomains: splitCSV(getEnvString("AUTH_ALLOWED_DOMAINS", "")),
			AllowedEmails:  splitCSV(getEnvString("AUTH_ALLOWED_EMAILS", "")),
			AdminEmails:    splitCSV(getEnvString("AUTH_ADMIN_EMAILS", "")),
		},
		Memory: MemoryConfig{
			ConsolidationEnabled: getEnvBool("MEMORY_CONSOLIDATION_ENABLED", true),
			RetentionHalfLife:    getEnvDuration("MEMORY_RETENTION_HALF_LIFE", 30*24*time.Hour),
			SearchLimit:          getEnvInt("MEMORY_SEARCH_LIMIT", 10),
		},
	}
}

// UsePostgres reports whether persistent backends should be used.
func (c *Config) UsePostgres() bool {
	return c.Database.URL != ""
}

// =============================================================================
// Env Helpers
// =============================================================================

// getEnvString returns an environment variable as string, or defaultVal if not set.
func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// getEnvInt64 returns an environment variable as int64, or defaultVal if not set/invalid.
func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

// getEnvFloat returns an environment variable as float64, or defaultVal if not set/invalid.
func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvBool returns an environment variable as bool, or defaultVal if not set/invalid.
func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go duration syntax ("30s") or a bare integer of
// seconds, which matches how deployment manifests usually write timeouts.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
