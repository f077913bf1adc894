package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the ingestion core.
type Config struct {
	// Storage
	DataFile       string // primary database file
	Engine         string // preferred backend: "sqlite" or "duckdb"
	Fallback       bool   // try the alternate engine when the preferred one fails
	CacheKiB       int    // sqlite page-cache budget
	MemoryLimitMiB int    // duckdb memory cap

	// Offsets
	OffsetDBPath string // boltdb checkpoint file
	OffsetMirror bool   // mirror offsets into the file_offsets table

	// Watcher
	WatchDir        string
	WatchPattern    string
	WatchEnabled    bool
	WatchMode       string // "auto" or "manual"
	TailOnlyNew     bool
	BatchSize       int
	FlushIntervalMs int
	PollIntervalMs  int
	BufferLimit     int
	PatternsFile    string // YAML fallback-pattern rules

	// Metrics
	SourceCap         int
	DiskCapacityBytes int64

	// Retention
	LogRetentionDays int

	// Observability
	LogLevel        string
	LogFile         string
	TracingEnabled  bool
	TracingEndpoint string
	TracingProtocol string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DataFile:       getEnv("DATA_FILE", "data/logs.db"),
		Engine:         getEnv("STORAGE_ENGINE", "sqlite"),
		Fallback:       getEnvBool("STORAGE_FALLBACK", true),
		CacheKiB:       getEnvInt("STORAGE_CACHE_KIB", 65536),
		MemoryLimitMiB: getEnvInt("STORAGE_MEMORY_LIMIT_MIB", 512),

		OffsetDBPath: getEnv("OFFSET_DB_PATH", "data/offsets.db"),
		OffsetMirror: getEnvBool("OFFSET_MIRROR", true),

		WatchDir:        getEnv("WATCH_DIR", ""),
		WatchPattern:    getEnv("WATCH_PATTERN", "*.log"),
		WatchEnabled:    getEnvBool("WATCH_ENABLED", true),
		WatchMode:       getEnv("WATCH_MODE", "auto"),
		TailOnlyNew:     getEnvBool("TAIL_ONLY_NEW", false),
		BatchSize:       getEnvInt("BATCH_SIZE", 100),
		FlushIntervalMs: getEnvInt("FLUSH_INTERVAL_MS", 2000),
		PollIntervalMs:  getEnvInt("POLL_INTERVAL_MS", 500),
		BufferLimit:     getEnvInt("BUFFER_LIMIT", 5000),
		PatternsFile:    getEnv("PATTERNS_FILE", ""),

		SourceCap:         getEnvInt("SOURCE_CAP", 100),
		DiskCapacityBytes: int64(getEnvInt("DISK_CAPACITY_BYTES", 10<<30)),

		LogRetentionDays: getEnvInt("LOG_RETENTION_DAYS", 30),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
		TracingEnabled:  getEnvBool("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", ""),
		TracingProtocol: getEnv("TRACING_PROTOCOL", "grpc"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataFile == "" {
		return fmt.Errorf("DATA_FILE is required")
	}
	if c.Engine != "sqlite" && c.Engine != "duckdb" {
		return fmt.Errorf("STORAGE_ENGINE must be sqlite or duckdb")
	}
	if c.OffsetDBPath == "" {
		return fmt.Errorf("OFFSET_DB_PATH is required")
	}
	if c.WatchEnabled && c.WatchDir == "" {
		return fmt.Errorf("WATCH_DIR is required when WATCH_ENABLED is set")
	}
	if c.WatchMode != "auto" && c.WatchMode != "manual" {
		return fmt.Errorf("WATCH_MODE must be auto or manual")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1")
	}
	if c.LogRetentionDays < 1 {
		return fmt.Errorf("LOG_RETENTION_DAYS must be at least 1")
	}
	return nil
}

// FlushInterval returns the batch flush interval as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// PollInterval returns the tail poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
