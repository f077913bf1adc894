package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WATCH_DIR", "/var/log")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DataFile != "data/logs.db" {
		t.Errorf("expected default DataFile, got %s", cfg.DataFile)
	}
	if cfg.Engine != "sqlite" {
		t.Errorf("expected default engine sqlite, got %s", cfg.Engine)
	}
	if !cfg.Fallback {
		t.Error("expected fallback enabled by default")
	}
	if !cfg.OffsetMirror {
		t.Error("expected offset mirror enabled by default")
	}
	if cfg.WatchPattern != "*.log" {
		t.Errorf("expected default pattern *.log, got %s", cfg.WatchPattern)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("expected default batch size 100, got %d", cfg.BatchSize)
	}
	if cfg.FlushInterval() != 2*time.Second {
		t.Errorf("expected default flush interval 2s, got %v", cfg.FlushInterval())
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("expected default poll interval 500ms, got %v", cfg.PollInterval())
	}
	if cfg.LogRetentionDays != 30 {
		t.Errorf("expected default retention 30 days, got %d", cfg.LogRetentionDays)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("WATCH_DIR", "/logs")
	t.Setenv("STORAGE_ENGINE", "duckdb")
	t.Setenv("STORAGE_FALLBACK", "false")
	t.Setenv("WATCH_MODE", "manual")
	t.Setenv("BATCH_SIZE", "250")
	t.Setenv("TAIL_ONLY_NEW", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine != "duckdb" {
		t.Errorf("expected duckdb, got %s", cfg.Engine)
	}
	if cfg.Fallback {
		t.Error("expected fallback disabled")
	}
	if cfg.WatchMode != "manual" {
		t.Errorf("expected manual mode, got %s", cfg.WatchMode)
	}
	if cfg.BatchSize != 250 {
		t.Errorf("expected batch size 250, got %d", cfg.BatchSize)
	}
	if !cfg.TailOnlyNew {
		t.Error("expected TailOnlyNew enabled")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		DataFile:         "data/logs.db",
		Engine:           "sqlite",
		OffsetDBPath:     "data/offsets.db",
		WatchEnabled:     true,
		WatchDir:         "/var/log",
		WatchMode:        "auto",
		BatchSize:        100,
		LogRetentionDays: 30,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing data file", func(c *Config) { c.DataFile = "" }, true},
		{"bad engine", func(c *Config) { c.Engine = "postgres" }, true},
		{"missing offset path", func(c *Config) { c.OffsetDBPath = "" }, true},
		{"watcher enabled without dir", func(c *Config) { c.WatchDir = "" }, true},
		{"watcher disabled without dir", func(c *Config) { c.WatchEnabled = false; c.WatchDir = "" }, false},
		{"bad mode", func(c *Config) { c.WatchMode = "hybrid" }, true},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, true},
		{"zero retention", func(c *Config) { c.LogRetentionDays = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
