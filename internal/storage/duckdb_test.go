package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rejavarti/logging-server-sub008/internal/domain"
)

func openDuckDBStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), Config{
		Path:   filepath.Join(t.TempDir(), "logs.duckdb"),
		Engine: EngineDuckDB,
	}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestOpenFallsBackToDuckDB(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "logs.db")

	// Seed the data file in duckdb's native format so the preferred sqlite
	// engine cannot open it.
	seed, err := Open(ctx, Config{Path: path, Engine: EngineDuckDB}, nil)
	if err != nil {
		t.Fatalf("seed Open() error = %v", err)
	}
	if err := seed.Close(ctx); err != nil {
		t.Fatalf("seed Close() error = %v", err)
	}

	s, err := Open(ctx, Config{
		Path:     path,
		Engine:   EngineSQLite,
		Fallback: true,
	}, nil)
	if err != nil {
		t.Fatalf("Open() with fallback error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	// The alternate engine is selected and its identity exposed.
	if got := s.Backend(); got != EngineDuckDB {
		t.Errorf("expected backend=%s, got %s", EngineDuckDB, got)
	}
	if got := s.Stats().Backend; got != EngineDuckDB {
		t.Errorf("expected stats backend=%s, got %s", EngineDuckDB, got)
	}
	h := s.HealthCheck(ctx)
	if h.Status != "healthy" || h.Database != EngineDuckDB {
		t.Errorf("expected healthy %s, got %s (%s)", EngineDuckDB, h.Database, h.Status)
	}

	// The fallback store is fully usable.
	if _, err := s.InsertLogs(ctx, []domain.LogRecord{
		{Timestamp: time.Now(), Level: "INFO", Message: "after fallback", Source: "app"},
	}); err != nil {
		t.Errorf("InsertLogs() on fallback backend error = %v", err)
	}
}

func TestOpenSQLiteFailureWithoutFallback(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "logs.db")

	seed, err := Open(ctx, Config{Path: path, Engine: EngineDuckDB}, nil)
	if err != nil {
		t.Fatalf("seed Open() error = %v", err)
	}
	if err := seed.Close(ctx); err != nil {
		t.Fatalf("seed Close() error = %v", err)
	}

	if _, err := Open(ctx, Config{Path: path, Engine: EngineSQLite}, nil); err == nil {
		t.Fatal("expected initialization failure with fallback disabled")
	}
}

func TestDuckDBInsertLogsRoundTrip(t *testing.T) {
	s := openDuckDBStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if _, err := s.InsertLogs(ctx, []domain.LogRecord{
		{Timestamp: now.Add(-time.Minute), Level: "INFO", Message: "first", Source: "app"},
		{Timestamp: now, Level: "ERROR", Message: "second", Source: "app",
			Metadata: map[string]string{"request_id": "abc"}},
	}); err != nil {
		t.Fatalf("InsertLogs() error = %v", err)
	}

	rows, err := s.RecentLogs(ctx, 10)
	if err != nil {
		t.Fatalf("RecentLogs() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["message"] != "second" {
		t.Errorf("expected newest row first, got %v", rows[0]["message"])
	}
}

func TestDuckDBBatchInsertAtomicity(t *testing.T) {
	s := openDuckDBStore(t)
	ctx := context.Background()

	cols := []string{"id", "source", "file", "line", "snippet", "reason", "created_at", "acknowledged"}
	rows := [][]any{
		{"dup", "app", "/tmp/a.log", 1, "x", "r", FormatTime(time.Now()), 0},
		{"dup", "app", "/tmp/a.log", 2, "y", "r", FormatTime(time.Now()), 0},
	}

	// Second row violates the primary key; the explicit transaction must
	// roll the whole batch back.
	if _, err := s.BatchInsert(ctx, "parse_errors", cols, rows); err == nil {
		t.Fatal("expected primary-key violation")
	}

	row, err := s.Get(ctx, "SELECT COUNT(*) AS n FROM parse_errors")
	if err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if n, _ := row["n"].(int64); n != 0 {
		t.Errorf("expected 0 rows after rollback, got %v", row["n"])
	}
}

func TestDuckDBFileOffsets(t *testing.T) {
	s := openDuckDBStore(t)
	ctx := context.Background()

	if err := s.SetFileOffset(ctx, "/app.log", 1024); err != nil {
		t.Fatalf("SetFileOffset() error = %v", err)
	}
	if err := s.SetFileOffset(ctx, "/app.log", 2048); err != nil {
		t.Fatalf("SetFileOffset() upsert error = %v", err)
	}

	got, found, err := s.FileOffset(ctx, "/app.log")
	if err != nil {
		t.Fatalf("FileOffset() error = %v", err)
	}
	if !found || got != 2048 {
		t.Errorf("expected offset=2048 found=true, got %d found=%v", got, found)
	}
}
