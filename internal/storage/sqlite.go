package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	minCacheKiB     = 1024
	maxCacheKiB     = 1 << 20
	defaultCacheKiB = 64 * 1024

	// mmapSize is a fixed memory-map budget for the sqlite data file.
	mmapSize = 268435456
)

// sqliteBackend is the preferred engine. Calls complete synchronously in
// sub-millisecond time for this workload, so a single connection doubles as
// the write-serialization point.
type sqliteBackend struct {
	db    *sql.DB
	stmts map[string]*sql.Stmt
}

func openSQLite(ctx context.Context, cfg Config) (*sqliteBackend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection: sqlite allows a single writer, and funneling readers
	// through the same handle keeps the statement cache valid.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// cache_size takes an attacker-influenceable number nowhere: the value
	// is an integer clamped here, never interpolated from raw input.
	cacheKiB := cfg.CacheKiB
	if cacheKiB <= 0 {
		cacheKiB = defaultCacheKiB
	}
	if cacheKiB < minCacheKiB {
		cacheKiB = minCacheKiB
	}
	if cacheKiB > maxCacheKiB {
		cacheKiB = maxCacheKiB
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheKiB),
		"PRAGMA temp_store = MEMORY",
		fmt.Sprintf("PRAGMA mmap_size = %d", mmapSize),
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	log.Debug().
		Str("path", cfg.Path).
		Int("cache_kib", cacheKiB).
		Msg("sqlite engine opened")

	return &sqliteBackend{db: db, stmts: make(map[string]*sql.Stmt, len(namedStatements))}, nil
}

func (b *sqliteBackend) Name() string { return EngineSQLite }

func (b *sqliteBackend) EnsureSchema(ctx context.Context) error {
	ddl := append([]string{
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY,
			timestamp TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			ip TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
	}, sharedSchema...)

	for _, stmt := range ddl {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ddl failed: %w", err)
		}
	}

	// Eagerly compile the fixed statement set. sqlite statement handles are
	// cheap to keep for the life of the connection.
	for name, query := range namedStatements {
		stmt, err := b.db.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", name, err)
		}
		b.stmts[name] = stmt
	}

	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return b.db.QueryContext(ctx, query, args...)
}

func (b *sqliteBackend) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return b.db.ExecContext(ctx, query, args...)
}

func (b *sqliteBackend) NamedQuery(ctx context.Context, name string, args ...any) (*sql.Rows, error) {
	stmt, ok := b.stmts[name]
	if !ok {
		return nil, fmt.Errorf("unknown statement %q", name)
	}
	return stmt.QueryContext(ctx, args...)
}

func (b *sqliteBackend) NamedExec(ctx context.Context, name string, args ...any) (sql.Result, error) {
	stmt, ok := b.stmts[name]
	if !ok {
		return nil, fmt.Errorf("unknown statement %q", name)
	}
	return stmt.ExecContext(ctx, args...)
}

// BatchExec runs every row inside one native transaction. Any failure rolls
// the whole batch back.
func (b *sqliteBackend) BatchExec(ctx context.Context, query string, rows [][]any) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch statement: %w", err)
	}

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("batch row %d: %w", i, err)
		}
	}

	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("close batch statement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *sqliteBackend) Close(ctx context.Context) error {
	// Best-effort maintenance; failures here must not block shutdown.
	if _, err := b.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		log.Debug().Err(err).Msg("sqlite optimize failed on close")
	}
	if _, err := b.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Debug().Err(err).Msg("sqlite wal checkpoint failed on close")
	}

	for _, stmt := range b.stmts {
		_ = stmt.Close()
	}
	return b.db.Close()
}
