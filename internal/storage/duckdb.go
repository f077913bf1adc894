package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog/log"
)

const defaultMemoryLimitMiB = 512

// duckdbBackend is the fallback engine. Its driver hands statements to the
// engine asynchronously, so there is no cheap long-lived statement handle to
// cache: named statements are prepared per call.
type duckdbBackend struct {
	db *sql.DB
}

func openDuckDB(ctx context.Context, cfg Config) (*duckdbBackend, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	limit := cfg.MemoryLimitMiB
	if limit <= 0 {
		limit = defaultMemoryLimitMiB
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA memory_limit='%dMiB'", limit)); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply memory limit: %w", err)
	}

	log.Debug().
		Str("path", cfg.Path).
		Int("memory_limit_mib", limit).
		Msg("duckdb engine opened")

	return &duckdbBackend{db: db}, nil
}

func (b *duckdbBackend) Name() string { return EngineDuckDB }

func (b *duckdbBackend) EnsureSchema(ctx context.Context) error {
	ddl := append([]string{
		`CREATE SEQUENCE IF NOT EXISTS logs_id_seq`,
		`CREATE TABLE IF NOT EXISTS logs (
			id BIGINT PRIMARY KEY DEFAULT nextval('logs_id_seq'),
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
	return nil
}

func (b *duckdbBackend) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return b.db.QueryContext(ctx, query, args...)
}

func (b *duckdbBackend) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return b.db.ExecContext(ctx, query, args...)
}

func (b *duckdbBackend) NamedQuery(ctx context.Context, name string, args ...any) (*sql.Rows, error) {
	query, ok := namedStatements[name]
	if !ok {
		return nil, fmt.Errorf("unknown statement %q", name)
	}
	return b.db.QueryContext(ctx, query, args...)
}

func (b *duckdbBackend) NamedExec(ctx context.Context, name string, args ...any) (sql.Result, error) {
	query, ok := namedStatements[name]
	if !ok {
		return nil, fmt.Errorf("unknown statement %q", name)
	}
	return b.db.ExecContext(ctx, query, args...)
}

// BatchExec wraps the rows in an explicit BEGIN/COMMIT on a pinned
// connection, with ROLLBACK on any per-row failure.
func (b *duckdbBackend) BatchExec(ctx context.Context, query string, rows [][]any) error {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	for i, row := range rows {
		if _, err := conn.ExecContext(ctx, query, row...); err != nil {
			if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
				log.Warn().Err(rbErr).Msg("duckdb rollback failed")
			}
			return fmt.Errorf("batch row %d: %w", i, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *duckdbBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *duckdbBackend) Close(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		log.Debug().Err(err).Msg("duckdb checkpoint failed on close")
	}
	return b.db.Close()
}
