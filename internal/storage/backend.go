package storage

import (
	"context"
	"database/sql"
)

// Backend abstracts one embedded database engine behind the store. Exactly
// one backend is active per store; nothing outside this package branches on
// backend identity.
//
// Implementations: sqliteBackend (preferred), duckdbBackend (fallback).
type Backend interface {
	// Name identifies the engine ("sqlite" or "duckdb") for stats and health.
	Name() string

	// EnsureSchema creates the logs, file_offsets and parse_errors tables
	// and compiles whatever statement cache the engine supports.
	EnsureSchema(ctx context.Context) error

	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// NamedQuery and NamedExec run one of the fixed named statements.
	NamedQuery(ctx context.Context, name string, args ...any) (*sql.Rows, error)
	NamedExec(ctx context.Context, name string, args ...any) (sql.Result, error)

	// BatchExec runs the same parameterized statement for every row inside a
	// single transaction. All rows commit or none do.
	BatchExec(ctx context.Context, query string, rows [][]any) error

	Ping(ctx context.Context) error

	// Close runs best-effort engine maintenance (optimize/checkpoint) and
	// disconnects.
	Close(ctx context.Context) error
}

// scanRows converts sql.Rows into generic rows, mapping []byte values to
// strings so callers never see driver-owned buffers.
func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		out = append(out, row)
	}

	return out, rows.Err()
}
