package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rejavarti/logging-server-sub008/internal/retry"
)

// identStrip removes everything outside [A-Za-z0-9_] from identifiers that
// end up in SQL text. Values always travel as bind parameters; identifiers
// cannot, so they get sanitized instead.
var identStrip = regexp.MustCompile(`[^A-Za-z0-9_]+`)

func sanitizeIdentifier(ident string) string {
	return identStrip.ReplaceAllString(ident, "")
}

// BatchResult reports a committed batch insert.
type BatchResult struct {
	Inserted int
	Elapsed  time.Duration
}

// BatchInsert writes every row into table inside one all-or-nothing
// transaction. Any failure rolls back the whole batch. Transient lock
// conflicts are retried a bounded number of times; everything else fails
// immediately.
func (s *Store) BatchInsert(ctx context.Context, table string, columns []string, rows [][]any) (BatchResult, error) {
	if s.closed.Load() {
		return BatchResult{}, ErrClosed
	}
	if len(rows) == 0 {
		return BatchResult{}, errors.New("storage: empty batch")
	}
	if len(columns) == 0 {
		return BatchResult{}, errors.New("storage: batch without columns")
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return BatchResult{}, fmt.Errorf("storage: ragged batch: row %d has %d values, want %d", i, len(row), len(columns))
		}
	}

	table = sanitizeIdentifier(table)
	if table == "" {
		return BatchResult{}, errors.New("storage: table name empty after sanitization")
	}
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = sanitizeIdentifier(c)
		if cols[i] == "" {
			return BatchResult{}, fmt.Errorf("storage: column %d empty after sanitization", i)
		}
	}

	query := buildInsert(table, cols)

	ctx, span := s.tracer.Start(ctx, "storage.batch_insert")
	span.SetAttributes(
		attribute.String("db.table", table),
		attribute.String("db.backend", s.backend.Name()),
		attribute.Int("db.batch_rows", len(rows)),
	)
	defer span.End()

	start := time.Now()
	err := retry.Do(ctx, s.retryCfg, func() error {
		return s.backend.BatchExec(ctx, query, rows)
	}, func(lockErr error) {
		s.counters.IncrementLockedInserts()
		s.counters.IncrementRetriedInserts()
	})
	if err != nil {
		s.counters.IncrementFailedInserts()
		s.counters.IncrementErrors()
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch insert failed")
		return BatchResult{}, fmt.Errorf("batch insert into %s: %w", table, err)
	}

	s.counters.AddBatchedInserts(len(rows))
	s.counters.IncrementBatchFlushes()
	span.SetStatus(codes.Ok, "committed")

	return BatchResult{Inserted: len(rows), Elapsed: time.Since(start)}, nil
}

func buildInsert(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	b.WriteString(")")
	return b.String()
}
