// Package notify is the parse-error notification side channel: unparseable
// lines are recorded for operator review instead of being silently dropped
// or turned into fabricated records.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rejavarti/logging-server-sub008/internal/domain"
	"github.com/rejavarti/logging-server-sub008/internal/storage"
)

// ErrNotFound is returned when acknowledging an unknown parse-error ID.
var ErrNotFound = errors.New("notify: parse error not found")

const defaultRecentLimit = 50

// Recorder persists parse errors through the storage selector.
type Recorder struct {
	db *storage.Store
}

// NewRecorder creates a Recorder backed by db.
func NewRecorder(db *storage.Store) *Recorder {
	return &Recorder{db: db}
}

// Record stores a parse error, assigning it an ID and timestamp when unset.
// Ingestion continues regardless of the outcome; the caller only logs a
// returned error.
func (r *Recorder) Record(ctx context.Context, pe domain.ParseError) error {
	if pe.ID == "" {
		pe.ID = uuid.NewString()
	}
	if pe.CreatedAt.IsZero() {
		pe.CreatedAt = time.Now().UTC()
	}

	log.Warn().
		Str("source", pe.Source).
		Str("file", pe.File).
		Int64("line", pe.Line).
		Str("reason", pe.Reason).
		Msg("Unparseable line skipped")

	_, err := r.db.Run(ctx, `INSERT INTO parse_errors
		(id, source, file, line, snippet, reason, created_at, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		pe.ID, pe.Source, pe.File, pe.Line, pe.Snippet, pe.Reason,
		storage.FormatTime(pe.CreatedAt))
	if err != nil {
		return fmt.Errorf("record parse error: %w", err)
	}
	return nil
}

// Recent returns up to limit parse errors, unacknowledged first, newest
// first within each group.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]domain.ParseError, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	rows, err := r.db.All(ctx, `SELECT id, source, file, line, snippet, reason, created_at, acknowledged
		FROM parse_errors
		ORDER BY acknowledged ASC, created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list parse errors: %w", err)
	}

	out := make([]domain.ParseError, 0, len(rows))
	for _, row := range rows {
		pe := domain.ParseError{
			ID:      asString(row["id"]),
			Source:  asString(row["source"]),
			File:    asString(row["file"]),
			Snippet: asString(row["snippet"]),
			Reason:  asString(row["reason"]),
		}
		pe.Line = asInt64(row["line"])
		pe.Acknowledged = asInt64(row["acknowledged"]) != 0
		if ts, err := storage.ParseTime(asString(row["created_at"])); err == nil {
			pe.CreatedAt = ts
		}
		out = append(out, pe)
	}
	return out, nil
}

// Acknowledge marks one parse error as seen by an operator.
func (r *Recorder) Acknowledge(ctx context.Context, id string) error {
	info, err := r.db.Run(ctx, `UPDATE parse_errors SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("acknowledge parse error: %w", err)
	}
	if info.Changes == 0 {
		return ErrNotFound
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}
