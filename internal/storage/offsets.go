package storage

import (
	"context"
	"time"
)

// Typed access to the file_offsets table. The watcher's primary checkpoint
// store lives in bbolt; this table mirrors it so offsets stay visible to
// ad hoc SQL consumers.

// SetFileOffset upserts the consumed byte offset for a watched file.
func (s *Store) SetFileOffset(ctx context.Context, path string, offset uint64) error {
	_, err := s.Run(ctx, `INSERT INTO file_offsets (path, byte_offset, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			byte_offset = excluded.byte_offset,
			updated_at = excluded.updated_at`,
		path, int64(offset), FormatTime(time.Now()))
	return err
}

// FileOffset returns the stored offset for path. found is false when the
// table has no row for it.
func (s *Store) FileOffset(ctx context.Context, path string) (uint64, bool, error) {
	row, err := s.Get(ctx, `SELECT byte_offset FROM file_offsets WHERE path = ?`, path)
	if err != nil {
		return 0, false, err
	}
	if row == nil {
		return 0, false, nil
	}
	switch v := row["byte_offset"].(type) {
	case int64:
		return uint64(v), true, nil
	case float64:
		return uint64(v), true, nil
	default:
		return 0, false, nil
	}
}

// DeleteFileOffset removes the stored offset for path.
func (s *Store) DeleteFileOffset(ctx context.Context, path string) error {
	_, err := s.Run(ctx, `DELETE FROM file_offsets WHERE path = ?`, path)
	return err
}
