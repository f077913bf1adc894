package offset

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/rejavarti/logging-server-sub008/internal/storage"
)

// MirrorStore wraps a primary store and mirrors every write into the SQL
// file_offsets table, keeping offsets visible to ad hoc query consumers.
// Reads prefer the primary; a missing primary entry falls back to the table
// so checkpoints survive loss of the bolt file.
type MirrorStore struct {
	primary Store
	db      *storage.Store
}

// NewMirrorStore wraps primary with a SQL mirror.
func NewMirrorStore(primary Store, db *storage.Store) *MirrorStore {
	return &MirrorStore{primary: primary, db: db}
}

// Get retrieves the offset for a file. The primary is authoritative: any
// stored checkpoint there, including an explicit zero after a truncation
// reset, wins. Only when the primary has no entry at all is the SQL mirror
// consulted, so checkpoints survive loss of the bolt file.
func (s *MirrorStore) Get(ctx context.Context, filePath string) (uint64, bool, error) {
	off, found, err := s.primary.Get(ctx, filePath)
	if err != nil || found {
		return off, found, err
	}

	mirrored, mirrorFound, err := s.db.FileOffset(ctx, filePath)
	if err != nil {
		log.Warn().Err(err).Str("file_path", filePath).Msg("Offset mirror read failed")
		return 0, false, nil
	}
	return mirrored, mirrorFound, nil
}

// Set stores the offset in the primary and mirrors it best-effort. A mirror
// failure never fails the checkpoint: the primary store is authoritative.
func (s *MirrorStore) Set(ctx context.Context, filePath string, offset uint64) error {
	if err := s.primary.Set(ctx, filePath, offset); err != nil {
		return err
	}
	if err := s.db.SetFileOffset(ctx, filePath, offset); err != nil {
		log.Warn().Err(err).Str("file_path", filePath).Msg("Offset mirror write failed")
	}
	return nil
}

// Delete removes the offset from both stores.
func (s *MirrorStore) Delete(ctx context.Context, filePath string) error {
	if err := s.primary.Delete(ctx, filePath); err != nil {
		return err
	}
	if err := s.db.DeleteFileOffset(ctx, filePath); err != nil {
		log.Warn().Err(err).Str("file_path", filePath).Msg("Offset mirror delete failed")
	}
	return nil
}

// List returns the primary store's offsets.
func (s *MirrorStore) List(ctx context.Context) (map[string]uint64, error) {
	return s.primary.List(ctx)
}

// Close closes the primary store. The mirror's storage backend is owned by
// the caller.
func (s *MirrorStore) Close() error {
	return s.primary.Close()
}
