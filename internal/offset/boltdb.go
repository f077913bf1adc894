package offset

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const bucketName = "offsets"

// BoltStore implements Store using BoltDB. The checkpoint is written only
// after the corresponding data batch is confirmed, so a crash can redeliver
// the last unflushed batch but never lose confirmed data.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the offset database at dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A lock timeout usually means a previous process was killed without
		// graceful shutdown and still holds the file.
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("BoltDB offset store initialized")

	return &BoltStore{db: db}, nil
}

// Get retrieves the offset for a file. found is false when no checkpoint
// has ever been stored; a stored zero reports found=true.
func (s *BoltStore) Get(ctx context.Context, filePath string) (uint64, bool, error) {
	var (
		offset uint64
		found  bool
	)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := b.Get([]byte(filePath))
		if val == nil {
			return nil
		}
		if len(val) < 8 {
			return fmt.Errorf("invalid offset value")
		}

		offset = binary.BigEndian.Uint64(val)
		found = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to get offset: %w", err)
	}

	return offset, found, nil
}

// Set stores the offset for a file.
func (s *BoltStore) Set(ctx context.Context, filePath string, offset uint64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, offset)
		return b.Put([]byte(filePath), val)
	})
	if err != nil {
		return fmt.Errorf("failed to set offset: %w", err)
	}

	log.Debug().
		Str("file_path", filePath).
		Uint64("offset", offset).
		Msg("Offset updated")

	return nil
}

// Delete removes the offset for a file.
func (s *BoltStore) Delete(ctx context.Context, filePath string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(filePath))
	})
	if err != nil {
		return fmt.Errorf("failed to delete offset: %w", err)
	}
	return nil
}

// List returns all stored offsets.
func (s *BoltStore) List(ctx context.Context) (map[string]uint64, error) {
	result := make(map[string]uint64)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			if len(v) >= 8 {
				result[string(k)] = binary.BigEndian.Uint64(v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list offsets: %w", err)
	}

	return result, nil
}

// Close closes the BoltDB database.
func (s *BoltStore) Close() error {
	log.Info().Msg("Closing BoltDB offset store")
	return s.db.Close()
}
