package offset

import "context"

// Store persists per-file read offsets between process runs. Offsets are
// monotonically non-decreasing for a given path except on an explicit reset
// after detected truncation.
//
// Implementations: BoltStore (primary), MirrorStore (bolt + SQL mirror).
type Store interface {
	// Get retrieves the offset for a file. found distinguishes a stored
	// checkpoint of zero (authoritative, e.g. after a truncation reset)
	// from no entry at all.
	Get(ctx context.Context, filePath string) (offset uint64, found bool, err error)

	// Set stores the offset for a file.
	Set(ctx context.Context, filePath string, offset uint64) error

	// Delete removes the offset for a file.
	Delete(ctx context.Context, filePath string) error

	// List returns all stored offsets keyed by file path.
	List(ctx context.Context) (map[string]uint64, error)

	// Close closes the store.
	Close() error
}
