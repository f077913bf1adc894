package offset

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rejavarti/logging-server-sub008/internal/storage"
)

func openBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "offsets.db"))
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStoreRoundTrip(t *testing.T) {
	s := openBoltStore(t)
	ctx := context.Background()

	got, found, err := s.Get(ctx, "/var/log/app.log")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found || got != 0 {
		t.Errorf("expected no entry for unknown file, got %d found=%v", got, found)
	}

	if err := s.Set(ctx, "/var/log/app.log", 4096); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, found, err = s.Get(ctx, "/var/log/app.log")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || got != 4096 {
		t.Errorf("expected 4096 found=true, got %d found=%v", got, found)
	}

	// Overwrite.
	if err := s.Set(ctx, "/var/log/app.log", 8192); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, _, _ = s.Get(ctx, "/var/log/app.log")
	if got != 8192 {
		t.Errorf("expected 8192 after overwrite, got %d", got)
	}
}

func TestBoltStoreZeroCheckpointIsFound(t *testing.T) {
	s := openBoltStore(t)
	ctx := context.Background()

	// A truncation reset stores zero; that entry must be distinguishable
	// from a file that has never been checkpointed.
	if err := s.Set(ctx, "/app.log", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, found, err := s.Get(ctx, "/app.log")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Error("expected an explicit zero checkpoint to report found=true")
	}
	if got != 0 {
		t.Errorf("expected offset 0, got %d", got)
	}
}

func TestBoltStoreDeleteAndList(t *testing.T) {
	s := openBoltStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "/a.log", 1); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "/b.log", 2); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 || all["/a.log"] != 1 || all["/b.log"] != 2 {
		t.Errorf("unexpected listing: %v", all)
	}

	if err := s.Delete(ctx, "/a.log"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	all, _ = s.List(ctx)
	if len(all) != 1 {
		t.Errorf("expected one entry after delete, got %v", all)
	}
	_, found, _ := s.Get(ctx, "/a.log")
	if found {
		t.Error("expected no entry after delete")
	}
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.db")
	ctx := context.Background()

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	if err := s.Set(ctx, "/app.log", 123); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, found, err := reopened.Get(ctx, "/app.log")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || got != 123 {
		t.Errorf("expected persisted offset 123, got %d found=%v", got, found)
	}
}

func openMirrorFixture(t *testing.T) (*MirrorStore, *BoltStore, *storage.Store) {
	t.Helper()

	db, err := storage.Open(context.Background(), storage.Config{
		Path:   filepath.Join(t.TempDir(), "logs.db"),
		Engine: storage.EngineSQLite,
	}, nil)
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close(context.Background()) })

	bolt := openBoltStore(t)
	return NewMirrorStore(bolt, db), bolt, db
}

func TestMirrorStore(t *testing.T) {
	mirror, bolt, db := openMirrorFixture(t)
	ctx := context.Background()

	if err := mirror.Set(ctx, "/app.log", 512); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Both stores carry the checkpoint.
	got, found, _ := bolt.Get(ctx, "/app.log")
	if !found || got != 512 {
		t.Errorf("expected primary offset 512, got %d found=%v", got, found)
	}
	mirrored, mirrorFound, err := db.FileOffset(ctx, "/app.log")
	if err != nil {
		t.Fatalf("FileOffset() error = %v", err)
	}
	if !mirrorFound || mirrored != 512 {
		t.Errorf("expected mirrored offset 512, got %d found=%v", mirrored, mirrorFound)
	}

	// A missing primary entry falls back to the table.
	if err := bolt.Delete(ctx, "/app.log"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, found, err = mirror.Get(ctx, "/app.log")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || got != 512 {
		t.Errorf("expected fallback to the mirror, got %d found=%v", got, found)
	}

	if err := mirror.Delete(ctx, "/app.log"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, found, _ = mirror.Get(ctx, "/app.log")
	if found {
		t.Error("expected no entry after delete")
	}
}

func TestMirrorStorePrimaryZeroBeatsStaleMirror(t *testing.T) {
	mirror, bolt, db := openMirrorFixture(t)
	ctx := context.Background()

	// Simulate a truncation reset whose mirror write was lost: the table
	// still holds the pre-truncation offset while the primary authoritatively
	// holds zero.
	if err := db.SetFileOffset(ctx, "/app.log", 1000); err != nil {
		t.Fatalf("SetFileOffset() error = %v", err)
	}
	if err := bolt.Set(ctx, "/app.log", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, found, err := mirror.Get(ctx, "/app.log")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("expected the primary's zero checkpoint to be found")
	}
	if got != 0 {
		t.Fatalf("stale mirror offset resurrected: got %d, want 0", got)
	}
}
