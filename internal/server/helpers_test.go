package server

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"plexguard/internal/store"
)

func migrationsDir() string {
	_, f, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(f), "..", "..", "migrations")
}

// newEmptyStore returns a migrated in-memory store with no rows in it.
func newEmptyStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	dir := migrationsDir()
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("migrations dir not found: %v", err)
	}
	if err := s.Migrate(dir); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return s
}
