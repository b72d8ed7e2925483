package db

import (
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a migrated store in t.TempDir() and closes it when the
// test ends.
func OpenTestSQLite(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "test.sqlite"), 4)
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
