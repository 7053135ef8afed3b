package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/docsync/internal/ir"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testKey builds a version key whose sequence time is seq minutes after epoch.
func testKey(identity string, seq uint64) ir.VersionKey {
	return ir.VersionKey{
		Identity:     identity,
		Sequence:     seq,
		SequenceTime: epoch.Add(time.Duration(seq) * time.Minute),
	}
}
