package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/auditcore/internal/data"
)

// createTestStore opens a fresh store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustDomain(t *testing.T, name string) *data.Record {
	t.Helper()
	d, err := data.NewDomain(name)
	if err != nil {
		t.Fatalf("NewDomain(%q) failed: %v", name, err)
	}
	return d
}

func mustURL(t *testing.T, raw string) *data.Record {
	t.Helper()
	u, err := data.NewURL(raw)
	if err != nil {
		t.Fatalf("NewURL(%q) failed: %v", raw, err)
	}
	return u
}
