package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new SQLite store in a temp dir for testing.
func createTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// backendOpener opens a backend of one driver at path.
type backendOpener func(t *testing.T, path string, seed []Record) Backend

// drivers lists every driver for conformance tests.
var drivers = map[string]backendOpener{
	DriverSQLite: func(t *testing.T, path string, seed []Record) Backend {
		t.Helper()
		s, err := OpenSQLite(context.Background(), path, seed)
		if err != nil {
			t.Fatalf("OpenSQLite() failed: %v", err)
		}
		return s
	},
	DriverBolt: func(t *testing.T, path string, seed []Record) Backend {
		t.Helper()
		b, err := OpenBolt(context.Background(), path, seed)
		if err != nil {
			t.Fatalf("OpenBolt() failed: %v", err)
		}
		return b
	},
}

// rec builds a record with a raw JSON value.
func rec(key, value string) Record {
	return Record{Key: key, Value: []byte(value)}
}
