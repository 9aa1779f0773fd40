package minidb

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/minidb/internal/codec"
	"github.com/roach88/minidb/internal/testutil"
)

const settle = 2 * time.Second

func newTestArena() *Arena {
	return NewArena(WithLogger(testutil.DiscardLogger()))
}

func testConfig(dir, name string) Config {
	return Config{
		Name:         name,
		Dir:          dir,
		Logger:       testutil.DiscardLogger(),
		PollInterval: 10 * time.Millisecond,
	}
}

// openDB opens cfg in a and closes the DB when the test ends.
func openDB(t *testing.T, a *Arena, cfg Config) *DB {
	t.Helper()
	db, err := a.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// ready opens cfg and waits for initialization to succeed.
func ready(t *testing.T, a *Arena, cfg Config) *DB {
	t.Helper()
	db := openDB(t, a, cfg)
	require.NoError(t, db.Ready(context.Background()))
	return db
}

// appendStep returns a migration that appends suffix to string values and
// counts its calls.
func appendStep(suffix string, calls *atomic.Int32) MigrationFunc {
	return func(_ context.Context, value any) (any, error) {
		if calls != nil {
			calls.Add(1)
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s + suffix, nil
	}
}

// failStep fails the test if a migration runs.
func failStep(t *testing.T, version int) MigrationFunc {
	return func(context.Context, any) (any, error) {
		t.Errorf("migration %d must not run", version)
		return nil, fmt.Errorf("unexpected migration %d", version)
	}
}

// eventuallyAll waits until db's contents equal want.
func eventuallyAll(t *testing.T, db *DB, want map[string]any) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := db.GetAll(context.Background())
		if err != nil {
			return false
		}
		return fmt.Sprint(got) == fmt.Sprint(want)
	}, settle, 5*time.Millisecond, "db %s never reached %v", db.Name(), want)
}

// storedItems reads db's durable contents, bypassing its cache.
func storedItems(t *testing.T, db *DB) map[string]any {
	t.Helper()
	records, err := db.backend.ReadAll(context.Background())
	require.NoError(t, err)
	items := make(map[string]any, len(records))
	for _, r := range records {
		v, err := codec.Decode(r.Value)
		require.NoError(t, err)
		items[r.Key] = v
	}
	return items
}
