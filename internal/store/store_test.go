package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenSQLite_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpenSQLite_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(context.Background(), path, nil)
		if err != nil {
			t.Fatalf("OpenSQLite() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := OpenSQLite(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("final OpenSQLite() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"data", "meta", "events"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpenSQLite_InvalidPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "/nonexistent/dir/test.db", nil)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/tmp/app.db", "file:/tmp/app.db?_txlock=immediate"},
		{"/tmp/a?x.db", "file:/tmp/a%3Fx.db?_txlock=immediate"},
		{"/tmp/a#x.db", "file:/tmp/a%23x.db?_txlock=immediate"},
		{"/tmp/a%41.db", "file:/tmp/a%2541.db?_txlock=immediate"},
	}

	for _, tt := range tests {
		if got := sqliteDSN(tt.path); got != tt.want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestOpenSQLite_NamesWithURICharacters(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Each pair would collapse onto one file if the name leaked into the
	// URI query or fragment, or if escapes were decoded
	pairs := [][2]string{
		{"a?x.db", "a?y.db"},
		{"b#x.db", "b#y.db"},
		{"c%41.db", "cA.db"},
	}

	for _, pair := range pairs {
		first, err := OpenSQLite(ctx, filepath.Join(dir, pair[0]), nil)
		if err != nil {
			t.Fatalf("OpenSQLite(%q) failed: %v", pair[0], err)
		}
		if err := first.Put(ctx, "k", []byte(`"first"`)); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}

		second, err := OpenSQLite(ctx, filepath.Join(dir, pair[1]), nil)
		if err != nil {
			t.Fatalf("OpenSQLite(%q) failed: %v", pair[1], err)
		}
		if _, ok, err := second.Get(ctx, "k"); err != nil || ok {
			t.Errorf("%q sees data written to %q (ok=%v, err=%v)", pair[1], pair[0], ok, err)
		}

		first.Close()
		second.Close()

		for _, name := range pair {
			if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
				t.Errorf("database file %q not created: %v", name, err)
			}
		}
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "leveldb", filepath.Join(t.TempDir(), "x"), nil)
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Open() error = %v, want ErrUnknownDriver", err)
	}
}

func TestOpen_DefaultDriverIsSQLite(t *testing.T) {
	b, err := Open(context.Background(), "", filepath.Join(t.TempDir(), "x.db"), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*SQLite); !ok {
		t.Errorf("Open() returned %T, want *SQLite", b)
	}
}

func TestPath(t *testing.T) {
	if got := Path("dir", "shop", DriverSQLite); got != filepath.Join("dir", "shop.db") {
		t.Errorf("Path(sqlite) = %q", got)
	}
	if got := Path("dir", "shop", DriverBolt); got != filepath.Join("dir", "shop.bolt") {
		t.Errorf("Path(bolt) = %q", got)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &SQLite{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}

	// Second close should not panic (though may error)
	_ = s.Close()
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := createTestStore(t)
	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

// Schema tests

func TestSchema_DataTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "data")
	for _, col := range []string{"key", "value"} {
		if !contains(columns, col) {
			t.Errorf("data table missing column %q", col)
		}
	}
}

func TestSchema_EventsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "events")
	expected := []string{"seq", "process", "origin", "kind", "key", "value", "version", "created_at"}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("events table missing column %q", col)
		}
	}
}

func TestSchema_CreatedMarker(t *testing.T) {
	s := createTestStore(t)

	var created int
	if err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'created'").Scan(&created); err != nil {
		t.Fatalf("created marker missing: %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
}

// Layout migration tests

func TestMigration_LayoutVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentLayoutVersion {
		t.Errorf("user_version = %d, want %d", version, currentLayoutVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Create a layout v0 database by hand: partitions only, no events table
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("INSERT INTO meta (key, value) VALUES ('created', 1)"); err != nil {
		t.Fatalf("failed to mark created: %v", err)
	}
	if _, err := db.Exec("INSERT INTO data (key, value) VALUES ('k', '\"v\"')"); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	db.Close()

	s, err := OpenSQLite(context.Background(), path, []Record{rec("seed", `"x"`)})
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentLayoutVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentLayoutVersion)
	}

	if !contains(getTableColumns(t, s.db, "events"), "seq") {
		t.Error("events table missing after upgrade")
	}

	// Existing data survives and the seed is not applied to an existing namespace
	records, err := s.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if len(records) != 1 || records[0].Key != "k" {
		t.Errorf("records = %+v, want only k", records)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
