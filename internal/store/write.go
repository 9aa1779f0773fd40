package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Put inserts or replaces the value stored under key.
func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO data (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// PutMany writes all records in one transaction.
func (s *SQLite) PutMany(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put many: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := putRecords(ctx, tx, records); err != nil {
		return fmt.Errorf("put many: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put many: commit: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM data WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Clear removes every record. The schema version is left untouched.
func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM data`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// SetVersion stores the schema version.
func (s *SQLite) SetVersion(ctx context.Context, v int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set version: begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := readVersion(ctx, tx)
	if err != nil {
		return fmt.Errorf("set version: %w", err)
	}
	if v < current {
		return fmt.Errorf("set version %d (stored %d): %w", v, current, ErrVersionRegression)
	}
	if err := writeVersion(ctx, tx, v); err != nil {
		return fmt.Errorf("set version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set version: commit: %w", err)
	}
	return nil
}

// Replace swaps the value partition and version in one transaction.
func (s *SQLite) Replace(ctx context.Context, records []Record, from, to int) error {
	if to < from {
		return fmt.Errorf("replace %d -> %d: %w", from, to, ErrVersionRegression)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace: begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := readVersion(ctx, tx)
	if err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	if current != from {
		return fmt.Errorf("replace from %d (stored %d): %w", from, current, ErrVersionConflict)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM data`); err != nil {
		return fmt.Errorf("replace: clear: %w", err)
	}
	if err := putRecords(ctx, tx, records); err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	if err := writeVersion(ctx, tx, to); err != nil {
		return fmt.Errorf("replace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace: commit: %w", err)
	}
	return nil
}

// putRecords upserts records using a prepared statement on tx.
func putRecords(ctx context.Context, tx *sql.Tx, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO data (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`)
	if err != nil {
		return fmt.Errorf("prepare put: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Key, r.Value); err != nil {
			return fmt.Errorf("put %q: %w", r.Key, err)
		}
	}
	return nil
}

func writeVersion(ctx context.Context, tx *sql.Tx, v int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, v)
	if err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return nil
}
