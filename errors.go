package minidb

import (
	"errors"

	"github.com/roach88/minidb/internal/migrate"
)

var (
	// ErrNotReady is returned by Cached before the first load completed.
	ErrNotReady = errors.New("minidb: not ready")

	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errors.New("minidb: closed")
)

// Error is a failed initialization caused by schema migration. It is
// returned by every operation of the DB once initialization failed.
type Error = migrate.Error

// Code categorizes an Error.
type Code = migrate.Code

const (
	CodeMissingMigration = migrate.CodeMissingMigration
	CodeVersionMismatch  = migrate.CodeVersionMismatch
	CodeMigrationFailed  = migrate.CodeMigrationFailed
)

// IsVersionMismatch reports whether err says the stored schema is newer
// than the DB's target version.
func IsVersionMismatch(err error) bool {
	return migrate.IsVersionMismatch(err)
}

// IsMissingMigration reports whether err says a migration step was not
// registered.
func IsMissingMigration(err error) bool {
	return migrate.IsMissingMigration(err)
}
