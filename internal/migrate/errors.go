package migrate

import (
	"errors"
	"fmt"
)

// Error represents a failed migration pass.
//
// Migration errors include:
//   - Missing migration: no step registered for a required version
//   - Version mismatch: stored data is newer than the running code
//   - Migration failed: a step returned an error or produced an
//     unencodable value
//
// All three leave the stored version and data untouched.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Version is the step that was missing or failed, or the target
	// version for mismatches.
	Version int

	// Stored is the schema version found in the store.
	Stored int

	// Key identifies the item a failed step was applied to.
	Key string

	// Err is the underlying cause, if any.
	Err error
}

// Code categorizes migration errors.
type Code string

const (
	// CodeMissingMigration indicates no step is registered for a version
	// between the stored and target versions.
	CodeMissingMigration Code = "MISSING_MIGRATION"

	// CodeVersionMismatch indicates the target version is lower than the
	// stored version.
	CodeVersionMismatch Code = "VERSION_MISMATCH"

	// CodeMigrationFailed indicates a step returned an error.
	CodeMigrationFailed Code = "MIGRATION_FAILED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != "" {
		msg += fmt.Sprintf(" (key=%s)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsVersionMismatch reports whether err is a version mismatch.
// Uses errors.As to handle wrapped errors.
func IsVersionMismatch(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == CodeVersionMismatch
	}
	return false
}

// IsMissingMigration reports whether err is a missing migration error.
func IsMissingMigration(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == CodeMissingMigration
	}
	return false
}

// NewMissingError creates an Error for an unregistered step.
func NewMissingError(version, stored int) *Error {
	return &Error{
		Code:    CodeMissingMigration,
		Message: fmt.Sprintf("no migration registered for version %d", version),
		Version: version,
		Stored:  stored,
	}
}

// NewMismatchError creates an Error for a target older than the store.
func NewMismatchError(target, stored int) *Error {
	return &Error{
		Code:    CodeVersionMismatch,
		Message: fmt.Sprintf("client version is too old: target %d, stored %d", target, stored),
		Version: target,
		Stored:  stored,
	}
}

// NewStepError creates an Error for a step that failed on key.
func NewStepError(version, stored int, key string, err error) *Error {
	return &Error{
		Code:    CodeMigrationFailed,
		Message: fmt.Sprintf("migration to version %d failed", version),
		Version: version,
		Stored:  stored,
		Key:     key,
		Err:     err,
	}
}
