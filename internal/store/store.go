package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

var (
	// ErrVersionConflict is returned by Replace when the stored version no
	// longer matches the version the caller migrated from.
	ErrVersionConflict = errors.New("schema version changed concurrently")

	// ErrVersionRegression is returned when a write would lower the stored
	// schema version.
	ErrVersionRegression = errors.New("schema version cannot decrease")

	// ErrUnknownDriver is returned by Open for unsupported drivers.
	ErrUnknownDriver = errors.New("unknown driver")
)

// Record is one stored item. Value holds the encoded payload.
type Record struct {
	Key   string
	Value []byte
}

// Backend is the durable key-value namespace of one logical database.
// Every method is atomic on its own; PutMany and Replace run in a single
// transaction.
type Backend interface {
	// ReadAll returns every record ordered by key.
	ReadAll(ctx context.Context) ([]Record, error)
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	PutMany(ctx context.Context, records []Record) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error

	// Version returns the stored schema version, 0 when none was written.
	Version(ctx context.Context) (int, error)
	// SetVersion stores v. Returns ErrVersionRegression if v is lower than
	// the stored version.
	SetVersion(ctx context.Context, v int) error
	// Replace swaps the whole value partition for records and sets the
	// version to to, provided the stored version still equals from.
	Replace(ctx context.Context, records []Record, from, to int) error

	Close() error
}

// EventRecord is one row of the cross-process event log.
type EventRecord struct {
	Seq     int64
	Process string
	Origin  string
	Kind    string
	Key     string
	Value   []byte
	Version int
}

// EventLog is implemented by backends that can carry change notifications
// between processes sharing the same database file.
type EventLog interface {
	AppendEvent(ctx context.Context, ev EventRecord) (int64, error)
	// EventsAfter returns up to limit events with seq > after, ordered by seq.
	EventsAfter(ctx context.Context, after int64, limit int) ([]EventRecord, error)
	LastEventSeq(ctx context.Context) (int64, error)
	// PruneEvents deletes events with seq < before.
	PruneEvents(ctx context.Context, before int64) (int64, error)
}

// Path returns the file used for the logical database name in dir.
func Path(dir, name, driver string) string {
	ext := ".db"
	if driver == DriverBolt {
		ext = ".bolt"
	}
	return filepath.Join(dir, name+ext)
}

// Open opens (creating if needed) the backend for driver at path. Seed
// records are written only if this call creates the namespace.
func Open(ctx context.Context, driver, path string, seed []Record) (Backend, error) {
	switch driver {
	case "", DriverSQLite:
		return OpenSQLite(ctx, path, seed)
	case DriverBolt:
		return OpenBolt(ctx, path, seed)
	default:
		return nil, fmt.Errorf("open %s: %w: %q", path, ErrUnknownDriver, driver)
	}
}
