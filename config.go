package minidb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/minidb/internal/codec"
	"github.com/roach88/minidb/internal/store"
)

// Defaults applied by Open.
const (
	DefaultName         = "minidb"
	DefaultDir          = "."
	DefaultPollInterval = 100 * time.Millisecond
)

// Drivers accepted in Config.Driver.
const (
	DriverSQLite = store.DriverSQLite
	DriverBolt   = store.DriverBolt
)

// MigrationFunc transforms one stored value from version v-1 to version v.
// It must not retain or share value with other items.
type MigrationFunc func(ctx context.Context, value any) (any, error)

// Config describes one logical database and how this consumer uses it.
type Config struct {
	// Name identifies the database: its file and its broadcast scope.
	Name string

	// Dir holds the database file.
	Dir string

	// Driver selects the durable backend, DriverSQLite or DriverBolt.
	// A bolt file is locked by one process at a time, so bolt databases only
	// sync between DBs of the same Arena.
	Driver string

	// Version is the schema version this code expects.
	Version int

	// Migrations maps version v to the step producing it from v-1. Every
	// version between the stored one and Version must be present.
	Migrations map[int]MigrationFunc

	// Seed is written when the database is created, never afterwards.
	Seed map[string]any

	// OnMigrationCompleted is called when a sibling reports that it
	// migrated the database.
	OnMigrationCompleted func(version int)

	// OnVersionMismatch is called when the stored schema is newer than
	// Version, before initialization fails.
	OnVersionMismatch func(stored, target int)

	Logger *slog.Logger

	// PollInterval is how often other processes' changes are picked up.
	PollInterval time.Duration
}

// normalize applies defaults and validates c.
func (c Config) normalize() (Config, error) {
	if c.Name == "" {
		c.Name = DefaultName
	}
	name, err := store.NormalizeName(c.Name)
	if err != nil {
		return c, err
	}
	c.Name = name

	if c.Dir == "" {
		c.Dir = DefaultDir
	}
	switch c.Driver {
	case "":
		c.Driver = DriverSQLite
	case DriverSQLite, DriverBolt:
	default:
		return c, fmt.Errorf("%w: %q", store.ErrUnknownDriver, c.Driver)
	}

	if c.Version < 0 {
		return c, fmt.Errorf("negative schema version %d", c.Version)
	}
	for v, fn := range c.Migrations {
		if v < 1 {
			return c, fmt.Errorf("migration for invalid version %d", v)
		}
		if fn == nil {
			return c, fmt.Errorf("nil migration for version %d", v)
		}
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c, nil
}

// path returns the backend file of c.
func (c Config) path() string {
	return store.Path(c.Dir, c.Name, c.Driver)
}

// seedRecords encodes Seed in key order.
func (c Config) seedRecords() ([]store.Record, error) {
	keys := make([]string, 0, len(c.Seed))
	for k := range c.Seed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]store.Record, 0, len(keys))
	for _, k := range keys {
		data, err := codec.Encode(c.Seed[k])
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", k, err)
		}
		records = append(records, store.Record{Key: k, Value: data})
	}
	return records, nil
}
