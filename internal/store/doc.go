// Package store provides the durable side of a logical database: a value
// partition keyed by arbitrary strings and a metadata partition holding the
// schema version of the stored values.
//
// Two drivers implement Backend:
//   - SQLite (default): one file per logical database, WAL mode, plus an
//     append-only event log that lets co-located processes observe each
//     other's changes
//   - Bolt: a bbolt file with "data" and "meta" buckets; the file is locked
//     by a single process, so siblings must share one handle
//
// # Namespace creation
//
// Partitions are created and, if configured, seeded inside a single write
// transaction. Seeding is guarded by a "created" marker in meta, so only the
// first open of a namespace ever writes seed data and no reader can observe
// the namespace before the seed lands.
//
// # Versions
//
// The stored schema version only moves forward. SetVersion rejects lower
// values and Replace is a compare-and-set on the version, which lets a
// migration pass detect that another process migrated first.
//
// # SQLite configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - _txlock=immediate: write transactions take the lock up front
package store
