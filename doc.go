// Package minidb is a versioned key-value store with schema migrations.
//
// A DB is one consumer's view of a logical database. Several DBs opened on
// the same name (in one process through a shared Arena, or in separate
// processes sharing the SQLite file) stay in sync: every write is
// persisted, applied to the writer's in-memory cache and broadcast to its
// siblings, which patch their own caches.
//
// Opening is cheap and does no I/O. The first operation on a DB triggers a
// single initialization that opens the backend, runs any pending schema
// migrations and loads the cache; every operation waits for it to settle.
//
//	db, err := minidb.Open(minidb.Config{
//		Name:    "shop",
//		Version: 2,
//		Migrations: map[int]minidb.MigrationFunc{
//			1: addCurrency,
//			2: splitName,
//		},
//	})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	if err := db.Set(ctx, "item-1", item); err != nil {
//		return err
//	}
//
// Values are any JSON-compatible Go value. They are stored as JSON and
// every read decodes a fresh copy, so callers own what they receive.
package minidb
