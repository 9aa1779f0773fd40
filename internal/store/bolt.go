package store

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	dataBucket = []byte("data")
	metaBucket = []byte("meta")

	versionKey = []byte("version")
	createdKey = []byte("created")
)

// Bolt is a Backend over a bbolt file. bbolt holds an exclusive lock on
// the file, so only one handle per file may be open at a time.
type Bolt struct {
	db *bolt.DB
}

var _ Backend = (*Bolt)(nil)

// OpenBolt opens (creating if needed) a bbolt database at path and seeds
// it if this call created the namespace.
func OpenBolt(ctx context.Context, path string, seed []Record) (*Bolt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		data, err := tx.CreateBucketIfNotExists(dataBucket)
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", dataBucket, err)
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", metaBucket, err)
		}

		if meta.Get(createdKey) != nil {
			return nil
		}
		if err := meta.Put(createdKey, []byte("1")); err != nil {
			return fmt.Errorf("mark created: %w", err)
		}
		for _, r := range seed {
			if err := data.Put([]byte(r.Key), r.Value); err != nil {
				return fmt.Errorf("seed %q: %w", r.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// ReadAll returns all records ordered by key. bbolt iterates keys in byte
// order, which matches the SQLite driver's BINARY collation.
func (b *Bolt) ReadAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := []Record{}
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).ForEach(func(k, v []byte) error {
			records = append(records, Record{Key: string(k), Value: bytes.Clone(v)})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read all: %w", err)
	}
	return records, nil
}

// Get retrieves a single value by key. The returned slice is a copy; bbolt
// values are only valid for the life of the transaction.
func (b *Bolt) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(dataBucket).Get([]byte(key)); v != nil {
			value = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, value != nil, nil
}

// Put inserts or replaces the value stored under key.
func (b *Bolt) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// PutMany writes all records in one transaction.
func (b *Bolt) PutMany(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(dataBucket)
		for _, r := range records {
			if err := data.Put([]byte(r.Key), r.Value); err != nil {
				return fmt.Errorf("put %q: %w", r.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put many: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Bolt) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Clear removes every record by recreating the data bucket.
func (b *Bolt) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		return resetData(tx)
	})
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Version returns the stored schema version, 0 if never written.
func (b *Bolt) Version(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var v int
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		v, err = boltVersion(tx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("version: %w", err)
	}
	return v, nil
}

// SetVersion stores the schema version.
func (b *Bolt) SetVersion(ctx context.Context, v int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		current, err := boltVersion(tx)
		if err != nil {
			return err
		}
		if v < current {
			return fmt.Errorf("set version %d (stored %d): %w", v, current, ErrVersionRegression)
		}
		return tx.Bucket(metaBucket).Put(versionKey, []byte(strconv.Itoa(v)))
	})
	if err != nil {
		return fmt.Errorf("set version: %w", err)
	}
	return nil
}

// Replace swaps the value partition and version in one transaction.
func (b *Bolt) Replace(ctx context.Context, records []Record, from, to int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to < from {
		return fmt.Errorf("replace %d -> %d: %w", from, to, ErrVersionRegression)
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		current, err := boltVersion(tx)
		if err != nil {
			return err
		}
		if current != from {
			return fmt.Errorf("replace from %d (stored %d): %w", from, current, ErrVersionConflict)
		}

		if err := resetData(tx); err != nil {
			return err
		}
		data := tx.Bucket(dataBucket)
		for _, r := range records {
			if err := data.Put([]byte(r.Key), r.Value); err != nil {
				return fmt.Errorf("put %q: %w", r.Key, err)
			}
		}
		return tx.Bucket(metaBucket).Put(versionKey, []byte(strconv.Itoa(to)))
	})
	if err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	return nil
}

func resetData(tx *bolt.Tx) error {
	if err := tx.DeleteBucket(dataBucket); err != nil {
		return fmt.Errorf("drop bucket %s: %w", dataBucket, err)
	}
	if _, err := tx.CreateBucket(dataBucket); err != nil {
		return fmt.Errorf("create bucket %s: %w", dataBucket, err)
	}
	return nil
}

func boltVersion(tx *bolt.Tx) (int, error) {
	raw := tx.Bucket(metaBucket).Get(versionKey)
	if raw == nil {
		return 0, nil
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", raw, err)
	}
	return v, nil
}
