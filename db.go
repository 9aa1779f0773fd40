package minidb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/minidb/internal/broadcast"
	"github.com/roach88/minidb/internal/cache"
	"github.com/roach88/minidb/internal/codec"
	"github.com/roach88/minidb/internal/migrate"
	"github.com/roach88/minidb/internal/store"
)

var tracer = otel.Tracer("github.com/roach88/minidb")

// Item is one key with its value.
type Item struct {
	Key   string
	Value any
}

// Change describes a modification of a DB's cached contents.
type Change = cache.Change

// ChangeKind says what a Change did.
type ChangeKind = cache.ChangeKind

const (
	ChangeSet    = cache.ChangeSet
	ChangeDelete = cache.ChangeDelete
	ChangeReload = cache.ChangeReload
)

// DB is one consumer of a logical database.
//
// All methods are safe for concurrent use. Mutations are applied one at a
// time; a caller observes its own completed mutation in its next read.
// Changes made by siblings become visible once their broadcast has been
// applied.
type DB struct {
	arena  *Arena
	cfg    Config
	path   string
	seed   []store.Record
	logger *slog.Logger

	latch *latch
	cache *cache.Cache

	// mu serializes mutations and received events. backend and ch are set
	// once by load and read-only afterwards.
	mu      sync.Mutex
	backend store.Backend
	ch      *broadcast.Channel

	hookMu sync.Mutex
	hooks  map[int]func(int)
	nextID int

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// afterJoin runs between joining the scope and reading the snapshot.
	// Tests use it to publish into that window.
	afterJoin func()
}

func newDB(a *Arena, cfg Config, seed []store.Record) *DB {
	return &DB{
		arena:  a,
		cfg:    cfg,
		path:   cfg.path(),
		seed:   seed,
		logger: cfg.Logger.With("db", cfg.Name),
		latch:  newLatch(),
		cache:  cache.New(),
		hooks:  make(map[int]func(int)),
	}
}

// Name returns the normalized database name.
func (d *DB) Name() string {
	return d.cfg.Name
}

// Path returns the database file.
func (d *DB) Path() string {
	return d.path
}

// Ready initializes the DB if no operation did so yet and waits until
// initialization settled. If ctx ends first only the wait is abandoned.
func (d *DB) Ready(ctx context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.latch.trigger(ctx, d.load)
	return d.latch.wait(ctx)
}

// load opens the backend, migrates, joins the broadcast scope and fills
// the cache.
func (d *DB) load(ctx context.Context) (err error) {
	ctx, span := d.startSpan(ctx, "load", attribute.Int("minidb.version", d.cfg.Version))
	defer func() { endSpan(span, err) }()

	b, err := d.arena.acquire(ctx, d.cfg.Driver, d.path, d.seed)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.cfg.Name, err)
	}

	res, err := migrate.Run(ctx, b, d.plan())
	if err != nil {
		d.releaseBackend()
		return err
	}

	var log store.EventLog
	if l, ok := b.(store.EventLog); ok {
		log = l
	}
	ch, err := d.arena.hub.Join(ctx, d.path, log, broadcast.PollEvery(d.cfg.PollInterval))
	if err != nil {
		d.releaseBackend()
		return fmt.Errorf("open %s: %w", d.cfg.Name, err)
	}

	if res.Migrated {
		if err := ch.Publish(ctx, broadcast.MigrationCompleted(res.To)); err != nil {
			d.logger.Error("failed to announce migration", "version", res.To, "error", err)
		}
	}

	if d.afterJoin != nil {
		d.afterJoin()
	}

	// Siblings' events queue on ch until Listen, so nothing written after
	// this snapshot is lost
	items, err := readItems(ctx, b)
	if err != nil {
		ch.Close()
		d.releaseBackend()
		return fmt.Errorf("open %s: %w", d.cfg.Name, err)
	}

	d.mu.Lock()
	d.backend = b
	d.ch = ch
	d.cache.Replace(items)
	d.mu.Unlock()

	ch.Listen(d.receive)

	d.logger.Info("database ready",
		"path", d.path,
		"version", res.To,
		"migrated", res.Migrated,
		"items", len(items),
	)
	return nil
}

func (d *DB) plan() migrate.Plan {
	steps := make(map[int]migrate.Func, len(d.cfg.Migrations))
	for v, fn := range d.cfg.Migrations {
		steps[v] = migrate.Func(fn)
	}
	return migrate.Plan{
		Target:     d.cfg.Version,
		Steps:      steps,
		OnMismatch: d.cfg.OnVersionMismatch,
		Logger:     d.logger,
	}
}

func (d *DB) releaseBackend() {
	if err := d.arena.release(d.path); err != nil {
		d.logger.Warn("failed to release backend", "error", err)
	}
}

func readItems(ctx context.Context, b store.Backend) (map[string]json.RawMessage, error) {
	records, err := b.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	items := make(map[string]json.RawMessage, len(records))
	for _, r := range records {
		items[r.Key] = r.Value
	}
	return items, nil
}

// GetAll returns a copy of every item.
func (d *DB) GetAll(ctx context.Context) (map[string]any, error) {
	if err := d.Ready(ctx); err != nil {
		return nil, err
	}
	return d.cache.All()
}

// Get returns a copy of the value stored under key.
func (d *DB) Get(ctx context.Context, key string) (any, bool, error) {
	if err := d.Ready(ctx); err != nil {
		return nil, false, err
	}
	return d.cache.Get(key)
}

// Keys returns every key in ascending order.
func (d *DB) Keys(ctx context.Context) ([]string, error) {
	if err := d.Ready(ctx); err != nil {
		return nil, err
	}
	return d.cache.Keys()
}

// Entries returns every item ordered by key.
func (d *DB) Entries(ctx context.Context) ([]Item, error) {
	all, err := d.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return sortedItems(all), nil
}

// Cached returns the cached items without waiting for initialization.
// It returns ErrNotReady until the first load completed.
func (d *DB) Cached() (map[string]any, error) {
	all, err := d.cache.All()
	if errors.Is(err, cache.ErrNotPopulated) {
		return nil, ErrNotReady
	}
	return all, err
}

// Version returns the persisted schema version.
func (d *DB) Version(ctx context.Context) (int, error) {
	if err := d.Ready(ctx); err != nil {
		return 0, err
	}
	return d.backend.Version(ctx)
}

// Set stores value under key.
func (d *DB) Set(ctx context.Context, key string, value any) (err error) {
	ctx, span := d.startSpan(ctx, "set", attribute.String("minidb.key", key))
	defer func() { endSpan(span, err) }()

	data, err := codec.Encode(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return d.mutate(ctx, func() error {
		return d.put(ctx, key, data)
	})
}

// Update replaces the value under key with fn's result. fn receives a
// copy of the current value and whether the key exists. It runs while
// other mutations of this DB wait, so it must not call back into the DB.
func (d *DB) Update(ctx context.Context, key string, fn func(old any, ok bool) (any, error)) (err error) {
	ctx, span := d.startSpan(ctx, "update", attribute.String("minidb.key", key))
	defer func() { endSpan(span, err) }()

	return d.mutate(ctx, func() error {
		old, ok, err := d.cache.Get(key)
		if err != nil {
			return fmt.Errorf("update %q: %w", key, err)
		}
		value, err := fn(old, ok)
		if err != nil {
			return fmt.Errorf("update %q: %w", key, err)
		}
		data, err := codec.Encode(value)
		if err != nil {
			return fmt.Errorf("update %q: %w", key, err)
		}
		return d.put(ctx, key, data)
	})
}

// put persists, caches and announces one value. Callers hold d.mu.
func (d *DB) put(ctx context.Context, key string, data []byte) error {
	if err := d.backend.Put(ctx, key, data); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	d.cache.Put(key, data)
	d.publish(ctx, broadcast.Update(key, data))
	return nil
}

// SetMany stores items in one batch.
func (d *DB) SetMany(ctx context.Context, items []Item) (err error) {
	ctx, span := d.startSpan(ctx, "set_many", attribute.Int("minidb.items", len(items)))
	defer func() { endSpan(span, err) }()

	records := make([]store.Record, len(items))
	encoded := make(map[string]json.RawMessage, len(items))
	for i, it := range items {
		data, err := codec.Encode(it.Value)
		if err != nil {
			return fmt.Errorf("set many %q: %w", it.Key, err)
		}
		records[i] = store.Record{Key: it.Key, Value: data}
		encoded[it.Key] = data
	}

	return d.mutate(ctx, func() error {
		if err := d.backend.PutMany(ctx, records); err != nil {
			return fmt.Errorf("set many: %w", err)
		}
		d.cache.PutMany(encoded)
		d.publish(ctx, broadcast.UpdateMany())
		return nil
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (d *DB) Delete(ctx context.Context, key string) (err error) {
	ctx, span := d.startSpan(ctx, "delete", attribute.String("minidb.key", key))
	defer func() { endSpan(span, err) }()

	return d.mutate(ctx, func() error {
		if err := d.backend.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
		d.cache.Delete(key)
		d.publish(ctx, broadcast.Delete(key))
		return nil
	})
}

// Clear removes every item. The schema version is kept.
func (d *DB) Clear(ctx context.Context) (err error) {
	ctx, span := d.startSpan(ctx, "clear")
	defer func() { endSpan(span, err) }()

	return d.mutate(ctx, func() error {
		if err := d.backend.Clear(ctx); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		d.cache.Replace(nil)
		d.publish(ctx, broadcast.UpdateMany())
		return nil
	})
}

// mutate waits for readiness and runs fn under the mutation lock.
func (d *DB) mutate(ctx context.Context, fn func() error) error {
	if err := d.Ready(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return ErrClosed
	}
	return fn()
}

// publish announces a completed mutation. The mutation is durable at this
// point, so a failed announcement is only logged.
func (d *DB) publish(ctx context.Context, ev broadcast.Event) {
	if err := d.ch.Publish(ctx, ev); err != nil {
		d.logger.Error("failed to broadcast change",
			"kind", ev.Kind,
			"key", ev.Key,
			"error", err,
		)
	}
}

// receive applies a sibling's event to the cache.
func (d *DB) receive(ctx context.Context, ev broadcast.Event) error {
	if ev.Kind == broadcast.KindMigrationCompleted {
		d.migrated(ev.Version)
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Kind {
	case broadcast.KindUpdate, broadcast.KindDelete:
		// Siblings persist and announce independently, so events for one
		// key can arrive in another order than their writes hit the store.
		// The store decides.
		if err := d.refresh(ctx, ev.Key); err != nil {
			return fmt.Errorf("%s %q: %w", ev.Kind, ev.Key, err)
		}
	case broadcast.KindUpdateMany:
		items, err := readItems(ctx, d.backend)
		if err != nil {
			return fmt.Errorf("reload: %w", err)
		}
		d.cache.Replace(items)
	}

	d.logger.Debug("applied change", "kind", ev.Kind, "key", ev.Key, "origin", ev.Origin)
	return nil
}

// refresh copies the stored value of key into the cache. Callers hold d.mu.
func (d *DB) refresh(ctx context.Context, key string) error {
	data, ok, err := d.backend.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		d.cache.Delete(key)
		return nil
	}
	d.cache.Put(key, data)
	return nil
}

// Subscribe calls fn after every change of the cached contents, local or
// received. fn must not mutate the DB. The returned function unsubscribes.
func (d *DB) Subscribe(fn func(Change)) (cancel func()) {
	return d.cache.Subscribe(fn)
}

// OnMigrated calls fn when a sibling reports that it migrated the
// database. The returned function unsubscribes.
func (d *DB) OnMigrated(fn func(version int)) (cancel func()) {
	d.hookMu.Lock()
	id := d.nextID
	d.nextID++
	d.hooks[id] = fn
	d.hookMu.Unlock()

	return func() {
		d.hookMu.Lock()
		delete(d.hooks, id)
		d.hookMu.Unlock()
	}
}

func (d *DB) migrated(version int) {
	d.logger.Info("sibling migrated database", "version", version)

	if d.cfg.OnMigrationCompleted != nil {
		d.cfg.OnMigrationCompleted(version)
	}

	d.hookMu.Lock()
	ids := make([]int, 0, len(d.hooks))
	for id := range d.hooks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(int), len(ids))
	for i, id := range ids {
		fns[i] = d.hooks[id]
	}
	d.hookMu.Unlock()

	for _, fn := range fns {
		fn(version)
	}
}

// Close leaves the broadcast scope and releases the backend. It waits for
// an initialization in progress. Safe to call more than once.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		if d.latch.fail(ErrClosed) {
			return
		}
		<-d.latch.done
		if d.latch.current() != stateReady {
			return
		}

		// The dispatcher takes d.mu, so stop it first
		d.ch.Close()

		d.mu.Lock()
		defer d.mu.Unlock()
		d.closeErr = d.arena.release(d.path)
	})
	return d.closeErr
}

func (d *DB) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("minidb.name", d.cfg.Name))
	return tracer.Start(ctx, "minidb."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func sortedItems(all map[string]any) []Item {
	items := make([]Item, 0, len(all))
	for k, v := range all {
		items = append(items, Item{Key: k, Value: v})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items
}
