// Package cache holds the in-memory mirror of a logical database.
//
// Values are kept in their encoded form; every read decodes a fresh copy.
// A Cache starts unpopulated and becomes populated on the first Replace.
package cache

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/roach88/minidb/internal/codec"
)

// ErrNotPopulated is returned by reads before the first Replace.
var ErrNotPopulated = errors.New("cache not populated")

// ChangeKind says what happened to the cache.
type ChangeKind int

const (
	// ChangeSet means one key was written.
	ChangeSet ChangeKind = iota + 1
	// ChangeDelete means one key was removed.
	ChangeDelete
	// ChangeReload means the contents were replaced wholesale.
	ChangeReload
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeSet:
		return "set"
	case ChangeDelete:
		return "delete"
	case ChangeReload:
		return "reload"
	default:
		return "unknown"
	}
}

// Change is delivered to listeners after the cache was modified.
// Key is empty for ChangeReload.
type Change struct {
	Kind ChangeKind
	Key  string
}

// Cache is safe for concurrent use. Listeners are called synchronously,
// outside the cache lock, in registration order.
type Cache struct {
	mu        sync.RWMutex
	items     map[string]json.RawMessage
	populated bool

	lmu       sync.Mutex
	listeners map[int]func(Change)
	nextID    int
}

// New creates an unpopulated cache.
func New() *Cache {
	return &Cache{listeners: make(map[int]func(Change))}
}

// Populated reports whether the cache holds a snapshot.
func (c *Cache) Populated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.populated
}

// Replace swaps the whole contents and marks the cache populated.
func (c *Cache) Replace(items map[string]json.RawMessage) {
	cp := make(map[string]json.RawMessage, len(items))
	for k, v := range items {
		cp[k] = v
	}

	c.mu.Lock()
	c.items = cp
	c.populated = true
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeReload})
}

// Put stores the encoded value for key.
func (c *Cache) Put(key string, value json.RawMessage) {
	c.mu.Lock()
	if c.items == nil {
		c.items = make(map[string]json.RawMessage)
	}
	c.items[key] = value
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeSet, Key: key})
}

// PutMany stores several encoded values and notifies once with a reload.
func (c *Cache) PutMany(items map[string]json.RawMessage) {
	c.mu.Lock()
	if c.items == nil {
		c.items = make(map[string]json.RawMessage, len(items))
	}
	for k, v := range items {
		c.items[k] = v
	}
	c.mu.Unlock()

	c.notify(Change{Kind: ChangeReload})
}

// Delete removes key. Listeners are only notified if the key existed.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	_, ok := c.items[key]
	delete(c.items, key)
	c.mu.Unlock()

	if ok {
		c.notify(Change{Kind: ChangeDelete, Key: key})
	}
}

// Raw returns the encoded value for key.
func (c *Cache) Raw(key string) (json.RawMessage, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.populated {
		return nil, false, ErrNotPopulated
	}
	v, ok := c.items[key]
	return v, ok, nil
}

// Get returns a decoded copy of the value for key.
func (c *Cache) Get(key string) (any, bool, error) {
	raw, ok, err := c.Raw(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := codec.Decode(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// All returns decoded copies of every value.
func (c *Cache) All() (map[string]any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.populated {
		return nil, ErrNotPopulated
	}

	out := make(map[string]any, len(c.items))
	for k, raw := range c.items {
		v, err := codec.Decode(raw)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Keys returns all keys in ascending order.
func (c *Cache) Keys() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.populated {
		return nil, ErrNotPopulated
	}

	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of cached items.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (c *Cache) Subscribe(fn func(Change)) (cancel func()) {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	return func() {
		c.lmu.Lock()
		delete(c.listeners, id)
		c.lmu.Unlock()
	}
}

func (c *Cache) notify(ch Change) {
	c.lmu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.lmu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}
