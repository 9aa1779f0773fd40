package minidb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/minidb/internal/broadcast"
	"github.com/roach88/minidb/internal/store"
)

// Arena owns the state shared by DBs in one process: the broadcast hub
// that connects siblings and the open backend handles, shared per file.
//
// DBs opened through different Arenas behave like DBs in different
// processes.
type Arena struct {
	hub    *broadcast.Hub
	logger *slog.Logger

	mu       sync.Mutex
	backends map[string]*sharedBackend
}

type sharedBackend struct {
	backend store.Backend
	refs    int
}

// ArenaOption configures an Arena.
type ArenaOption func(*arenaConfig)

type arenaConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger for arena-wide events such as failed
// deliveries.
func WithLogger(l *slog.Logger) ArenaOption {
	return func(c *arenaConfig) {
		c.logger = l
	}
}

// NewArena creates an empty Arena.
func NewArena(opts ...ArenaOption) *Arena {
	cfg := arenaConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Arena{
		hub:      broadcast.NewHub(broadcast.WithLogger(cfg.logger)),
		logger:   cfg.logger,
		backends: make(map[string]*sharedBackend),
	}
}

var (
	defaultArenaOnce sync.Once
	defaultArena     *Arena
)

// Open returns a DB in the process-wide default Arena.
func Open(cfg Config) (*DB, error) {
	defaultArenaOnce.Do(func() {
		defaultArena = NewArena()
	})
	return defaultArena.Open(cfg)
}

// Open validates cfg and returns a DB. No I/O happens until the DB is
// first used.
func (a *Arena) Open(cfg Config) (*DB, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	seed, err := cfg.seedRecords()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
	}
	return newDB(a, cfg, seed), nil
}

// acquire returns the backend for path, opening it on first use.
func (a *Arena) acquire(ctx context.Context, driver, path string, seed []store.Record) (store.Backend, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sb, ok := a.backends[path]; ok {
		sb.refs++
		return sb.backend, nil
	}

	b, err := store.Open(ctx, driver, path, seed)
	if err != nil {
		return nil, err
	}
	a.backends[path] = &sharedBackend{backend: b, refs: 1}
	a.logger.Debug("backend opened", "path", path, "driver", driver)
	return b, nil
}

// release drops one reference to the backend for path and closes it when
// none remain.
func (a *Arena) release(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sb, ok := a.backends[path]
	if !ok {
		return errors.New("release: backend not open: " + path)
	}
	sb.refs--
	if sb.refs > 0 {
		return nil
	}
	delete(a.backends, path)
	a.logger.Debug("backend closed", "path", path)
	return sb.backend.Close()
}

// openBackends returns the number of backend handles currently open.
func (a *Arena) openBackends() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.backends)
}
