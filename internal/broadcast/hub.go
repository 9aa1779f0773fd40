package broadcast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/minidb/internal/store"
)

// Defaults for cross-process relaying.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultRetention    = 1024
)

// Hub groups channels by scope. The zero value is not usable; call NewHub.
//
// Thread-safety: all methods are safe for concurrent use.
type Hub struct {
	id           string
	ids          IDGenerator
	logger       *slog.Logger
	pollInterval time.Duration
	retention    int64

	mu     sync.Mutex
	scopes map[string]*scope
}

// scope is the set of channels sharing one logical database.
type scope struct {
	name      string
	channels  map[string]*Channel
	relay     *relay
	relayRefs int
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithIDGenerator sets the source of hub and channel IDs.
func WithIDGenerator(g IDGenerator) HubOption {
	return func(h *Hub) {
		if g != nil {
			h.ids = g
		}
	}
}

// WithPollInterval sets how often relays poll the event log.
func WithPollInterval(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithRetention sets how many recent events relays keep in the log.
func WithRetention(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.retention = int64(n)
		}
	}
}

// NewHub creates a hub with a fresh process ID.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		ids:          UUIDv7Generator{},
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		pollInterval: DefaultPollInterval,
		retention:    DefaultRetention,
		scopes:       make(map[string]*scope),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.id = h.ids.Generate()
	return h
}

// ID returns the hub's process ID, stamped on every event it publishes.
func (h *Hub) ID() string {
	return h.id
}

// JoinOption configures a single Join.
type JoinOption func(*joinConfig)

type joinConfig struct {
	pollInterval time.Duration
}

// PollEvery overrides the hub's poll interval for the relay started by this
// join. It has no effect if the scope is already relayed.
func PollEvery(d time.Duration) JoinOption {
	return func(c *joinConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// Join adds a new channel to scope. If log is non-nil, events published on
// the channel are also appended to it and events appended by other hubs
// are relayed to every channel of the scope.
func (h *Hub) Join(ctx context.Context, name string, log store.EventLog, opts ...JoinOption) (*Channel, error) {
	cfg := joinConfig{pollInterval: h.pollInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	ch := &Channel{
		hub:   h,
		scope: name,
		id:    h.ids.Generate(),
		log:   log,
		queue: newEventQueue(),
	}

	var cursor int64
	if log != nil {
		// Read the cursor before joining so nothing appended after this
		// point is missed
		var err error
		cursor, err = log.LastEventSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("join %s: %w", name, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.scopes[name]
	if !ok {
		s = &scope{name: name, channels: make(map[string]*Channel)}
		h.scopes[name] = s
	}
	s.channels[ch.id] = ch

	if log != nil {
		if s.relay == nil {
			s.relay = newRelay(h, name, log, cursor, cfg.pollInterval)
			s.relay.start()
		}
		s.relayRefs++
	}

	return ch, nil
}

// Members returns the number of channels in scope.
func (h *Hub) Members(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.scopes[name]; ok {
		return len(s.channels)
	}
	return 0
}

// deliver enqueues ev on every channel of scope except the one with ID
// except.
func (h *Hub) deliver(name string, ev Event, except string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.scopes[name]
	if !ok {
		return
	}
	for id, ch := range s.channels {
		if id == except {
			continue
		}
		if !ch.queue.Enqueue(ev) {
			h.logger.Debug("dropping event for closed channel",
				"scope", name,
				"channel", id,
				"kind", ev.Kind,
			)
		}
	}
}

// leave removes ch from its scope. The scope's relay is stopped when the
// last channel with a log leaves.
func (h *Hub) leave(ch *Channel) {
	var stop *relay

	h.mu.Lock()
	if s, ok := h.scopes[ch.scope]; ok {
		delete(s.channels, ch.id)
		if ch.log != nil {
			s.relayRefs--
			if s.relayRefs == 0 {
				stop, s.relay = s.relay, nil
			}
		}
		if len(s.channels) == 0 && s.relay == nil {
			delete(h.scopes, ch.scope)
		}
	}
	h.mu.Unlock()

	// Outside the lock: the relay's poll loop takes h.mu to deliver
	if stop != nil {
		stop.stop()
	}
}
