package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/minidb/internal/store"
	"github.com/roach88/minidb/internal/testutil"
)

// collector records handled events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) kinds() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Kind, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Kind
	}
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func join(t *testing.T, h *Hub, name string, log store.EventLog) *Channel {
	t.Helper()
	ch, err := h.Join(context.Background(), name, log)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestPublish_DeliversToSiblingsOnly(t *testing.T) {
	ctx := context.Background()
	h := NewHub()

	a := join(t, h, "shop", nil)
	b := join(t, h, "shop", nil)
	other := join(t, h, "other", nil)

	var gotA, gotB, gotOther collector
	a.Listen(gotA.handle)
	b.Listen(gotB.handle)
	other.Listen(gotOther.handle)

	require.NoError(t, a.Publish(ctx, Update("k", json.RawMessage(`"v"`))))

	require.Eventually(t, func() bool { return gotB.len() == 1 }, time.Second, 5*time.Millisecond)

	// Give a stray loopback a chance to show up before asserting its absence
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, gotA.len(), "publisher must not receive its own event")
	assert.Equal(t, 0, gotOther.len(), "other scopes are isolated")

	gotB.mu.Lock()
	ev := gotB.events[0]
	gotB.mu.Unlock()
	assert.Equal(t, KindUpdate, ev.Kind)
	assert.Equal(t, "k", ev.Key)
	assert.Equal(t, a.ID(), ev.Origin)
	assert.Equal(t, h.ID(), ev.Process)
}

func TestChannel_QueuesUntilListen(t *testing.T) {
	ctx := context.Background()
	h := NewHub()
	pub := join(t, h, "db", nil)
	sub := join(t, h, "db", nil)

	require.NoError(t, pub.Publish(ctx, Update("a", json.RawMessage(`1`))))
	require.NoError(t, pub.Publish(ctx, Delete("a")))
	require.NoError(t, pub.Publish(ctx, UpdateMany()))
	assert.Equal(t, 3, sub.Pending())

	var got collector
	sub.Listen(got.handle)

	require.Eventually(t, func() bool { return got.len() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Kind{KindUpdate, KindDelete, KindUpdateMany}, got.kinds())
}

func TestChannel_HandlerFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	h := NewHub()
	pub := join(t, h, "db", nil)
	sub := join(t, h, "db", nil)

	var mu sync.Mutex
	var handled []string
	sub.Listen(func(_ context.Context, ev Event) error {
		mu.Lock()
		handled = append(handled, ev.Key)
		mu.Unlock()
		switch ev.Key {
		case "err":
			return errors.New("boom")
		case "panic":
			panic("boom")
		}
		return nil
	})

	require.NoError(t, pub.Publish(ctx, Delete("err")))
	require.NoError(t, pub.Publish(ctx, Delete("panic")))
	require.NoError(t, pub.Publish(ctx, Delete("ok")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"err", "panic", "ok"}, handled)
}

func TestPublish_RejectsMalformedEvent(t *testing.T) {
	h := NewHub()
	ch := join(t, h, "db", nil)

	assert.Error(t, ch.Publish(context.Background(), Event{Kind: KindUpdate}))
	assert.Error(t, ch.Publish(context.Background(), Event{Kind: "bogus"}))
}

func TestChannel_CloseLeavesScope(t *testing.T) {
	h := NewHub()
	a, err := h.Join(context.Background(), "db", nil)
	require.NoError(t, err)
	b := join(t, h, "db", nil)

	var got collector
	a.Listen(got.handle)
	assert.Equal(t, 2, h.Members("db"))

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, h.Members("db"))

	require.NoError(t, b.Publish(context.Background(), UpdateMany()))
	assert.Error(t, a.Publish(context.Background(), UpdateMany()))
	assert.Equal(t, 0, got.len())
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		wantErr bool
	}{
		{"update", Update("k", json.RawMessage(`1`)), false},
		{"update without key", Event{Kind: KindUpdate, Value: json.RawMessage(`1`)}, true},
		{"update without value", Event{Kind: KindUpdate, Key: "k"}, true},
		{"delete", Delete("k"), false},
		{"delete without key", Event{Kind: KindDelete}, true},
		{"update many", UpdateMany(), false},
		{"migration", MigrationCompleted(2), false},
		{"unknown", Event{Kind: "nope"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// Cross-process delivery through the SQLite event log

func openLog(t *testing.T, path string) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRelay_DeliversAcrossHubs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shop.db")

	// Two hubs over two handles of one file behave like two processes
	h1 := NewHub(WithPollInterval(5 * time.Millisecond))
	h2 := NewHub(WithPollInterval(5 * time.Millisecond))
	log1 := openLog(t, path)
	log2 := openLog(t, path)

	pub := join(t, h1, path, log1)
	local := join(t, h1, path, log1)
	remote := join(t, h2, path, log2)

	var gotLocal, gotRemote collector
	local.Listen(gotLocal.handle)
	remote.Listen(gotRemote.handle)

	require.NoError(t, pub.Publish(ctx, Update("item-1", json.RawMessage(`"Widget"`))))
	require.NoError(t, pub.Publish(ctx, MigrationCompleted(3)))

	require.Eventually(t, func() bool { return gotRemote.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []Kind{KindUpdate, KindMigrationCompleted}, gotRemote.kinds())

	gotRemote.mu.Lock()
	assert.Equal(t, `"Widget"`, string(gotRemote.events[0].Value))
	assert.Equal(t, 3, gotRemote.events[1].Version)
	assert.Equal(t, h1.ID(), gotRemote.events[0].Process)
	gotRemote.mu.Unlock()

	// The local sibling got each event once, not again through the log
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, gotLocal.len())
}

func TestRelay_IgnoresEventsBeforeJoin(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shop.db")

	h1 := NewHub(WithPollInterval(5 * time.Millisecond))
	log1 := openLog(t, path)
	pub := join(t, h1, path, log1)
	require.NoError(t, pub.Publish(ctx, Delete("old")))

	h2 := NewHub(WithPollInterval(5 * time.Millisecond))
	sub := join(t, h2, path, openLog(t, path))
	var got collector
	sub.Listen(got.handle)

	require.NoError(t, pub.Publish(ctx, Delete("new")))

	require.Eventually(t, func() bool { return got.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	require.Len(t, got.events, 1)
	assert.Equal(t, "new", got.events[0].Key)
}

func TestRelay_StopsWhenLastChannelLeaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.db")
	h := NewHub(WithPollInterval(5 * time.Millisecond))
	log := openLog(t, path)

	a, err := h.Join(context.Background(), path, log)
	require.NoError(t, err)
	b, err := h.Join(context.Background(), path, log)
	require.NoError(t, err)

	h.mu.Lock()
	r := h.scopes[path].relay
	h.mu.Unlock()
	require.NotNil(t, r)

	require.NoError(t, a.Close())
	select {
	case <-r.done:
		t.Fatal("relay stopped while a channel still uses it")
	default:
	}

	require.NoError(t, b.Close())
	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("relay still running after last channel left")
	}
	assert.Equal(t, 0, h.Members(path))
}

func TestRelay_Prune(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shop.db")
	h := NewHub(WithRetention(2))
	log := openLog(t, path)

	for i := 0; i < 5; i++ {
		_, err := log.AppendEvent(ctx, store.EventRecord{Process: "p", Origin: "o", Kind: string(KindUpdateMany)})
		require.NoError(t, err)
	}

	r := newRelay(h, path, log, 0, time.Hour)
	require.NoError(t, r.poll(ctx))
	assert.Equal(t, int64(5), r.cursor)

	r.prune(ctx)
	events, err := log.EventsAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].Seq)
}

func TestPublish_StampsIDs(t *testing.T) {
	ids := testutil.NewSequenceGenerator("id")
	h := NewHub(WithIDGenerator(ids), WithLogger(testutil.DiscardLogger()))
	assert.Equal(t, "id-1", h.ID())

	pub := join(t, h, "db", nil)
	sub := join(t, h, "db", nil)
	assert.Equal(t, "id-2", pub.ID())
	assert.Equal(t, "id-3", sub.ID())

	var got collector
	sub.Listen(got.handle)
	require.NoError(t, pub.Publish(context.Background(), Delete("k")))

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, "id-2", got.events[0].Origin)
	assert.Equal(t, "id-1", got.events[0].Process)
}
