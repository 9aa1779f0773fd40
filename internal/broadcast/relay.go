package broadcast

import (
	"context"
	"time"

	"github.com/roach88/minidb/internal/store"
)

const (
	// relayBatch bounds how many events one poll reads.
	relayBatch = 256
	// pruneEvery is the number of polls between prunes.
	pruneEvery = 64
)

// relay copies events appended by other hubs from an event log into the
// local channels of one scope.
type relay struct {
	hub      *Hub
	scope    string
	log      store.EventLog
	cursor   int64
	interval time.Duration

	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}
}

func newRelay(h *Hub, scope string, log store.EventLog, cursor int64, interval time.Duration) *relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &relay{
		hub:      h,
		scope:    scope,
		log:      log,
		cursor:   cursor,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (r *relay) start() {
	go r.run()
}

func (r *relay) stop() {
	r.cancel()
	<-r.done
}

func (r *relay) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		if err := r.poll(r.ctx); err != nil {
			if r.ctx.Err() != nil {
				return
			}
			r.hub.logger.Warn("event log poll failed",
				"scope", r.scope,
				"cursor", r.cursor,
				"error", err,
			)
			continue
		}

		if polls%pruneEvery == 0 {
			r.prune(r.ctx)
		}
	}
}

// poll delivers every event after the cursor that another hub wrote.
func (r *relay) poll(ctx context.Context) error {
	for {
		events, err := r.log.EventsAfter(ctx, r.cursor, relayBatch)
		if err != nil {
			return err
		}
		for _, rec := range events {
			r.cursor = rec.Seq
			if rec.Process == r.hub.id {
				continue // already delivered in-process
			}
			r.hub.deliver(r.scope, eventFromRecord(rec), "")
		}
		if len(events) < relayBatch {
			return nil
		}
	}
}

func (r *relay) prune(ctx context.Context) {
	before := r.cursor - r.hub.retention
	if before <= 0 {
		return
	}
	n, err := r.log.PruneEvents(ctx, before)
	if err != nil {
		r.hub.logger.Warn("event log prune failed", "scope", r.scope, "error", err)
		return
	}
	if n > 0 {
		r.hub.logger.Debug("event log pruned", "scope", r.scope, "removed", n)
	}
}
