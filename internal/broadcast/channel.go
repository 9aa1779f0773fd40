package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/minidb/internal/store"
)

// Handler processes one received event.
type Handler func(ctx context.Context, ev Event) error

// Channel is one consumer's membership in a scope.
//
// Received events queue up until Listen is called, so a consumer can join
// before it has loaded its initial snapshot and apply everything that
// arrived in between afterwards.
type Channel struct {
	hub   *Hub
	scope string
	id    string
	log   store.EventLog
	queue *eventQueue

	listenOnce sync.Once
	closeOnce  sync.Once
	cancel     context.CancelFunc
	done       chan struct{}
}

// ID returns the channel's origin ID.
func (c *Channel) ID() string {
	return c.id
}

// Pending returns the number of received events not yet handled.
func (c *Channel) Pending() int {
	return c.queue.Len()
}

// Publish stamps ev with this channel's origin and delivers it to every
// other channel in the scope. When the channel has an event log the event
// is also appended there for other processes; a log failure is returned
// after local delivery has happened.
func (c *Channel) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if c.queue.Closed() {
		return fmt.Errorf("publish %s: channel closed", ev.Kind)
	}

	ev.Origin = c.id
	ev.Process = c.hub.id

	c.hub.deliver(c.scope, ev, c.id)

	if c.log != nil {
		if _, err := c.log.AppendEvent(ctx, ev.record()); err != nil {
			return fmt.Errorf("publish %s: %w", ev.Kind, err)
		}
	}
	return nil
}

// Listen starts the dispatcher that feeds queued and future events to
// handler. Only the first call has an effect.
func (c *Channel) Listen(handler Handler) {
	c.listenOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.done = make(chan struct{})
		go c.dispatch(ctx, handler)
	})
}

func (c *Channel) dispatch(ctx context.Context, handler Handler) {
	defer close(c.done)

	for {
		for {
			ev, ok := c.queue.TryDequeue()
			if !ok {
				break
			}
			c.handle(ctx, handler, ev)
		}

		select {
		case <-ctx.Done():
			return
		case _, ok := <-c.queue.Wait():
			if !ok {
				return
			}
		}
	}
}

// handle runs handler for one event, isolating errors and panics.
func (c *Channel) handle(ctx context.Context, handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.hub.logger.Error("event handler panicked",
				"scope", c.scope,
				"kind", ev.Kind,
				"key", ev.Key,
				"panic", r,
			)
		}
	}()

	if err := ev.Validate(); err != nil {
		c.hub.logger.Warn("ignoring malformed event",
			"scope", c.scope,
			"error", err,
		)
		return
	}

	if err := handler(ctx, ev); err != nil {
		c.hub.logger.Error("failed to apply event",
			"scope", c.scope,
			"kind", ev.Kind,
			"key", ev.Key,
			"origin", ev.Origin,
			"error", err,
		)
	}
}

// Close leaves the scope and stops the dispatcher. Pending events are
// dropped. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.hub.leave(c)
		c.queue.Close()
		c.listenOnce.Do(func() {}) // a later Listen must not start a dispatcher
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
	})
	return nil
}
