package minidb

import (
	"context"
	"sync"
	"sync/atomic"
)

// latchState is where initialization stands.
type latchState int32

const (
	stateUnstarted latchState = iota
	stateLoading
	stateReady
	stateFailed
)

func (s latchState) String() string {
	switch s {
	case stateUnstarted:
		return "unstarted"
	case stateLoading:
		return "loading"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// latch runs a load exactly once and lets any number of callers wait for
// it. Ready and Failed are terminal.
type latch struct {
	once  sync.Once
	done  chan struct{}
	state atomic.Int32
	err   error // set before done is closed
}

func newLatch() *latch {
	return &latch{done: make(chan struct{})}
}

// trigger starts load if no trigger did so before. The load runs in its
// own goroutine and is not cancelled with ctx.
func (l *latch) trigger(ctx context.Context, load func(context.Context) error) {
	l.once.Do(func() {
		l.state.Store(int32(stateLoading))
		lctx := context.WithoutCancel(ctx)
		go func() {
			l.settle(load(lctx))
		}()
	})
}

// fail settles an unstarted latch with err without loading. It reports
// whether it did.
func (l *latch) fail(err error) bool {
	settled := false
	l.once.Do(func() {
		settled = true
		l.settle(err)
	})
	return settled
}

func (l *latch) settle(err error) {
	l.err = err
	if err != nil {
		l.state.Store(int32(stateFailed))
	} else {
		l.state.Store(int32(stateReady))
	}
	close(l.done)
}

// wait blocks until the latch settles or ctx ends. Giving up on the wait
// does not stop the load.
func (l *latch) wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.err
	default:
	}

	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// current returns the state without blocking.
func (l *latch) current() latchState {
	return latchState(l.state.Load())
}
