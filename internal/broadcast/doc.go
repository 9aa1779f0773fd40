// Package broadcast carries change notifications between consumers of the
// same logical database.
//
// A Hub is an explicitly owned registry of channels grouped by scope (one
// scope per logical database). Channel.Publish delivers an event to every
// other channel in the same scope, never back to the publisher, and, when
// the scope has an event log, appends it there for other processes.
//
// Delivery never blocks the publisher: each channel buffers incoming events
// in an unbounded FIFO queue that a dispatcher goroutine drains into the
// channel's handler. Handler errors and panics are logged per event and do
// not stop the channel.
//
// Cross-process delivery is best-effort. A relay polls the scope's event log
// and hands events written by other hubs to the local channels. Events that
// are pruned before a lagging process reads them are lost; such a process
// converges on its next full load instead.
package broadcast
