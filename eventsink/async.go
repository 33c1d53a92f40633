package eventsink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/relay-go/apicall"
)

// ErrClosed is returned by Close on an already closed Async sink.
var ErrClosed = errors.New("eventsink: closed")

type queued struct {
	ctx   context.Context
	event apicall.Event
}

// Async hands events to a background worker so a slow sink never holds up a
// call. When the buffer is full the event is dropped and counted.
type Async struct {
	next    apicall.EventSink
	queue   chan queued
	logger  zerolog.Logger
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts a worker delivering to next through a buffer of size
// events. Call Close to flush and stop it.
//
//	audit := eventsink.NewAsync(sqlSink, 1024, logger)
//	defer audit.Close(ctx)
func NewAsync(next apicall.EventSink, size int, logger zerolog.Logger) *Async {
	a := &Async{
		next:   next,
		queue:  make(chan queued, max(size, 1)),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for q := range a.queue {
		a.next.Emit(q.ctx, q.event)
	}
}

func (a *Async) Emit(ctx context.Context, event apicall.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(event, "sink closed")
		return
	}

	// The worker outlives the call, so cancellation must not reach it.
	select {
	case a.queue <- queued{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		a.drop(event, "buffer full")
	}
}

func (a *Async) drop(event apicall.Event, reason string) {
	n := a.dropped.Add(1)
	a.logger.Warn().
		Str("event", event.Name).
		Str("reason", reason).
		Int64("dropped_total", n).
		Msg("event dropped")
}

// Dropped returns how many events were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until the buffer is delivered or
// ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
