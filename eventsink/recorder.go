package eventsink

import (
	"context"
	"sync"

	"github.com/kroma-labs/relay-go/apicall"
)

var _ apicall.EventSink = (*Recorder)(nil)

// Recorder keeps every event in memory. It is safe for concurrent use and
// meant for tests and debugging.
type Recorder struct {
	mu     sync.Mutex
	events []apicall.Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, event apicall.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events in emission order.
func (r *Recorder) Events() []apicall.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]apicall.Event(nil), r.events...)
}

// Names returns the recorded event names in emission order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.Name
	}
	return names
}

// ByPhase returns the recorded events of one phase.
func (r *Recorder) ByPhase(phase apicall.Phase) []apicall.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []apicall.Event
	for _, e := range r.events {
		if e.Phase == phase {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
