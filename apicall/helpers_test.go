package apicall

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventLog collects events in emission order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Emit(_ context.Context, e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Name)
	}
	return out
}

// recordingTransport records requests and answers from a queue of results.
type recordingTransport struct {
	mu       sync.Mutex
	requests []Request
	results  []transportResult
}

type transportResult struct {
	resp *Response
	err  error
}

func (t *recordingTransport) respond(resp *Response, err error) *recordingTransport {
	t.results = append(t.results, transportResult{resp: resp, err: err})
	return t
}

func (t *recordingTransport) Do(_ context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests = append(t.requests, *req)
	if len(t.results) == 0 {
		return &Response{Status: http.StatusOK}, nil
	}
	r := t.results[0]
	if len(t.results) > 1 {
		t.results = t.results[1:]
	}
	return r.resp, r.err
}

func (t *recordingTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

func (t *recordingTransport) last() Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[len(t.requests)-1]
}

func unauthorized() error {
	return &TransportError{Status: http.StatusUnauthorized, Data: map[string]any{"error": "expired"}}
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()

	base := []Option{
		WithName("Acme"),
		WithBaseURL("https://api.acme.test/v1"),
		WithLogger(zerolog.Nop()),
	}
	svc, err := New(append(base, opts...)...)
	require.NoError(t, err)
	return svc
}
