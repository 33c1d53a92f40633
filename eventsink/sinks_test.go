package eventsink

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/relay-go/apicall"
)

func TestRecorder(t *testing.T) {
	tests := []struct {
		name      string
		transport apicall.TransportFunc
		wantErr   bool
		wantNames []string
	}{
		{
			name:      "given successful call, then records before success after",
			transport: okTransport,
			wantNames: []string{"Acme.getUser.before", "Acme.getUser.success", "Acme.getUser.after"},
		},
		{
			name:      "given failed call, then records before error after",
			transport: notFoundTransport,
			wantErr:   true,
			wantNames: []string{"Acme.getUser.before", "Acme.getUser.error", "Acme.getUser.after"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewRecorder()
			err := callUser(t, newService(t, rec, tt.transport))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantNames, rec.Names())
			assert.Equal(t, 3, rec.Len())
			assert.Len(t, rec.ByPhase(apicall.PhaseAfter), 1)

			rec.Reset()
			assert.Zero(t, rec.Len())
		})
	}

	t.Run("given concurrent emitters, then keeps every event", func(t *testing.T) {
		rec := NewRecorder()
		svc := newService(t, rec, okTransport)

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = callUser(t, svc)
			}()
		}
		wg.Wait()

		assert.Equal(t, 60, rec.Len())
		assert.Len(t, rec.ByPhase(apicall.PhaseSuccess), 20)
	})
}

func TestMultiAndOnlyPhases(t *testing.T) {
	t.Run("given several sinks, then each receives every event", func(t *testing.T) {
		a, b := NewRecorder(), NewRecorder()
		require.NoError(t, callUser(t, newService(t, Multi(a, nil, b), okTransport)))

		assert.Equal(t, a.Names(), b.Names())
		assert.Equal(t, 3, a.Len())
	})

	t.Run("given a single sink, then returns it unwrapped", func(t *testing.T) {
		a := NewRecorder()
		assert.Same(t, a, Multi(nil, a))
	})

	t.Run("given phase filter, then forwards only those phases", func(t *testing.T) {
		rec := NewRecorder()
		sink := OnlyPhases(rec, apicall.PhaseError)

		require.NoError(t, callUser(t, newService(t, sink, okTransport)))
		assert.Zero(t, rec.Len())

		require.Error(t, callUser(t, newService(t, sink, notFoundTransport)))
		assert.Equal(t, []string{"Acme.getUser.error"}, rec.Names())
	})
}

func TestLogSink(t *testing.T) {
	t.Run("given failed call, then logs error phase at warn with status", func(t *testing.T) {
		var buf bytes.Buffer
		sink := NewLogSink(zerolog.New(&buf), WithLevel(zerolog.InfoLevel))

		require.Error(t, callUser(t, newService(t, sink, notFoundTransport), apicall.WithEventContext("req-7")))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		assert.Contains(t, lines[0], `"level":"info"`)
		assert.Contains(t, lines[0], `"event":"Acme.getUser.before"`)
		assert.Contains(t, lines[0], `"event_context":"req-7"`)
		assert.Contains(t, lines[1], `"level":"warn"`)
		assert.Contains(t, lines[1], `"phase":"error"`)
		assert.Contains(t, lines[1], `"status":404`)
		assert.Contains(t, lines[1], `"attempt":1`)
		assert.NotContains(t, buf.String(), "secret-token")
	})

	t.Run("given default level, then non-error phases log at debug", func(t *testing.T) {
		var buf bytes.Buffer
		sink := NewLogSink(zerolog.New(&buf).Level(zerolog.InfoLevel))

		require.NoError(t, callUser(t, newService(t, sink, okTransport)))
		assert.Empty(t, buf.String())
	})
}

func TestAsync(t *testing.T) {
	t.Run("given buffered events, then close delivers all of them", func(t *testing.T) {
		rec := NewRecorder()
		async := NewAsync(rec, 16, zerolog.Nop())
		svc := newService(t, async, okTransport)

		for range 3 {
			require.NoError(t, callUser(t, svc))
		}
		require.NoError(t, async.Close(context.Background()))

		assert.Equal(t, 9, rec.Len())
		assert.Zero(t, async.Dropped())
		assert.ErrorIs(t, async.Close(context.Background()), ErrClosed)
	})

	t.Run("given full buffer, then drops instead of blocking", func(t *testing.T) {
		release := make(chan struct{})
		blocked := apicall.EventSinkFunc(func(context.Context, apicall.Event) { <-release })

		var buf bytes.Buffer
		async := NewAsync(blocked, 1, zerolog.New(&buf))
		svc := newService(t, async, okTransport)

		require.NoError(t, callUser(t, svc))

		// The worker holds one event and the buffer one more; the third is dropped.
		assert.GreaterOrEqual(t, async.Dropped(), int64(1))
		assert.Contains(t, buf.String(), `"reason":"buffer full"`)

		close(release)
		require.NoError(t, async.Close(context.Background()))
	})

	t.Run("given closed sink, then later events are dropped", func(t *testing.T) {
		rec := NewRecorder()
		async := NewAsync(rec, 4, zerolog.Nop())
		require.NoError(t, async.Close(context.Background()))

		async.Emit(context.Background(), apicall.Event{Name: "Acme.getUser.before"})

		assert.Equal(t, int64(1), async.Dropped())
		assert.Zero(t, rec.Len())
	})

	t.Run("given canceled call context, then worker still delivers", func(t *testing.T) {
		var got []error
		var mu sync.Mutex
		sink := apicall.EventSinkFunc(func(ctx context.Context, _ apicall.Event) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, ctx.Err())
		})
		async := NewAsync(sink, 4, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		async.Emit(ctx, apicall.Event{Name: "x"})
		require.NoError(t, async.Close(context.Background()))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []error{nil}, got)
	})
}
