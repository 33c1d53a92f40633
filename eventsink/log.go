package eventsink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/relay-go/apicall"
)

var _ apicall.EventSink = (*LogSink)(nil)

// LogSink writes every event as one zerolog entry.
//
// Error phases are logged at warn with the error attached, other phases at
// the configured level (debug by default).
type LogSink struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// LogOption configures a LogSink.
type LogOption func(*LogSink)

// WithLevel sets the level for non-error phases.
func WithLevel(level zerolog.Level) LogOption {
	return func(s *LogSink) {
		s.level = level
	}
}

// NewLogSink returns a sink logging through logger.
//
//	sink := eventsink.NewLogSink(log.Logger, eventsink.WithLevel(zerolog.InfoLevel))
func NewLogSink(logger zerolog.Logger, opts ...LogOption) *LogSink {
	s := &LogSink{logger: logger, level: zerolog.DebugLevel}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LogSink) Emit(_ context.Context, event apicall.Event) {
	var e *zerolog.Event
	if event.Phase == apicall.PhaseError {
		e = s.logger.Warn().Err(event.Err)
	} else {
		e = s.logger.WithLevel(s.level)
	}

	e = e.Str("event", event.Name).
		Str("service", event.Service).
		Str("endpoint", event.Endpoint).
		Str("phase", string(event.Phase))

	if call := event.Call; call != nil {
		e = e.Str("call_id", call.ID).
			Int("attempt", call.Attempt).
			Str("method", call.Request.Method)
		if call.Response != nil {
			e = e.Int("status", call.Response.Status)
		}
	}
	if status := apicall.StatusCode(event.Err); status != 0 {
		e = e.Int("status", status)
	}
	if event.Context != nil {
		e = e.Interface("event_context", event.Context)
	}

	e.Msg("api call event")
}
