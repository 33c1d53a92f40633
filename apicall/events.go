package apicall

import (
	"context"
	"strings"
)

// Phase is a lifecycle point of a Call.
type Phase string

const (
	PhaseBefore  Phase = "before"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
	PhaseAfter   Phase = "after"
)

// Event is emitted at every lifecycle phase of a Call.
//
// Successful calls emit before, success, after; failed calls emit before,
// error, after. Construction failures before the call is built emit nothing.
type Event struct {
	// Name is "<Service>.<endpoint>.<phase>".
	Name     string
	Service  string
	Endpoint string
	Phase    Phase

	Params Params

	// Call is the working APICall; after an auth retry it is the rebuilt one.
	Call *APICall

	// Context is the caller-supplied value from WithEventContext.
	Context any

	// Err is set on the error and after phases of a failed call.
	Err error
}

// EventName joins service, endpoint and phase the way sinks receive them.
func EventName(service, endpoint string, phase Phase) string {
	return strings.Join([]string{service, endpoint, string(phase)}, ".")
}

// EventSink receives lifecycle events. Emit must not block the call for long;
// sinks that do I/O should buffer or drop.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// EventSinkFunc adapts an ordinary function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event)

func (f EventSinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

type discardSink struct{}

func (discardSink) Emit(context.Context, Event) {}

// DiscardEvents is the sink used when none is configured.
var DiscardEvents EventSink = discardSink{}

func (s *Service) emit(ctx context.Context, phase Phase, call *APICall, params Params, eventCtx any, err error) {
	s.cfg.events.Emit(ctx, Event{
		Name:     EventName(s.cfg.Name, call.Endpoint.Name, phase),
		Service:  s.cfg.Name,
		Endpoint: call.Endpoint.Name,
		Phase:    phase,
		Params:   params,
		Call:     call,
		Context:  eventCtx,
		Err:      err,
	})
}
