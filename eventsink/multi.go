package eventsink

import (
	"context"
	"slices"

	"github.com/kroma-labs/relay-go/apicall"
)

type multiSink []apicall.EventSink

func (m multiSink) Emit(ctx context.Context, event apicall.Event) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}

// Multi fans every event out to sinks in order. nil sinks are skipped.
//
//	apicall.WithEventSink(eventsink.Multi(logSink, promSink))
func Multi(sinks ...apicall.EventSink) apicall.EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type filterSink struct {
	next   apicall.EventSink
	phases []apicall.Phase
}

func (f filterSink) Emit(ctx context.Context, event apicall.Event) {
	if slices.Contains(f.phases, event.Phase) {
		f.next.Emit(ctx, event)
	}
}

// OnlyPhases forwards only events of the given phases to next.
//
//	eventsink.OnlyPhases(auditSink, apicall.PhaseSuccess, apicall.PhaseError)
func OnlyPhases(next apicall.EventSink, phases ...apicall.Phase) apicall.EventSink {
	return filterSink{next: next, phases: phases}
}
