package apicall

import (
	"context"
	"errors"
)

// ErrNoTransport is returned when an endpoint without a DispatchFunc is called
// on a service configured without a Transport.
var ErrNoTransport = errors.New("no transport configured")

// Transport performs one dispatch. Implementations return a *TransportError
// for non-success provider responses so the pipeline can classify them.
//
// Timeouts and cancellation belong to the transport; the pipeline never
// preempts a dispatch in flight.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts an ordinary function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
