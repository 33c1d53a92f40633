package apicall

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// supportedMethods are the verbs a call may use.
var supportedMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodHead:    {},
	http.MethodOptions: {},
}

// CallOption adjusts a single Call.
type CallOption func(*callOptions)

type callOptions struct {
	overwriteURL string
	eventContext any
}

// WithOverwriteURL sends the call to rawURL verbatim. Path parameters and
// query parameters are ignored.
func WithOverwriteURL(rawURL string) CallOption {
	return func(o *callOptions) {
		o.overwriteURL = rawURL
	}
}

// WithEventContext attaches v to every event emitted by the call.
func WithEventContext(v any) CallOption {
	return func(o *callOptions) {
		o.eventContext = v
	}
}

// Call invokes the named endpoint through the full pipeline: build, auth,
// method validation, local rate limit, dispatch, error classification with
// at most one auth retry, normalization and lifecycle events.
//
// Example:
//
//	resp, err := svc.Call(ctx, "getUserDetails", apicall.Params{
//	    PathParams: map[string]string{"userId": "123"},
//	    Query:      url.Values{"expand": {"teams"}},
//	})
func (s *Service) Call(ctx context.Context, name string, params Params, opts ...CallOption) (*Response, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	start := time.Now()
	attrs := s.metricAttrs(name)

	ctx, span := s.cfg.tracer.Start(ctx, s.cfg.Name+"."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	call, err := s.BuildAPICall(ctx, name, params, co.overwriteURL)
	if err == nil {
		err = validateMethod(call.Request.Method)
	}
	if err != nil {
		s.fail(ctx, span, attrs, start, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("http.request.method", call.Request.Method),
		attribute.String("apicall.call_id", call.ID),
	)

	s.emit(ctx, PhaseBefore, call, params, co.eventContext, nil)

	call, handled, err := s.dispatch(ctx, span, call)
	if err == nil && !handled {
		err = s.normalizeResponse(call, params)
	}
	if err != nil {
		s.logger(call).Warn().Err(err).Msg("api call failed")
		s.emit(ctx, PhaseError, call, params, co.eventContext, err)
		s.emit(ctx, PhaseAfter, call, params, co.eventContext, err)
		s.fail(ctx, span, attrs, start, err)
		return nil, err
	}

	s.emit(ctx, PhaseSuccess, call, params, co.eventContext, nil)
	s.emit(ctx, PhaseAfter, call, params, co.eventContext, nil)

	span.SetAttributes(attribute.Int("http.response.status_code", call.Response.Status))
	outcome := "success"
	if handled {
		outcome = "handled"
	}
	s.cfg.metrics.recordCallDuration(ctx, time.Since(start), attrs, outcome)
	return call.Response, nil
}

// BuildAPICall resolves the endpoint, its auth strategy and URL, merges
// headers and runs the strategy's Execute. overwriteURL, when not empty,
// is used verbatim and no query parameters are attached.
//
// Header precedence, lowest first: service defaults, endpoint headers,
// Params.Headers, then whatever the auth strategy sets.
func (s *Service) BuildAPICall(ctx context.Context, name string, params Params, overwriteURL string) (*APICall, error) {
	ep, err := s.registry.lookup(name)
	if err != nil {
		return nil, err
	}

	strategy, err := s.strategyFor(ep)
	if err != nil {
		return nil, err
	}

	var (
		target string
		query  url.Values
	)
	if overwriteURL != "" {
		target = overwriteURL
	} else {
		target, err = ResolveURL(s.cfg.BaseURL, ep.URL, params.PathParams)
		if err != nil {
			return nil, err
		}
		query = cloneValues(params.Query)
	}

	headers := make(http.Header)
	for _, layer := range []map[string]string{s.cfg.DefaultHeaders, ep.Headers, params.Headers} {
		for k, v := range layer {
			headers.Set(k, v)
		}
	}

	call := &APICall{
		ID:           uuid.NewString(),
		Endpoint:     ep,
		Params:       params,
		OverwriteURL: overwriteURL,
		Attempt:      1,
		Request: Request{
			Method:  strings.ToUpper(ep.Method),
			URL:     target,
			Headers: headers,
			Query:   query,
			Payload: params.Payload,
			Auth:    params.Auth.Clone(),
		},
	}

	return strategy.Execute(ctx, call)
}

// dispatch runs the admit/send/classify loop. It permits exactly one retry,
// and only on an explicit Retry outcome. The returned call is the working
// one, which after a retry is the rebuilt call.
func (s *Service) dispatch(ctx context.Context, span trace.Span, call *APICall) (*APICall, bool, error) {
	attrs := s.metricAttrs(call.Endpoint.Name)
	retried := false

	for {
		if err := s.limiter.Admit(call); err != nil {
			s.cfg.metrics.recordRateLimited(ctx, attrs)
			return call, false, err
		}

		span.AddEvent("dispatch", trace.WithAttributes(attribute.Int("apicall.attempt", call.Attempt)))
		s.logger(call).Debug().
			Str("method", call.Request.Method).
			Str("url", call.Request.URL).
			Msg("dispatching api call")

		resp, err := s.send(ctx, call)
		if err == nil {
			if resp == nil {
				resp = &Response{}
			}
			if serr := call.SetResponse(resp); serr != nil {
				return call, false, serr
			}
			return call, false, nil
		}

		if !s.cfg.isAPIError(err) {
			return call, false, err
		}

		outcome, herr := s.handleAPIError(ctx, call, err)
		if herr != nil {
			return call, false, herr
		}

		switch outcome.Kind {
		case OutcomeRetry:
			if retried {
				return call, false, fmt.Errorf("%w: retry requested on a retried call: %w", ErrAuthenticationFailed, err)
			}
			if outcome.Call == nil {
				return call, false, fmt.Errorf("%w: retry requested without a call: %w", ErrAuthenticationFailed, err)
			}
			retried = true
			next := outcome.Call
			next.Attempt = call.Attempt + 1
			s.logger(call).Info().Str("retry_call_id", next.ID).Msg("retrying api call")
			s.cfg.metrics.recordRetry(ctx, attrs)
			call = next

		case OutcomeHandled:
			resp := &Response{}
			var te *TransportError
			if errors.As(err, &te) {
				resp = te.Response()
			}
			if serr := call.SetResponse(resp); serr != nil {
				return call, false, serr
			}
			return call, true, nil

		default:
			return call, false, err
		}
	}
}

// handleAPIError offers err to the auth strategy, then to the service hook.
// A Retry from the strategy skips the service hook.
func (s *Service) handleAPIError(ctx context.Context, call *APICall, err error) (Outcome, error) {
	strategy, serr := s.strategyFor(call.Endpoint)
	if serr != nil {
		return Bubble(), serr
	}

	outcome, herr := strategy.OnAPIError(ctx, s, call, err)
	if herr != nil || outcome.Kind == OutcomeRetry {
		return outcome, herr
	}

	if s.cfg.onAPIError == nil {
		return outcome, nil
	}

	svcOutcome, herr := s.cfg.onAPIError(ctx, s, call, err)
	if herr != nil {
		return Bubble(), herr
	}
	if svcOutcome.Kind == OutcomeRetry || svcOutcome.Kind == OutcomeHandled {
		return svcOutcome, nil
	}
	return outcome, nil
}

func (s *Service) send(ctx context.Context, call *APICall) (*Response, error) {
	if call.Endpoint.Dispatch != nil {
		return call.Endpoint.Dispatch(ctx, s, call)
	}
	if s.cfg.transport == nil {
		return nil, ErrNoTransport
	}
	return s.cfg.transport.Do(ctx, &call.Request)
}

func (s *Service) normalizeResponse(call *APICall, params Params) error {
	data, err := s.Normalize(call.Endpoint, params, call.Response.Data)
	if err != nil {
		return err
	}
	call.Response.Data = data
	return nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, attrs []attribute.KeyValue, start time.Time, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.cfg.metrics.recordError(ctx, attrs, errorType(err))
	s.cfg.metrics.recordCallDuration(ctx, time.Since(start), attrs, "error")
}

func validateMethod(method string) error {
	if _, ok := supportedMethods[method]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	return nil
}

// errorType maps err onto a low-cardinality metric label.
func errorType(err error) string {
	var te *TransportError
	switch {
	case errors.Is(err, ErrEndpointNotFound):
		return "endpoint_not_found"
	case errors.Is(err, ErrAuthStrategyNotConfigured):
		return "auth_strategy_not_configured"
	case errors.Is(err, ErrMissingPathParameter):
		return "missing_path_parameter"
	case errors.Is(err, ErrInvalidMethod):
		return "invalid_method"
	case errors.Is(err, ErrInvalidAuthParams):
		return "invalid_auth_params"
	case errors.Is(err, ErrLocalRateLimitExceeded):
		return "local_rate_limit"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.As(err, &te):
		if te.Status > 0 {
			return fmt.Sprintf("http_%d", te.Status)
		}
		return "transport"
	default:
		return "other"
	}
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := maps.Clone(v)
	for k, vals := range out {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
