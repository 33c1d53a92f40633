package httptransport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Values of the error.type attribute for failures without a status code.
const (
	ErrorTypeTimeout     = "timeout"
	ErrorTypeCanceled    = "canceled"
	ErrorTypeDNS         = "dns_error"
	ErrorTypeTLS         = "tls_error"
	ErrorTypeConnection  = "connection_error"
	ErrorTypeBreakerOpen = "circuit_open"
	ErrorTypeThrottled   = "throttled"
	ErrorTypeOther       = "_OTHER"
)

var _ http.RoundTripper = (*otelTransport)(nil)

// otelTransport opens one client span per round trip, injects the trace
// context into the outgoing headers and records the request metrics.
type otelTransport struct {
	next       http.RoundTripper
	cfg        *internalConfig
	propagator propagation.TextMapPropagator
}

func newOtelTransport(next http.RoundTripper, cfg *internalConfig) *otelTransport {
	return &otelTransport{next: next, cfg: cfg, propagator: cfg.Propagators}
}

func (t *otelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	ctx, span := t.cfg.Tracer.Start(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.requestAttributes(req)...),
	)
	defer span.End()

	req = req.Clone(ctx)
	if t.propagator != nil {
		t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	}

	base := t.cfg.baseAttributes()
	t.cfg.Metrics.recordActiveRequest(ctx, 1, base)
	defer t.cfg.Metrics.recordActiveRequest(ctx, -1, base)

	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		errorType := classifyError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.type", errorType))
		t.cfg.Metrics.recordError(ctx, errorType, base)
		t.cfg.Metrics.recordRequestDuration(ctx, duration, t.metricAttributes(req, 0, errorType))
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.ContentLength > 0 {
		span.SetAttributes(attribute.Int64("http.response.body.size", resp.ContentLength))
	}

	var errorType string
	if resp.StatusCode >= http.StatusBadRequest {
		errorType = strconv.Itoa(resp.StatusCode)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", errorType))
	}

	t.cfg.Metrics.recordRequestDuration(ctx, duration, t.metricAttributes(req, resp.StatusCode, errorType))

	return resp, nil
}

func (t *otelTransport) requestAttributes(req *http.Request) []attribute.KeyValue {
	attrs := append(t.cfg.baseAttributes(),
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL.Redacted()),
		attribute.String("url.scheme", req.URL.Scheme),
	)
	attrs = append(attrs, serverAttributes(req)...)
	if req.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", req.ContentLength))
	}
	if ua := req.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	return attrs
}

func (t *otelTransport) metricAttributes(req *http.Request, status int, errorType string) []attribute.KeyValue {
	attrs := append(t.cfg.baseAttributes(), attribute.String("http.request.method", req.Method))
	attrs = append(attrs, serverAttributes(req)...)
	if status > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", status))
	}
	if errorType != "" {
		attrs = append(attrs, attribute.String("error.type", errorType))
	}
	return attrs
}

func serverAttributes(req *http.Request) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if host := req.URL.Hostname(); host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}

	port := req.URL.Port()
	switch {
	case port != "":
		if p, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, attribute.Int("server.port", p))
		}
	case req.URL.Scheme == "http":
		attrs = append(attrs, attribute.Int("server.port", 80))
	case req.URL.Scheme == "https":
		attrs = append(attrs, attribute.Int("server.port", 443))
	}
	return attrs
}

// classifyError maps a round trip failure to a low-cardinality error.type.
func classifyError(err error) string {
	var (
		dnsErr    *net.DNSError
		netErr    net.Error
		opErr     *net.OpError
		recordErr tls.RecordHeaderError
		unknownCA x509.UnknownAuthorityError
		hostErr   x509.HostnameError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrorTypeBreakerOpen
	case errors.Is(err, ErrThrottled):
		return ErrorTypeThrottled
	case errors.As(err, &dnsErr):
		return ErrorTypeDNS
	case errors.As(err, &recordErr), errors.As(err, &unknownCA), errors.As(err, &hostErr):
		return ErrorTypeTLS
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorTypeTimeout
	case errors.As(err, &opErr):
		return ErrorTypeConnection
	default:
		return ErrorTypeOther
	}
}
