package apicall

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments for the call pipeline.
type metrics struct {
	// callDuration measures a whole Call, retries included, in seconds.
	callDuration metric.Float64Histogram

	// callErrors counts failed calls by error type.
	callErrors metric.Int64Counter

	// rateLimited counts calls rejected by the local limiter.
	rateLimited metric.Int64Counter

	// authRetries counts attempts re-dispatched after a Retry outcome.
	authRetries metric.Int64Counter

	// authRefreshes counts token refreshes by result.
	authRefreshes metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.callDuration, err = meter.Float64Histogram(
		"apicall.call.duration",
		metric.WithDescription("Duration of remote API calls in seconds, retries included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
		),
	)
	if err != nil {
		return nil, err
	}

	m.callErrors, err = meter.Int64Counter(
		"apicall.call.errors",
		metric.WithDescription("Number of remote API calls that failed"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.rateLimited, err = meter.Int64Counter(
		"apicall.ratelimit.rejected",
		metric.WithDescription("Number of calls rejected by the local rate limiter"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.authRetries, err = meter.Int64Counter(
		"apicall.auth.retries",
		metric.WithDescription("Number of calls re-dispatched after an auth retry signal"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.authRefreshes, err = meter.Int64Counter(
		"apicall.auth.refreshes",
		metric.WithDescription("Number of access token refreshes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) recordCallDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue, outcome string) {
	if m == nil || m.callDuration == nil {
		return
	}
	all := append(append([]attribute.KeyValue{}, attrs...), attribute.String("apicall.outcome", outcome))
	m.callDuration.Record(ctx, d.Seconds(), metric.WithAttributes(all...))
}

func (m *metrics) recordError(ctx context.Context, attrs []attribute.KeyValue, errorType string) {
	if m == nil || m.callErrors == nil {
		return
	}
	all := append(append([]attribute.KeyValue{}, attrs...), attribute.String("error.type", errorType))
	m.callErrors.Add(ctx, 1, metric.WithAttributes(all...))
}

func (m *metrics) recordRateLimited(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.rateLimited == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetry(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.authRetries == nil {
		return
	}
	m.authRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRefresh(ctx context.Context, attrs []attribute.KeyValue, ok bool) {
	if m == nil || m.authRefreshes == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	all := append(append([]attribute.KeyValue{}, attrs...), attribute.String("apicall.refresh.result", result))
	m.authRefreshes.Add(ctx, 1, metric.WithAttributes(all...))
}
