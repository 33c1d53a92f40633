package httptransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when the client throttle rejects a request.
var ErrThrottled = errors.New("httptransport: request throttled")

// ThrottleConfig paces outgoing requests with a token bucket.
type ThrottleConfig struct {
	// RequestsPerSecond is the sustained rate. <= 0 disables the throttle.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the number of requests allowed at once. Minimum 1.
	Burst int `yaml:"burst"`

	// WaitOnLimit blocks until a token frees up, bounded by the request
	// context. When false the request fails with ErrThrottled.
	WaitOnLimit bool `yaml:"wait_on_limit"`
}

// DefaultThrottleConfig allows 10 requests per second with bursts of 5,
// waiting for a token rather than failing.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		RequestsPerSecond: 10,
		Burst:             5,
		WaitOnLimit:       true,
	}
}

type throttleTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
	wait    bool
	cfg     *internalConfig
}

func newThrottleTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	tc := cfg.ThrottleConfig
	if tc == nil || tc.RequestsPerSecond <= 0 {
		return next
	}
	burst := max(tc.Burst, 1)

	return &throttleTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(tc.RequestsPerSecond), burst),
		wait:    tc.WaitOnLimit,
		cfg:     cfg,
	}
}

func (t *throttleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if !t.wait {
		if !t.limiter.Allow() {
			t.cfg.Metrics.recordThrottled(ctx, t.cfg.baseAttributes())
			return nil, ErrThrottled
		}
		return t.next.RoundTrip(req)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		t.cfg.Metrics.recordThrottled(ctx, t.cfg.baseAttributes())
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// Wait fails up front when the deadline is shorter than the delay.
		return nil, fmt.Errorf("%w: %w", ErrThrottled, err)
	}

	return t.next.RoundTrip(req)
}
