package httptransport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore returns a gobreaker store that shares breaker state between
// every instance calling the same provider.
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	httptransport.WithBreaker(httptransport.DistributedBreakerConfig(httptransport.NewRedisStore(rdb)))
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// BreakerClassifier reports whether a round trip counts as a provider
// failure towards tripping the breaker.
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig configures the circuit breaker placed in front of a provider.
//
// A closed breaker lets requests through. Once tripped it opens and rejects
// requests with gobreaker.ErrOpenState until Timeout elapses, then lets up
// to MaxRequests probes through while half-open.
type BreakerConfig struct {
	// MaxRequests is the number of probes allowed while half-open.
	// 0 allows one.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval clears the counts periodically while closed. 0 never clears.
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the minimum request count before the breaker may trip.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// FailureRatio trips the breaker when failures/requests reaches it.
	FailureRatio float64 `yaml:"failure_ratio"`

	// ConsecutiveFailures trips the breaker after this many failures in a row.
	// 0 disables the rule.
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`

	// Store shares state across instances. nil keeps the breaker in memory.
	Store gobreaker.SharedDataStore `yaml:"-"`

	// Classifier decides what counts as a failure.
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier `yaml:"-"`

	// OnStateChange is invoked after every state transition.
	OnStateChange func(name string, from, to gobreaker.State) `yaml:"-"`
}

// DefaultBreakerConfig returns an in-memory breaker that opens after 5
// consecutive failures, or half of at least 20 requests, and probes again
// after 30s. Third-party providers tend to recover slowly, so the open
// period is longer than for internal services.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            30 * time.Second,
		Timeout:             30 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig is DefaultBreakerConfig backed by store.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts 5xx responses and network errors as
// failures. 401 and 429 are left to the call pipeline's refresh and rate
// limit handling.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return isNetworkError(err)
	}
	return resp != nil && resp.StatusCode >= http.StatusInternalServerError
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// circuitBreaker matches both gobreaker breaker flavours.
type circuitBreaker interface {
	Execute(req func() (*http.Response, error)) (*http.Response, error)
}

// errCountedFailure marks a response the classifier rejected. The breaker
// sees an error while the caller still receives the response.
var errCountedFailure = errors.New("counted provider failure")

type circuitBreakerTransport struct {
	breaker    circuitBreaker
	next       http.RoundTripper
	classifier BreakerClassifier
	metrics    *metrics
	name       string
}

func newCircuitBreakerTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	bc := cfg.BreakerConfig
	if bc == nil {
		return next
	}

	name := cfg.ServiceName
	if name == "" {
		name = "relay-go"
	}

	classifier := bc.Classifier
	if classifier == nil {
		classifier = DefaultBreakerClassifier
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: readyToTrip(*bc),
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Metrics.recordBreakerState(context.Background(), name, int64(to))
			cfg.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	var cb circuitBreaker = gobreaker.NewCircuitBreaker[*http.Response](st)
	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[*http.Response](bc.Store, st)
		if err != nil {
			cfg.Logger.Error().Err(err).Str("breaker", name).
				Msg("distributed circuit breaker unavailable, using in-memory breaker")
		} else {
			cb = dcb
		}
	}

	return &circuitBreakerTransport{
		breaker:    cb,
		next:       next,
		classifier: classifier,
		metrics:    cfg.Metrics,
		name:       name,
	}
}

func readyToTrip(bc BreakerConfig) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if bc.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
			return true
		}
		if bc.FailureThreshold > 0 && counts.Requests < bc.FailureThreshold {
			return false
		}
		if bc.FailureRatio > 0 && counts.Requests > 0 {
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		}
		return false
	}
}

func (t *circuitBreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose
		if t.classifier(resp, err) {
			if err != nil {
				return resp, err
			}
			return resp, errCountedFailure
		}
		return resp, err
	})

	switch {
	case err == nil:
		t.metrics.recordBreakerRequest(ctx, t.name, "success")
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		t.metrics.recordBreakerRequest(ctx, t.name, "rejected")
		return nil, err
	case errors.Is(err, errCountedFailure):
		t.metrics.recordBreakerRequest(ctx, t.name, "failure")
		return resp, nil
	default:
		t.metrics.recordBreakerRequest(ctx, t.name, "failure")
		return nil, err
	}
}
