package apicall

import (
	"context"
	"maps"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/relay-go/apicall"
)

// =============================================================================
// Config - Service Configuration
// =============================================================================

// Config holds the declarative settings of a Service.
// Use DefaultConfig() and override what the provider needs.
//
// Example:
//
//	cfg := apicall.DefaultConfig()
//	cfg.Name = "Github"
//	cfg.BaseURL = "https://api.github.com"
//	cfg.DefaultAuth = apicall.AuthBearer
//	cfg.RateLimit = apicall.RateLimitConfig{Limit: 5000, Window: time.Hour}
//
//	svc, err := apicall.New(apicall.WithConfig(cfg), apicall.WithEndpoints(githubEndpoints...))
type Config struct {
	// Name prefixes every event name ("<Name>.<endpoint>.<phase>").
	// Default: "Service"
	Name string `yaml:"name"`

	// BaseURL is prepended to relative endpoint URLs.
	BaseURL string `yaml:"base_url"`

	// DefaultAuth is used by endpoints that do not declare an Auth type.
	// Default: AuthNone
	DefaultAuth AuthType `yaml:"default_auth"`

	// DefaultHeaders are sent on every call; endpoint headers win.
	DefaultHeaders map[string]string `yaml:"default_headers"`

	// RateLimit is the local fixed-window quota.
	// Default: disabled
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// DefaultConfig returns a service with no base URL, no credentials and no
// local rate limit.
func DefaultConfig() Config {
	return Config{
		Name:        "Service",
		DefaultAuth: AuthNone,
		RateLimit:   DefaultRateLimitConfig(),
	}
}

// APIErrorHook is the service-level reaction to a provider error. It runs
// after the auth strategy hook unless that one signalled a retry.
type APIErrorHook func(ctx context.Context, svc *Service, call *APICall, err error) (Outcome, error)

// =============================================================================
// Internal Configuration
// =============================================================================

type config struct {
	Config

	endpointTables [][]Endpoint
	strategies     []AuthStrategy

	transport Transport
	events    EventSink
	clock     Clock
	logger    zerolog.Logger

	isAPIError  func(error) bool
	isAuthError AuthErrorClassifier
	onAuthError AuthErrorHandler
	onAPIError  APIErrorHook
	humanize    func(error) string

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	metrics        *metrics
}

// Option configures a Service.
type Option func(*config)

func newConfig(opts ...Option) (*config, error) {
	cfg := &config{
		Config:     DefaultConfig(),
		events:     DiscardEvents,
		clock:      SystemClock,
		logger:     zerolog.New(os.Stdout).With().Timestamp().Logger(),
		isAPIError: DefaultIsAPIError,
		humanize:   DefaultHumanizeError,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.tracerProvider == nil {
		cfg.tracerProvider = otel.GetTracerProvider()
	}
	if cfg.meterProvider == nil {
		cfg.meterProvider = otel.GetMeterProvider()
	}
	cfg.tracer = cfg.tracerProvider.Tracer(scope)

	m, err := newMetrics(cfg.meterProvider.Meter(scope))
	if err != nil {
		return nil, err
	}
	cfg.metrics = m

	cfg.logger = cfg.logger.With().Str("service", cfg.Name).Logger()
	return cfg, nil
}

// WithConfig replaces the declarative settings.
func WithConfig(c Config) Option {
	return func(cfg *config) {
		cfg.Config = c
		cfg.DefaultHeaders = maps.Clone(c.DefaultHeaders)
		if cfg.Name == "" {
			cfg.Name = DefaultConfig().Name
		}
		if cfg.DefaultAuth == "" {
			cfg.DefaultAuth = AuthNone
		}
	}
}

// WithName sets the service name used in event names and telemetry.
func WithName(name string) Option {
	return func(cfg *config) {
		cfg.Name = name
	}
}

// WithBaseURL sets the URL relative endpoint templates are appended to.
func WithBaseURL(baseURL string) Option {
	return func(cfg *config) {
		cfg.BaseURL = baseURL
	}
}

// WithDefaultAuth sets the strategy used by endpoints without an Auth type.
func WithDefaultAuth(typ AuthType) Option {
	return func(cfg *config) {
		cfg.DefaultAuth = typ
	}
}

// WithDefaultHeaders sets headers sent on every call.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(cfg *config) {
		cfg.DefaultHeaders = maps.Clone(headers)
	}
}

// WithRateLimit sets the local fixed-window quota.
//
// Example:
//
//	apicall.WithRateLimit(apicall.RateLimitConfig{Limit: 100, Window: time.Minute})
func WithRateLimit(rl RateLimitConfig) Option {
	return func(cfg *config) {
		cfg.RateLimit = rl
	}
}

// WithEndpoints appends one declaration table. Pass tables from the most
// generic to the most specific; a later table overrides earlier declarations
// of the same name.
func WithEndpoints(endpoints ...Endpoint) Option {
	return func(cfg *config) {
		cfg.endpointTables = append(cfg.endpointTables, endpoints)
	}
}

// WithAuthStrategies registers strategy instances. AuthNone is always
// available unless replaced here.
func WithAuthStrategies(strategies ...AuthStrategy) Option {
	return func(cfg *config) {
		cfg.strategies = append(cfg.strategies, strategies...)
	}
}

// WithTransport sets the collaborator that performs dispatches.
func WithTransport(t Transport) Option {
	return func(cfg *config) {
		cfg.transport = t
	}
}

// WithEventSink sets the lifecycle event receiver.
func WithEventSink(sink EventSink) Option {
	return func(cfg *config) {
		if sink != nil {
			cfg.events = sink
		}
	}
}

// WithClock substitutes the clock used by the rate limiter.
func WithClock(c Clock) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithLogger sets the zerolog logger.
// Default: JSON to stdout with timestamps
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithAPIErrorClassifier decides which dispatch errors are provider API
// errors routed through the OnAPIError hooks.
// Default: DefaultIsAPIError
func WithAPIErrorClassifier(fn func(error) bool) Option {
	return func(cfg *config) {
		if fn != nil {
			cfg.isAPIError = fn
		}
	}
}

// WithAuthErrorClassifier is the service-level isAuthError hook, used by
// strategies that do not classify auth errors themselves.
// Default: nothing is an auth error
func WithAuthErrorClassifier(fn AuthErrorClassifier) Option {
	return func(cfg *config) {
		cfg.isAuthError = fn
	}
}

// WithAuthErrorHandler is the service-level onAuthError hook.
// Default: fail with ErrAuthenticationFailed
func WithAuthErrorHandler(fn AuthErrorHandler) Option {
	return func(cfg *config) {
		cfg.onAuthError = fn
	}
}

// WithAPIErrorHook is the service-level onApiError hook.
// Default: Bubble
func WithAPIErrorHook(fn APIErrorHook) Option {
	return func(cfg *config) {
		cfg.onAPIError = fn
	}
}

// WithErrorHumanizer replaces DefaultHumanizeError.
func WithErrorHumanizer(fn func(error) string) Option {
	return func(cfg *config) {
		if fn != nil {
			cfg.humanize = fn
		}
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
// Default: otel.GetTracerProvider()
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracerProvider = tp
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider.
// Default: otel.GetMeterProvider()
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *config) {
		cfg.meterProvider = mp
	}
}
