package httptransport

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/relay-go/httptransport"
)

// =============================================================================
// Config - HTTP Connection Configuration
// =============================================================================

// Config holds the connection settings of the underlying http.Transport.
// Use DefaultConfig() or one of the presets, then adjust fields as needed.
//
// Example:
//
//	cfg := httptransport.DefaultConfig()
//	cfg.Timeout = 10 * time.Second
//
//	t := httptransport.New(httptransport.WithConfig(cfg))
type Config struct {
	// Timeout bounds a whole dispatch, body read included. Zero means no
	// timeout, which leaves a hung provider holding the call forever.
	//
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// MaxIdleConns caps idle keep-alive connections across all hosts.
	//
	// Default: 100
	MaxIdleConns int `yaml:"max_idle_conns"`

	// MaxIdleConnsPerHost caps idle connections per provider host. Most
	// services talk to a single provider, so this is usually the setting
	// that matters.
	//
	// Default: 20
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`

	// MaxConnsPerHost caps idle plus active connections per host. 0 is unlimited.
	//
	// Default: 50
	MaxConnsPerHost int `yaml:"max_conns_per_host"`

	// IdleConnTimeout closes pooled connections idle for longer than this.
	//
	// Default: 90s
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`

	// TLSHandshakeTimeout bounds the TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout"`

	// ResponseHeaderTimeout bounds the wait for response headers after the
	// request is written. Zero defers to Timeout.
	//
	// Default: 0
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`

	// DialTimeout bounds TCP connection establishment.
	//
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// KeepAlive is the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration `yaml:"keep_alive"`

	// MaxResponseBodyBytes caps how much of a response body is read.
	// 0 means unlimited.
	//
	// Default: 10MB
	MaxResponseBodyBytes int64 `yaml:"max_response_body_bytes"`

	// ForceHTTP2 enables HTTP/2 even with a custom dialer or TLS config.
	//
	// Default: true
	ForceHTTP2 bool `yaml:"force_http2"`
}

// DefaultConfig returns settings suited to typical third-party REST APIs:
// one or two provider hosts, moderate concurrency, slow-ish responses.
func DefaultConfig() Config {
	return Config{
		Timeout:               30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 0,
		DialTimeout:           5 * time.Second,
		KeepAlive:             30 * time.Second,
		MaxResponseBodyBytes:  10 << 20,
		ForceHTTP2:            true,
	}
}

// BulkSyncConfig returns settings for background jobs that page through
// large provider collections: more connections per host and a longer timeout.
//
// Example:
//
//	t := httptransport.New(
//	    httptransport.WithConfig(httptransport.BulkSyncConfig()),
//	    httptransport.WithServiceName("crm-sync"),
//	)
func BulkSyncConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Minute
	cfg.MaxIdleConnsPerHost = 64
	cfg.MaxConnsPerHost = 0
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.MaxResponseBodyBytes = 64 << 20
	return cfg
}

// InteractiveConfig returns settings for calls made while a user waits:
// short timeouts that fail fast on a slow provider.
func InteractiveConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 8 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ResponseHeaderTimeout = 5 * time.Second
	return cfg
}

// =============================================================================
// Internal Configuration
// =============================================================================

type internalConfig struct {
	httpConfig Config

	// ServiceName is added as "http.client.name" on spans and metrics and
	// names the circuit breaker.
	ServiceName string

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Metrics        *metrics
	Propagators    propagation.TextMapPropagator

	TLSConfig *tls.Config
	ProxyURL  *url.URL

	// BaseRoundTripper replaces the http.Transport built from httpConfig.
	BaseRoundTripper http.RoundTripper

	BreakerConfig  *BreakerConfig
	ThrottleConfig *ThrottleConfig

	Debug  bool
	Logger zerolog.Logger

	// UserAgent is sent when the call carries no User-Agent header.
	UserAgent string
}

// Option configures a Transport.
type Option func(*internalConfig)

func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:     DefaultConfig(),
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Propagators: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		Logger:    zerolog.New(os.Stdout).With().Timestamp().Logger(),
		UserAgent: "relay-go",
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)

	// A failed instrument registration leaves the recorders as no-ops.
	cfg.Metrics, _ = newMetrics(cfg.MeterProvider.Meter(scope))

	return cfg
}

func (cfg *internalConfig) buildTransport() *http.Transport {
	hc := cfg.httpConfig

	dialer := &net.Dialer{
		Timeout:   hc.DialTimeout,
		KeepAlive: hc.KeepAlive,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          hc.MaxIdleConns,
		MaxIdleConnsPerHost:   hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:       hc.MaxConnsPerHost,
		IdleConnTimeout:       hc.IdleConnTimeout,
		TLSHandshakeTimeout:   hc.TLSHandshakeTimeout,
		ResponseHeaderTimeout: hc.ResponseHeaderTimeout,
		TLSClientConfig:       cfg.TLSConfig,
		ForceAttemptHTTP2:     hc.ForceHTTP2,
		Proxy:                 http.ProxyFromEnvironment,
	}
	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	}

	return transport
}

func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	if cfg.ServiceName == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String("http.client.name", cfg.ServiceName)}
}

// WithConfig sets the connection settings.
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithServiceName identifies this transport in traces and metrics and
// names its circuit breaker.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
// Default: otel.GetTracerProvider()
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider.
// Default: otel.GetMeterProvider()
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithPropagators sets the propagators used to inject trace context into
// outgoing requests.
// Default: W3C TraceContext and Baggage
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		cfg.Propagators = p
	}
}

// WithTLSConfig sets a custom TLS configuration, e.g. for providers that
// require client certificates.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithProxyURL routes every request through proxyURL instead of the
// HTTP_PROXY/HTTPS_PROXY environment.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyURL = proxyURL
	}
}

// WithRoundTripper replaces the built http.Transport. The breaker,
// throttle and instrumentation layers still wrap it.
//
// Example:
//
//	mock := httptransport.NewMockTransport().StubJSON(http.StatusOK, `{"id":"1"}`)
//	t := httptransport.New(httptransport.WithRoundTripper(mock))
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.BaseRoundTripper = rt
	}
}

// WithBreaker enables a circuit breaker in front of the provider.
//
// Example:
//
//	httptransport.WithBreaker(httptransport.DefaultBreakerConfig())
//
//	// Shared across instances through Redis:
//	store := httptransport.NewRedisStore(rdb)
//	httptransport.WithBreaker(httptransport.DistributedBreakerConfig(store))
func WithBreaker(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &bc
	}
}

// WithThrottle paces outgoing requests with a token bucket. This smooths
// bursts; the provider quota itself is enforced by the service rate limiter.
func WithThrottle(tc ThrottleConfig) Option {
	return func(cfg *internalConfig) {
		cfg.ThrottleConfig = &tc
	}
}

// WithDebug logs every request and response at debug level, including an
// equivalent cURL command with credentials masked.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Debug = enabled
	}
}

// WithLogger sets the logger used for debug output.
// Default: JSON to stdout with timestamps
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithUserAgent sets the User-Agent sent when a call does not set one.
// Default: "relay-go"
func WithUserAgent(ua string) Option {
	return func(cfg *internalConfig) {
		cfg.UserAgent = ua
	}
}
