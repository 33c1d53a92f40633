package eventsink

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kroma-labs/relay-go/apicall"
)

var _ apicall.EventSink = (*PrometheusSink)(nil)

// PrometheusSink counts events per service, endpoint and phase, and failed
// calls per provider status.
//
//	apicall_events_total{service="Github",endpoint="getUser",phase="success"} 12
//	apicall_failures_total{service="Github",endpoint="getUser",status="401"} 1
type PrometheusSink struct {
	events   *prometheus.CounterVec
	failures *prometheus.CounterVec
	gatherer prometheus.Gatherer
}

// PrometheusOption configures a PrometheusSink.
type PrometheusOption func(*promConfig)

type promConfig struct {
	namespace  string
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

// WithNamespace prefixes the metric names. Default "apicall" yields
// apicall_events_total.
func WithNamespace(ns string) PrometheusOption {
	return func(c *promConfig) {
		c.namespace = ns
	}
}

// WithRegistry registers the collectors on reg instead of the default
// registry and serves reg from Handler.
func WithRegistry(reg *prometheus.Registry) PrometheusOption {
	return func(c *promConfig) {
		c.registerer = reg
		c.gatherer = reg
	}
}

// NewPrometheusSink creates and registers the counters. Registering twice on
// the same registry fails with prometheus.AlreadyRegisteredError.
func NewPrometheusSink(opts ...PrometheusOption) (*PrometheusSink, error) {
	cfg := &promConfig{
		namespace:  "apicall",
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "events_total",
			Help:      "API call lifecycle events by service, endpoint and phase.",
		}, []string{"service", "endpoint", "phase"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "failures_total",
			Help:      "Failed API calls by provider status; 0 when the provider never answered.",
		}, []string{"service", "endpoint", "status"}),
		gatherer: cfg.gatherer,
	}

	for _, c := range []prometheus.Collector{s.events, s.failures} {
		if err := cfg.registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) Emit(_ context.Context, event apicall.Event) {
	s.events.WithLabelValues(event.Service, event.Endpoint, string(event.Phase)).Inc()
	if event.Phase == apicall.PhaseError {
		status := strconv.Itoa(apicall.StatusCode(event.Err))
		s.failures.WithLabelValues(event.Service, event.Endpoint, status).Inc()
	}
}

// Handler serves the registry the sink was registered on.
//
//	mux.Handle("/metrics", promSink.Handler())
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}
