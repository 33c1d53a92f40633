package apicall

import (
	"fmt"
	"maps"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Service is one provider integration: a frozen endpoint registry, its auth
// strategies, a local rate limiter and the call pipeline.
//
// Create a Service using New():
//
//	svc, err := apicall.New(
//	    apicall.WithName("Github"),
//	    apicall.WithBaseURL("https://api.github.com"),
//	    apicall.WithDefaultAuth(apicall.AuthBearer),
//	    apicall.WithAuthStrategies(apicall.BearerToken{}),
//	    apicall.WithEndpoints(
//	        apicall.Endpoint{Name: "getUser", Method: http.MethodGet, URL: "/users/:login"},
//	    ),
//	    apicall.WithTransport(httptransport.New()),
//	)
//
//	resp, err := svc.Call(ctx, "getUser", apicall.Params{
//	    PathParams: map[string]string{"login": "octocat"},
//	    Auth:       apicall.AuthParams{apicall.AuthAccessToken: token},
//	})
//
// The registry and strategy map are read-only after New, so a Service is safe
// for concurrent use.
type Service struct {
	cfg        *config
	registry   *registry
	strategies map[AuthType]AuthStrategy
	limiter    *RateLimiter
}

// New builds a Service. It fails if an endpoint declares an auth type with
// no strategy, if two strategies share a type, or if a declaration table
// repeats a name.
func New(opts ...Option) (*Service, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("apicall: init metrics: %w", err)
	}

	strategies, err := buildStrategies(cfg.strategies)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(strategies, cfg.endpointTables...)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:        cfg,
		registry:   reg,
		strategies: strategies,
		limiter:    NewRateLimiter(cfg.RateLimit, cfg.clock, cfg.logger),
	}, nil
}

func buildStrategies(list []AuthStrategy) (map[AuthType]AuthStrategy, error) {
	var result *multierror.Error

	strategies := map[AuthType]AuthStrategy{AuthNone: None{}}
	explicit := make(map[AuthType]struct{}, len(list))
	for _, s := range list {
		if s == nil {
			continue
		}
		typ := s.Type()
		if _, dup := explicit[typ]; dup {
			result = multierror.Append(result, fmt.Errorf("auth strategy %q registered twice", typ))
			continue
		}
		explicit[typ] = struct{}{}
		strategies[typ] = s
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return strategies, nil
}

// Name is the service name used in event names.
func (s *Service) Name() string { return s.cfg.Name }

// BaseURL is the URL relative templates are joined to.
func (s *Service) BaseURL() string { return s.cfg.BaseURL }

// DefaultAuth is the auth type of endpoints that declare none.
func (s *Service) DefaultAuth() AuthType { return s.cfg.DefaultAuth }

// DefaultHeaders returns a copy of the headers sent on every call.
func (s *Service) DefaultHeaders() map[string]string { return maps.Clone(s.cfg.DefaultHeaders) }

// RateLimit returns the configured quota.
func (s *Service) RateLimit() RateLimitConfig { return s.cfg.RateLimit }

// RateLimiter exposes the service limiter, mainly for its Stats.
func (s *Service) RateLimiter() *RateLimiter { return s.limiter }

// Transport returns the configured transport, or nil.
func (s *Service) Transport() Transport { return s.cfg.transport }

// AuthStrategy returns the strategy registered for typ.
func (s *Service) AuthStrategy(typ AuthType) (AuthStrategy, error) {
	st, ok := s.strategies[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAuthStrategyNotConfigured, typ)
	}
	return st, nil
}

// Endpoint returns a copy of the named descriptor.
func (s *Service) Endpoint(name string) (Endpoint, bool) {
	ep, err := s.registry.lookup(name)
	if err != nil {
		return Endpoint{}, false
	}
	return *ep.clone(), true
}

// Endpoints lists registered endpoint names, sorted.
func (s *Service) Endpoints() []string { return s.registry.names() }

// IsAPIError reports whether err is routed through the OnAPIError hooks.
func (s *Service) IsAPIError(err error) bool { return s.cfg.isAPIError(err) }

// HumanizeError translates err for presentation. It plays no part in the
// call control flow.
func (s *Service) HumanizeError(err error) string { return s.cfg.humanize(err) }

func (s *Service) strategyFor(ep *Endpoint) (AuthStrategy, error) {
	typ := ep.Auth
	if typ == "" {
		typ = s.cfg.DefaultAuth
	}
	return s.AuthStrategy(typ)
}

func (s *Service) logger(call *APICall) *zerolog.Logger {
	l := s.cfg.logger.With().
		Str("endpoint", call.Endpoint.Name).
		Str("call_id", call.ID).
		Int("attempt", call.Attempt).
		Logger()
	return &l
}

func (s *Service) metricAttrs(endpoint string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("apicall.service", s.cfg.Name),
		attribute.String("apicall.endpoint", endpoint),
	}
}
