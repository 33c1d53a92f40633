package apicall

import (
	"context"
	"fmt"
	"maps"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// DispatchFunc replaces the generic Transport for one endpoint, e.g. when an
// adapter calls a vendor SDK directly instead of issuing an HTTP request.
type DispatchFunc func(ctx context.Context, svc *Service, call *APICall) (*Response, error)

// Endpoint is the static descriptor of one remote operation.
//
// Endpoints are declared as plain tables and frozen by the service at
// construction:
//
//	var userEndpoints = []apicall.Endpoint{
//	    {Name: "getUser", Method: http.MethodGet, URL: "/users/:userId"},
//	    {Name: "token", Method: http.MethodPost, URL: "https://auth.example.com/token",
//	        Auth: apicall.AuthNone,
//	        Normalize: apicall.Mapping{"accessToken": "tokens.access_token"}},
//	}
type Endpoint struct {
	// Name is unique per service and forms the event name.
	Name string

	// Method is the HTTP verb.
	Method string

	// URL is an absolute URL or a path relative to the service base URL,
	// with optional "/:name" placeholders.
	URL string

	// Auth overrides the service default auth strategy when set.
	Auth AuthType

	// Headers are static headers; they win over service default headers.
	Headers map[string]string

	// Normalize reshapes the raw response payload. Nil passes it through.
	Normalize NormalizationRule

	// Dispatch, when set, is used instead of the service Transport.
	Dispatch DispatchFunc
}

func (e Endpoint) clone() *Endpoint {
	e.Headers = maps.Clone(e.Headers)
	if m, ok := e.Normalize.(Mapping); ok {
		e.Normalize = maps.Clone(m)
	}
	return &e
}

// registry is the frozen name -> descriptor map of a service.
type registry struct {
	endpoints map[string]*Endpoint
}

// buildRegistry merges declaration tables ordered from least to most derived.
//
// A later table overrides an earlier one for the same name, but names must be
// unique inside a single table. Every explicit Auth must have a strategy in
// strategies. All problems are reported together.
func buildRegistry(strategies map[AuthType]AuthStrategy, tables ...[]Endpoint) (*registry, error) {
	var result *multierror.Error

	endpoints := make(map[string]*Endpoint)
	for level, table := range tables {
		seen := make(map[string]struct{}, len(table))
		for _, decl := range table {
			if decl.Name == "" {
				result = multierror.Append(result, fmt.Errorf("declaration table %d: endpoint without name", level))
				continue
			}
			if _, dup := seen[decl.Name]; dup {
				result = multierror.Append(result, fmt.Errorf("%w: %q in declaration table %d",
					ErrDuplicateEndpoint, decl.Name, level))
				continue
			}
			seen[decl.Name] = struct{}{}
			endpoints[decl.Name] = decl.clone()
		}
	}

	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ep := endpoints[name]
		if ep.Auth == "" {
			continue
		}
		if _, ok := strategies[ep.Auth]; !ok {
			result = multierror.Append(result, fmt.Errorf("%w: endpoint %q declares %q",
				ErrAuthStrategyNotConfigured, name, ep.Auth))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &registry{endpoints: endpoints}, nil
}

func (r *registry) lookup(name string) (*Endpoint, error) {
	ep, ok := r.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEndpointNotFound, name)
	}
	return ep, nil
}

func (r *registry) names() []string {
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
