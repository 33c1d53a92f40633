package apicall

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Declaration is the YAML form of a service: its settings plus one endpoint
// table.
//
// Example:
//
//	service:
//	  name: Github
//	  base_url: https://api.github.com
//	  default_auth: bearer
//	  rate_limit:
//	    limit: 5000
//	    window: 1h
//	endpoints:
//	  - name: getUser
//	    method: GET
//	    url: /users/:login
//	    normalize:
//	      login: login
//	      firstEmail: emails.0.address
type Declaration struct {
	Service   Config         `yaml:"service"`
	Endpoints []EndpointDecl `yaml:"endpoints" validate:"dive"`
}

// EndpointDecl is the YAML form of an Endpoint. Only Mapping normalization
// can be declared; NormalizeFunc and DispatchFunc are attached in code.
type EndpointDecl struct {
	Name      string            `yaml:"name" validate:"required"`
	Method    string            `yaml:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	URL       string            `yaml:"url" validate:"required"`
	Auth      AuthType          `yaml:"auth"`
	Headers   map[string]string `yaml:"headers"`
	Normalize map[string]string `yaml:"normalize" validate:"omitempty,dive,required"`
}

// Endpoint converts the declaration.
func (d EndpointDecl) Endpoint() Endpoint {
	ep := Endpoint{
		Name:    d.Name,
		Method:  d.Method,
		URL:     d.URL,
		Auth:    d.Auth,
		Headers: d.Headers,
	}
	if len(d.Normalize) > 0 {
		ep.Normalize = Mapping(d.Normalize)
	}
	return ep
}

var declValidator = validator.New()

// LoadDeclaration reads and validates a YAML service declaration.
// Missing service settings take their DefaultConfig values.
func LoadDeclaration(r io.Reader) (*Declaration, error) {
	decl := &Declaration{Service: DefaultConfig()}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(decl); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode endpoint declaration: %w", err)
	}

	for i := range decl.Endpoints {
		decl.Endpoints[i].Method = strings.ToUpper(decl.Endpoints[i].Method)
	}

	if err := declValidator.Struct(decl); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("field %s failed rule %q", e.Namespace(), e.Tag()))
			}
			return nil, fmt.Errorf("invalid endpoint declaration: %s", strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("invalid endpoint declaration: %w", err)
	}

	return decl, nil
}

// LoadEndpoints reads a YAML declaration and returns only its endpoint table,
// ready for WithEndpoints.
func LoadEndpoints(r io.Reader) ([]Endpoint, error) {
	decl, err := LoadDeclaration(r)
	if err != nil {
		return nil, err
	}
	return decl.EndpointTable(), nil
}

// EndpointTable converts every declared endpoint.
func (d *Declaration) EndpointTable() []Endpoint {
	out := make([]Endpoint, 0, len(d.Endpoints))
	for _, e := range d.Endpoints {
		out = append(out, e.Endpoint())
	}
	return out
}

// Options returns the options that build a Service from d.
//
//	svc, err := apicall.New(append(decl.Options(),
//	    apicall.WithAuthStrategies(apicall.BearerToken{}),
//	    apicall.WithTransport(httptransport.New()),
//	)...)
func (d *Declaration) Options() []Option {
	return []Option{
		WithConfig(d.Service),
		WithEndpoints(d.EndpointTable()...),
	}
}
