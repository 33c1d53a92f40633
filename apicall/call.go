package apicall

import (
	"maps"
	"net/http"
	"net/url"
)

// Well-known AuthParams keys read by the built-in strategies.
const (
	AuthAccessToken  = "accessToken"
	AuthRefreshToken = "refreshToken"
	AuthUsername     = "username"
	AuthPassword     = "password"
	AuthIssuer       = "issuer"
	AuthExpiresAt    = "expiresAt"
)

// AuthParams holds the per-call credentials handed to an AuthStrategy.
type AuthParams map[string]string

// Clone returns a copy that can be modified independently.
func (a AuthParams) Clone() AuthParams {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// Params is the caller input for one Call.
type Params struct {
	// PathParams fill ":name" placeholders in the endpoint URL template.
	PathParams map[string]string

	// Query is passed to the transport separately, never concatenated into URL.
	Query url.Values

	// Payload is the request body handed to the transport as-is.
	Payload any

	// Headers are merged over service and endpoint headers.
	Headers map[string]string

	// Auth carries credentials for the resolved auth strategy.
	Auth AuthParams
}

// WithAuth returns a copy of p carrying auth instead of p.Auth.
func (p Params) WithAuth(auth AuthParams) Params {
	p.Auth = auth
	return p
}

// Request is the outbound half of an APICall.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Query   url.Values
	Payload any
	Auth    AuthParams
}

// Response is what a Transport or DispatchFunc returns on success.
type Response struct {
	Status  int
	Headers http.Header
	Data    any
}

// APICall is the mutable state of one dispatch attempt.
//
// An APICall belongs to the Call invocation that built it. A retry never
// reuses an APICall: the auth strategy builds a fresh one sharing Endpoint.
type APICall struct {
	// ID correlates logs, spans and events of this attempt.
	ID string

	// Endpoint is the immutable descriptor this call was built from.
	Endpoint *Endpoint

	// Params are the inputs the call was built from, kept for rebuilding.
	Params Params

	// OverwriteURL, when set, was used verbatim instead of the template.
	OverwriteURL string

	// Attempt is 1 for the first dispatch and 2 for the auth retry.
	Attempt int

	Request  Request
	Response *Response
}

// SetResponse records resp on the call. It fails if a response is already set.
func (c *APICall) SetResponse(resp *Response) error {
	if c.Response != nil {
		return ErrResponseAlreadySet
	}
	c.Response = resp
	return nil
}
