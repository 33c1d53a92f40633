package apicall

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for the call pipeline.
//
// Typed errors below wrap these, so callers can always match with errors.Is:
//
//	if errors.Is(err, apicall.ErrLocalRateLimitExceeded) {
//	    // back off
//	}
var (
	// ErrEndpointNotFound is returned when Call names an unregistered endpoint.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrAuthStrategyNotConfigured is returned when the resolved auth type has
	// no strategy instance on the service.
	ErrAuthStrategyNotConfigured = errors.New("auth strategy not configured")

	// ErrMissingPathParameter is returned when a URL placeholder has no value.
	ErrMissingPathParameter = errors.New("missing path parameter")

	// ErrInvalidMethod is returned when the call method is not a supported verb.
	ErrInvalidMethod = errors.New("invalid method")

	// ErrInvalidAuthParams is returned when required credential fields are absent.
	ErrInvalidAuthParams = errors.New("invalid auth params")

	// ErrLocalRateLimitExceeded is returned when the local window quota is spent.
	// No network call is attempted.
	ErrLocalRateLimitExceeded = errors.New("local rate limit exceeded")

	// ErrAuthenticationFailed is terminal: either the provider rejected the
	// credentials or a retry was signalled on an attempt that was already a retry.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrDuplicateEndpoint is returned at construction when one declaration
	// table names the same endpoint twice.
	ErrDuplicateEndpoint = errors.New("duplicate endpoint")

	// ErrResponseAlreadySet is returned when a second response is recorded on
	// the same APICall.
	ErrResponseAlreadySet = errors.New("response already set for this attempt")
)

// MissingPathParameterError reports the placeholder that could not be filled.
type MissingPathParameterError struct {
	Template string
	Param    string
}

func (e *MissingPathParameterError) Error() string {
	return fmt.Sprintf("%s: %q in %q", ErrMissingPathParameter, e.Param, e.Template)
}

func (e *MissingPathParameterError) Is(target error) bool {
	return target == ErrMissingPathParameter
}

// InvalidAuthParamsError lists the credential fields a strategy required but
// did not find.
type InvalidAuthParamsError struct {
	Strategy AuthType
	Missing  []string
}

func (e *InvalidAuthParamsError) Error() string {
	return fmt.Sprintf("%s: strategy %q requires %s",
		ErrInvalidAuthParams, e.Strategy, strings.Join(e.Missing, ", "))
}

func (e *InvalidAuthParamsError) Is(target error) bool {
	return target == ErrInvalidAuthParams
}

// RateLimitError carries the APICall rejected by the local limiter.
type RateLimitError struct {
	Call  *APICall
	Limit int
}

func (e *RateLimitError) Error() string {
	name := ""
	if e.Call != nil && e.Call.Endpoint != nil {
		name = e.Call.Endpoint.Name
	}
	return fmt.Sprintf("%s: %d calls per window (endpoint %q)", ErrLocalRateLimitExceeded, e.Limit, name)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrLocalRateLimitExceeded
}

// TransportError is the structured failure a Transport returns for a
// non-success provider response. Data holds the decoded error body.
type TransportError struct {
	Status  int
	Headers http.Header
	Data    any

	// Err is the underlying cause, if any (network failure, decode failure).
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		if e.Status == 0 {
			return "transport error: " + e.Err.Error()
		}
		return fmt.Sprintf("transport error: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transport error: status %d %s", e.Status, http.StatusText(e.Status))
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Response converts the error payload into a Response value.
func (e *TransportError) Response() *Response {
	return &Response{Status: e.Status, Headers: e.Headers, Data: e.Data}
}

// StatusCode extracts the provider status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

// DefaultIsAPIError classifies any *TransportError as a provider API error.
func DefaultIsAPIError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// DefaultHumanizeError renders err as a short message suitable for end users.
func DefaultHumanizeError(err error) string {
	if err == nil {
		return ""
	}

	var te *TransportError
	switch {
	case errors.Is(err, ErrLocalRateLimitExceeded):
		return "Too many requests. Please try again later."
	case errors.Is(err, ErrAuthenticationFailed):
		return "Authentication with the provider failed. Please reconnect your account."
	case errors.Is(err, ErrInvalidAuthParams):
		return "Missing credentials for this provider."
	case errors.Is(err, ErrEndpointNotFound), errors.Is(err, ErrAuthStrategyNotConfigured):
		return "This operation is not supported by the provider integration."
	case errors.Is(err, ErrMissingPathParameter), errors.Is(err, ErrInvalidMethod):
		return "The request could not be built."
	case errors.As(err, &te) && te.Status >= 500:
		return "The provider is currently unavailable."
	case errors.As(err, &te) && te.Status > 0:
		return fmt.Sprintf("The provider rejected the request (HTTP %d).", te.Status)
	default:
		return err.Error()
	}
}
