package apicall

import (
	"context"
	"encoding/base64"
	"fmt"
)

// AuthType names an auth strategy on a service.
type AuthType string

// Built-in strategy types.
const (
	AuthNone              AuthType = "none"
	AuthBearer            AuthType = "bearer"
	AuthRefreshableBearer AuthType = "refreshable_bearer"
	AuthCustomHeader      AuthType = "custom_header"
	AuthBasic             AuthType = "basic"
	AuthJWT               AuthType = "jwt"
)

// AuthStrategy attaches credentials to a call and reacts to provider errors.
//
// One instance serves every call of its type on a service, concurrently, so
// implementations must not keep per-call state.
type AuthStrategy interface {
	// Type is the key endpoints use to select this strategy.
	Type() AuthType

	// Execute attaches credentials to call. It fails with ErrInvalidAuthParams
	// when required fields are absent.
	Execute(ctx context.Context, call *APICall) (*APICall, error)

	// OnAPIError classifies a provider error raised by call. A non-nil error
	// means the handler itself failed and ends the invocation with that error.
	OnAPIError(ctx context.Context, svc *Service, call *APICall, err error) (Outcome, error)
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// OutcomeBubble propagates the original provider error.
	OutcomeBubble OutcomeKind = iota
	// OutcomeHandled vetoes propagation.
	OutcomeHandled
	// OutcomeRetry re-dispatches Outcome.Call once.
	OutcomeRetry
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeBubble:
		return "bubble"
	case OutcomeHandled:
		return "handled"
	case OutcomeRetry:
		return "retry"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of an OnAPIError hook.
type Outcome struct {
	Kind OutcomeKind

	// Call is the rebuilt APICall for OutcomeRetry.
	Call *APICall
}

// Bubble lets the original error propagate.
func Bubble() Outcome { return Outcome{Kind: OutcomeBubble} }

// Handled swallows the error; the call completes with the error payload.
func Handled() Outcome { return Outcome{Kind: OutcomeHandled} }

// Retry asks the pipeline to dispatch call once more.
func Retry(call *APICall) Outcome { return Outcome{Kind: OutcomeRetry, Call: call} }

// AuthErrorClassifier reports whether err means the credentials were rejected.
type AuthErrorClassifier func(call *APICall, err error) bool

// AuthErrorHandler reacts to an error classified as auth-related.
type AuthErrorHandler func(ctx context.Context, svc *Service, call *APICall, err error) (Outcome, error)

// AuthPolicy implements the default OnAPIError chain and is meant to be
// embedded by strategies.
//
// The classifier falls back to the service IsAuthError hook, the handler to
// the service OnAuthError hook. With no handler at all an auth error ends the
// call with ErrAuthenticationFailed.
type AuthPolicy struct {
	IsAuthError AuthErrorClassifier
	OnAuthError AuthErrorHandler
}

// OnAPIError implements AuthStrategy.
func (p AuthPolicy) OnAPIError(ctx context.Context, svc *Service, call *APICall, err error) (Outcome, error) {
	classify := p.IsAuthError
	if classify == nil && svc != nil {
		classify = svc.cfg.isAuthError
	}
	if classify == nil || !classify(call, err) {
		return Bubble(), nil
	}

	handle := p.OnAuthError
	if handle == nil && svc != nil {
		handle = svc.cfg.onAuthError
	}
	if handle == nil {
		return Bubble(), fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	return handle(ctx, svc, call, err)
}

// None sends calls without credentials.
type None struct {
	AuthPolicy
}

func (None) Type() AuthType { return AuthNone }

func (None) Execute(_ context.Context, call *APICall) (*APICall, error) {
	return call, nil
}

// BearerToken sends AuthParams["accessToken"] as an Authorization bearer token.
type BearerToken struct {
	AuthPolicy
}

func (BearerToken) Type() AuthType { return AuthBearer }

func (BearerToken) Execute(_ context.Context, call *APICall) (*APICall, error) {
	return attachBearer(AuthBearer, call)
}

func attachBearer(typ AuthType, call *APICall) (*APICall, error) {
	token := call.Request.Auth[AuthAccessToken]
	if token == "" {
		return nil, &InvalidAuthParamsError{Strategy: typ, Missing: []string{AuthAccessToken}}
	}
	call.Request.Headers.Set("Authorization", "Bearer "+token)
	return call, nil
}

// CustomHeaderToken sends a credential in a provider-specific header.
//
// Example:
//
//	apicall.CustomHeaderToken{Header: "X-Api-Key", Param: "apiKey"}
//	apicall.CustomHeaderToken{Header: "Authorization", Prefix: "token "}
type CustomHeaderToken struct {
	AuthPolicy

	// Name overrides the strategy type, allowing several custom headers per service.
	// Default: AuthCustomHeader
	Name AuthType

	// Header receives the credential.
	// Default: "Authorization"
	Header string

	// Param is the AuthParams key holding the credential.
	// Default: "accessToken"
	Param string

	// Prefix is prepended to the credential value.
	Prefix string
}

func (s CustomHeaderToken) Type() AuthType {
	if s.Name != "" {
		return s.Name
	}
	return AuthCustomHeader
}

func (s CustomHeaderToken) Execute(_ context.Context, call *APICall) (*APICall, error) {
	param := s.Param
	if param == "" {
		param = AuthAccessToken
	}
	value := call.Request.Auth[param]
	if value == "" {
		return nil, &InvalidAuthParamsError{Strategy: s.Type(), Missing: []string{param}}
	}
	header := s.Header
	if header == "" {
		header = "Authorization"
	}
	call.Request.Headers.Set(header, s.Prefix+value)
	return call, nil
}

// BasicAuth sends AuthParams username and password as HTTP basic credentials.
type BasicAuth struct {
	AuthPolicy
}

func (BasicAuth) Type() AuthType { return AuthBasic }

func (BasicAuth) Execute(_ context.Context, call *APICall) (*APICall, error) {
	user, pass := call.Request.Auth[AuthUsername], call.Request.Auth[AuthPassword]

	var missing []string
	if user == "" {
		missing = append(missing, AuthUsername)
	}
	if pass == "" {
		missing = append(missing, AuthPassword)
	}
	if len(missing) > 0 {
		return nil, &InvalidAuthParamsError{Strategy: AuthBasic, Missing: missing}
	}

	creds := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	call.Request.Headers.Set("Authorization", "Basic "+creds)
	return call, nil
}
