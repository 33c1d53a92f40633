package apicall

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
)

// RefreshFunc exchanges the current credentials for fresh ones. The returned
// params are overlaid on the current ones, so a refresh that only issues a
// new access token keeps the existing refresh token.
type RefreshFunc func(ctx context.Context, auth AuthParams) (AuthParams, error)

// RefreshCallback is invoked after a successful refresh, e.g. to persist the
// new tokens.
type RefreshCallback func(ctx context.Context, call *APICall, refreshed AuthParams)

// RefreshableBearerToken is a BearerToken that refreshes an expired access
// token and retries the call once with the new token.
//
// Example:
//
//	strategy := apicall.NewRefreshableBearerToken(
//	    apicall.OAuth2Refresher(oauthConfig),
//	    apicall.WithRefreshCallback(func(ctx context.Context, _ *apicall.APICall, p apicall.AuthParams) {
//	        store.Save(ctx, p)
//	    }),
//	)
type RefreshableBearerToken struct {
	AuthPolicy

	refresh      RefreshFunc
	isExpired    AuthErrorClassifier
	onRefreshed  RefreshCallback
	newBackOff   func() backoff.BackOff
	maxTries     uint
	coalesce     bool
	refreshGroup singleflight.Group
}

// RefreshOption configures a RefreshableBearerToken.
type RefreshOption func(*RefreshableBearerToken)

// WithExpiredClassifier replaces the expired-token check.
// Default: the provider answered 401 Unauthorized.
func WithExpiredClassifier(fn AuthErrorClassifier) RefreshOption {
	return func(r *RefreshableBearerToken) {
		r.isExpired = fn
	}
}

// WithRefreshCallback registers a callback run after each successful refresh.
func WithRefreshCallback(fn RefreshCallback) RefreshOption {
	return func(r *RefreshableBearerToken) {
		r.onRefreshed = fn
	}
}

// WithRefreshBackOff retries a failing refresh call up to maxTries times.
// The API call itself is still retried at most once.
func WithRefreshBackOff(newBackOff func() backoff.BackOff, maxTries uint) RefreshOption {
	return func(r *RefreshableBearerToken) {
		r.newBackOff = newBackOff
		r.maxTries = maxTries
	}
}

// WithRefreshCoalescing shares one in-flight refresh between concurrent calls
// presenting the same refresh token. Off by default: every expired call
// refreshes independently.
func WithRefreshCoalescing() RefreshOption {
	return func(r *RefreshableBearerToken) {
		r.coalesce = true
	}
}

// WithAuthErrorPolicy sets the classifier and handler used for errors that
// are not an expired token.
func WithAuthErrorPolicy(p AuthPolicy) RefreshOption {
	return func(r *RefreshableBearerToken) {
		r.AuthPolicy = p
	}
}

// NewRefreshableBearerToken creates the strategy around refresh.
func NewRefreshableBearerToken(refresh RefreshFunc, opts ...RefreshOption) *RefreshableBearerToken {
	r := &RefreshableBearerToken{
		refresh:   refresh,
		isExpired: IsUnauthorized,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsUnauthorized reports whether err is a provider 401 response.
func IsUnauthorized(_ *APICall, err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

func (*RefreshableBearerToken) Type() AuthType { return AuthRefreshableBearer }

func (*RefreshableBearerToken) Execute(_ context.Context, call *APICall) (*APICall, error) {
	return attachBearer(AuthRefreshableBearer, call)
}

// OnAPIError refreshes and signals a retry when err is an expired token.
// Any other error goes through the embedded AuthPolicy.
func (r *RefreshableBearerToken) OnAPIError(
	ctx context.Context,
	svc *Service,
	call *APICall,
	err error,
) (Outcome, error) {
	if r.isExpired == nil || !r.isExpired(call, err) {
		return r.AuthPolicy.OnAPIError(ctx, svc, call, err)
	}

	svc.logger(call).Info().Err(err).Msg("access token expired, refreshing")

	refreshed, rerr := r.refreshAccessToken(ctx, call.Params.Auth)
	svc.cfg.metrics.recordRefresh(ctx, svc.metricAttrs(call.Endpoint.Name), rerr == nil)
	if rerr != nil {
		return Bubble(), fmt.Errorf("%w: refresh access token: %w", ErrAuthenticationFailed, rerr)
	}

	auth := call.Params.Auth.Clone()
	if auth == nil {
		auth = make(AuthParams, len(refreshed))
	}
	for k, v := range refreshed {
		auth[k] = v
	}

	next, berr := svc.BuildAPICall(ctx, call.Endpoint.Name, call.Params.WithAuth(auth), call.OverwriteURL)
	if berr != nil {
		return Bubble(), berr
	}

	if r.onRefreshed != nil {
		r.onRefreshed(ctx, call, refreshed)
	}
	return Retry(next), nil
}

func (r *RefreshableBearerToken) refreshAccessToken(ctx context.Context, auth AuthParams) (AuthParams, error) {
	if r.refresh == nil {
		return nil, fmt.Errorf("%w: no refresh function configured", ErrInvalidAuthParams)
	}

	if !r.coalesce {
		return r.refreshWithBackOff(ctx, auth)
	}

	key := auth[AuthRefreshToken]
	if key == "" {
		key = auth[AuthAccessToken]
	}
	v, err, _ := r.refreshGroup.Do(key, func() (any, error) {
		return r.refreshWithBackOff(ctx, auth)
	})
	if err != nil {
		return nil, err
	}
	// Callers overlay the result onto their own params; hand each one a copy.
	return v.(AuthParams).Clone(), nil
}

func (r *RefreshableBearerToken) refreshWithBackOff(ctx context.Context, auth AuthParams) (AuthParams, error) {
	if r.newBackOff == nil || r.maxTries <= 1 {
		return r.refresh(ctx, auth.Clone())
	}
	return backoff.Retry(ctx, func() (AuthParams, error) {
		return r.refresh(ctx, auth.Clone())
	}, backoff.WithBackOff(r.newBackOff()), backoff.WithMaxTries(r.maxTries))
}
