package apicall

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refreshService(t *testing.T, transport Transport, strategy *RefreshableBearerToken, opts ...Option) *Service {
	t.Helper()
	base := []Option{
		WithDefaultAuth(AuthRefreshableBearer),
		WithAuthStrategies(strategy),
		WithEndpoints(Endpoint{Name: "getUserDetails", Method: http.MethodGet, URL: "/users/:userId/details"}),
		WithTransport(transport),
	}
	return newTestService(t, append(base, opts...)...)
}

func TestRefreshableBearerToken_RefreshAndRetry(t *testing.T) {
	t.Run("given expired token, then refreshes and dispatches exactly twice", func(t *testing.T) {
		transport := (&recordingTransport{}).
			respond(nil, unauthorized()).
			respond(&Response{Status: http.StatusOK, Data: map[string]any{"id": "123"}}, nil)

		var refreshedWith AuthParams
		var persisted AuthParams
		strategy := NewRefreshableBearerToken(
			func(_ context.Context, auth AuthParams) (AuthParams, error) {
				refreshedWith = auth
				return AuthParams{AuthAccessToken: "new-token"}, nil
			},
			WithRefreshCallback(func(_ context.Context, _ *APICall, p AuthParams) {
				persisted = p
			}),
		)
		svc := refreshService(t, transport, strategy)

		resp, err := svc.Call(context.Background(), "getUserDetails", Params{
			PathParams: map[string]string{"userId": "123"},
			Auth:       AuthParams{AuthAccessToken: "old-token", AuthRefreshToken: "r1"},
		})

		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": "123"}, resp.Data)
		require.Equal(t, 2, transport.calls())
		assert.Equal(t, "Bearer old-token", transport.requests[0].Headers.Get("Authorization"))
		assert.Equal(t, "Bearer new-token", transport.requests[1].Headers.Get("Authorization"))
		assert.Equal(t, "r1", transport.requests[1].Auth[AuthRefreshToken])
		assert.Equal(t, "old-token", refreshedWith[AuthAccessToken])
		assert.Equal(t, AuthParams{AuthAccessToken: "new-token"}, persisted)
	})

	t.Run("given retry also fails with expired token, then fails with authentication failed", func(t *testing.T) {
		transport := (&recordingTransport{}).respond(nil, unauthorized())

		var refreshes atomic.Int32
		strategy := NewRefreshableBearerToken(func(context.Context, AuthParams) (AuthParams, error) {
			refreshes.Add(1)
			return AuthParams{AuthAccessToken: "new-token"}, nil
		})
		svc := refreshService(t, transport, strategy)

		_, err := svc.Call(context.Background(), "getUserDetails", Params{
			PathParams: map[string]string{"userId": "1"},
			Auth:       AuthParams{AuthAccessToken: "old"},
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
		assert.Equal(t, 2, transport.calls())
		assert.Equal(t, int32(2), refreshes.Load())
	})

	t.Run("given refresh fails, then fails with authentication failed and no retry", func(t *testing.T) {
		transport := (&recordingTransport{}).respond(nil, unauthorized())
		refreshErr := errors.New("invalid_grant")
		strategy := NewRefreshableBearerToken(func(context.Context, AuthParams) (AuthParams, error) {
			return nil, refreshErr
		})
		svc := refreshService(t, transport, strategy)

		_, err := svc.Call(context.Background(), "getUserDetails", Params{
			PathParams: map[string]string{"userId": "1"},
			Auth:       AuthParams{AuthAccessToken: "old"},
		})

		assert.ErrorIs(t, err, ErrAuthenticationFailed)
		assert.ErrorIs(t, err, refreshErr)
		assert.Equal(t, 1, transport.calls())
	})

	t.Run("given non expired provider error, then no refresh happens", func(t *testing.T) {
		notFound := &TransportError{Status: http.StatusNotFound}
		transport := (&recordingTransport{}).respond(nil, notFound)

		var refreshes atomic.Int32
		strategy := NewRefreshableBearerToken(func(context.Context, AuthParams) (AuthParams, error) {
			refreshes.Add(1)
			return AuthParams{AuthAccessToken: "x"}, nil
		})
		svc := refreshService(t, transport, strategy)

		_, err := svc.Call(context.Background(), "getUserDetails", Params{
			PathParams: map[string]string{"userId": "1"},
			Auth:       AuthParams{AuthAccessToken: "old"},
		})

		assert.ErrorIs(t, err, notFound)
		assert.Equal(t, 1, transport.calls())
		assert.Zero(t, refreshes.Load())
	})

	t.Run("given custom expired classifier, then uses it", func(t *testing.T) {
		forbidden := &TransportError{Status: http.StatusForbidden}
		transport := (&recordingTransport{}).
			respond(nil, forbidden).
			respond(&Response{Status: http.StatusOK}, nil)

		strategy := NewRefreshableBearerToken(
			func(context.Context, AuthParams) (AuthParams, error) {
				return AuthParams{AuthAccessToken: "new"}, nil
			},
			WithExpiredClassifier(func(_ *APICall, err error) bool {
				return StatusCode(err) == http.StatusForbidden
			}),
		)
		svc := refreshService(t, transport, strategy)

		_, err := svc.Call(context.Background(), "getUserDetails", Params{
			PathParams: map[string]string{"userId": "1"},
			Auth:       AuthParams{AuthAccessToken: "old"},
		})

		require.NoError(t, err)
		assert.Equal(t, 2, transport.calls())
	})

	t.Run("given overwrite URL, then retry keeps it", func(t *testing.T) {
		transport := (&recordingTransport{}).
			respond(nil, unauthorized()).
			respond(&Response{Status: http.StatusOK}, nil)
		strategy := NewRefreshableBearerToken(func(context.Context, AuthParams) (AuthParams, error) {
			return AuthParams{AuthAccessToken: "new"}, nil
		})
		svc := refreshService(t, transport, strategy)

		_, err := svc.Call(context.Background(), "getUserDetails", Params{
			Auth: AuthParams{AuthAccessToken: "old"},
		}, WithOverwriteURL("https://api.acme.test/v1/next?page=2"))

		require.NoError(t, err)
		require.Equal(t, 2, transport.calls())
		assert.Equal(t, "https://api.acme.test/v1/next?page=2", transport.requests[1].URL)
	})
}

func TestRefreshableBearerToken_BackOff(t *testing.T) {
	t.Run("given transient refresh failures, then retries refresh within max tries", func(t *testing.T) {
		transport := (&recordingTransport{}).
			respond(nil, unauthorized()).
			respond(&Response{Status: http.StatusOK}, nil)

		var attempts atomic.Int32
		strategy := NewRefreshableBearerToken(
			func(context.Context, AuthParams) (AuthParams, error) {
				if attempts.Add(1) < 3 {
					return nil, errors.New("temporarily unavailable")
				}
				return AuthParams{AuthAccessToken: "new"}, nil
			},
			WithRefreshBackOff(func() backoff.BackOff {
				return backoff.NewConstantBackOff(time.Millisecond)
			}, 3),
		)
		svc := refreshService(t, transport, strategy)

		_, err := svc.Call(context.Background(), "getUserDetails", Params{
			PathParams: map[string]string{"userId": "1"},
			Auth:       AuthParams{AuthAccessToken: "old"},
		})

		require.NoError(t, err)
		assert.Equal(t, int32(3), attempts.Load())
		assert.Equal(t, 2, transport.calls())
	})
}

func TestRefreshableBearerToken_Coalescing(t *testing.T) {
	t.Run("given concurrent expired calls with coalescing, then refresh runs once", func(t *testing.T) {
		const callers = 5

		var (
			refreshes atomic.Int32
			release   = make(chan struct{})
			arrived   sync.WaitGroup
		)
		arrived.Add(callers)

		transport := TransportFunc(func(_ context.Context, req *Request) (*Response, error) {
			if req.Headers.Get("Authorization") == "Bearer old" {
				arrived.Done()
				return nil, unauthorized()
			}
			return &Response{Status: http.StatusOK}, nil
		})

		strategy := NewRefreshableBearerToken(
			func(context.Context, AuthParams) (AuthParams, error) {
				refreshes.Add(1)
				<-release
				return AuthParams{AuthAccessToken: "new"}, nil
			},
			WithRefreshCoalescing(),
		)
		svc := refreshService(t, transport, strategy)

		var wg sync.WaitGroup
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.Call(context.Background(), "getUserDetails", Params{
					PathParams: map[string]string{"userId": "1"},
					Auth:       AuthParams{AuthAccessToken: "old", AuthRefreshToken: "r1"},
				})
			}(i)
		}

		arrived.Wait()
		// Callers that received 401 are now blocked in, or about to join, the shared refresh.
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, int32(1), refreshes.Load())
	})

	t.Run("given concurrent expired calls without coalescing, then each refreshes", func(t *testing.T) {
		const callers = 3

		var refreshes atomic.Int32
		transport := TransportFunc(func(_ context.Context, req *Request) (*Response, error) {
			if req.Headers.Get("Authorization") == "Bearer old" {
				return nil, unauthorized()
			}
			return &Response{Status: http.StatusOK}, nil
		})
		strategy := NewRefreshableBearerToken(func(context.Context, AuthParams) (AuthParams, error) {
			refreshes.Add(1)
			return AuthParams{AuthAccessToken: "new"}, nil
		})
		svc := refreshService(t, transport, strategy)

		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Call(context.Background(), "getUserDetails", Params{
					PathParams: map[string]string{"userId": "1"},
					Auth:       AuthParams{AuthAccessToken: "old", AuthRefreshToken: "r1"},
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(callers), refreshes.Load())
	})
}
