package httptransport_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/kroma-labs/relay-go/apicall"
	"github.com/kroma-labs/relay-go/httptransport"
)

func TestService_OverHTTPTransport(t *testing.T) {
	var (
		tokenRequests atomic.Int32
		apiRequests   atomic.Int32
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"fresh","refresh_token":"r2","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("GET /v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		apiRequests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"token expired"}`)
			return
		}
		_, _ = io.WriteString(w, `{"profile":{"login":"ada","emails":[{"address":"ada@example.com"}]},"id":`+
			`"`+r.PathValue("id")+`"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tr := httptransport.New(
		httptransport.WithServiceName("acme"),
		httptransport.WithLogger(zerolog.Nop()),
		httptransport.WithBreaker(httptransport.DefaultBreakerConfig()),
	)

	var persisted apicall.AuthParams
	strategy := apicall.NewRefreshableBearerToken(
		apicall.OAuth2Refresher(&oauth2.Config{
			ClientID: "client",
			Endpoint: oauth2.Endpoint{TokenURL: server.URL + "/oauth/token", AuthStyle: oauth2.AuthStyleInParams},
		}),
		apicall.WithRefreshCallback(func(_ context.Context, _ *apicall.APICall, p apicall.AuthParams) {
			persisted = p
		}),
	)

	svc, err := apicall.New(
		apicall.WithName("Acme"),
		apicall.WithBaseURL(server.URL+"/v1"),
		apicall.WithDefaultAuth(apicall.AuthRefreshableBearer),
		apicall.WithAuthStrategies(strategy),
		apicall.WithTransport(tr),
		apicall.WithLogger(zerolog.Nop()),
		apicall.WithEndpoints(apicall.Endpoint{
			Name:   "getUser",
			Method: http.MethodGet,
			URL:    "/users/:id",
			Normalize: apicall.Mapping{
				"id":         "id",
				"login":      "profile.login",
				"firstEmail": "profile.emails.0.address",
			},
		}),
	)
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, tr.HTTPClient())
	resp, err := svc.Call(ctx, "getUser", apicall.Params{
		PathParams: map[string]string{"id": "42"},
		Auth:       apicall.AuthParams{apicall.AuthAccessToken: "stale", apicall.AuthRefreshToken: "r1"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, map[string]any{
		"id":         "42",
		"login":      "ada",
		"firstEmail": "ada@example.com",
	}, resp.Data)
	assert.Equal(t, int32(1), tokenRequests.Load())
	assert.Equal(t, int32(2), apiRequests.Load())
	assert.Equal(t, "fresh", persisted[apicall.AuthAccessToken])
	assert.Equal(t, "r2", persisted[apicall.AuthRefreshToken])

	type user struct {
		ID         string `json:"id"`
		Login      string `json:"login"`
		FirstEmail string `json:"firstEmail"`
	}
	var u user
	require.NoError(t, apicall.DecodeData(resp, &u))
	assert.Equal(t, user{ID: "42", Login: "ada", FirstEmail: "ada@example.com"}, u)
}

func TestService_ProviderErrorSurfaces(t *testing.T) {
	mock := httptransport.NewMockTransport().
		StubPath("/v1/orders", http.StatusUnprocessableEntity, `{"message":"amount must be positive"}`)

	svc, err := apicall.New(
		apicall.WithName("Shop"),
		apicall.WithBaseURL("https://shop.test/v1"),
		apicall.WithTransport(httptransport.New(
			httptransport.WithRoundTripper(mock),
			httptransport.WithLogger(zerolog.Nop()),
		)),
		apicall.WithLogger(zerolog.Nop()),
		apicall.WithEndpoints(apicall.Endpoint{Name: "createOrder", Method: http.MethodPost, URL: "/orders"}),
	)
	require.NoError(t, err)

	_, err = svc.Call(context.Background(), "createOrder", apicall.Params{
		Payload: map[string]any{"amount": -1},
	})

	var te *apicall.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnprocessableEntity, te.Status)
	assert.Equal(t, map[string]any{"message": "amount must be positive"}, te.Data)

	rec, ok := mock.LastRequest()
	require.True(t, ok)
	assert.JSONEq(t, `{"amount":-1}`, string(rec.Body))
	assert.Equal(t, "application/json", rec.Header.Get("Content-Type"))
}
