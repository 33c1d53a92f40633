package eventsink

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/relay-go/apicall"
)

// newService builds a service with a single getUser endpoint answered by
// transport and reporting to sink.
func newService(t *testing.T, sink apicall.EventSink, transport apicall.TransportFunc) *apicall.Service {
	t.Helper()
	svc, err := apicall.New(
		apicall.WithName("Acme"),
		apicall.WithBaseURL("https://api.acme.test/v1"),
		apicall.WithLogger(zerolog.Nop()),
		apicall.WithEventSink(sink),
		apicall.WithTransport(transport),
		apicall.WithEndpoints(apicall.Endpoint{Name: "getUser", Method: http.MethodGet, URL: "/users/:id"}),
	)
	require.NoError(t, err)
	return svc
}

func okTransport(_ context.Context, _ *apicall.Request) (*apicall.Response, error) {
	return &apicall.Response{Status: http.StatusOK, Data: map[string]any{"id": "1"}}, nil
}

func notFoundTransport(_ context.Context, _ *apicall.Request) (*apicall.Response, error) {
	return nil, &apicall.TransportError{Status: http.StatusNotFound}
}

func callUser(t *testing.T, svc *apicall.Service, opts ...apicall.CallOption) error {
	t.Helper()
	_, err := svc.Call(context.Background(), "getUser", apicall.Params{
		PathParams: map[string]string{"id": "1"},
		Auth:       apicall.AuthParams{apicall.AuthAccessToken: "secret-token"},
	}, opts...)
	return err
}
