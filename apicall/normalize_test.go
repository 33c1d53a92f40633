package apicall

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupPath(t *testing.T) {
	data := map[string]any{
		"tokens": map[string]any{"access_token": "abc", "expires_in": 3600.0},
		"emails": []any{
			map[string]any{"address": "a@example.com"},
			map[string]any{"address": "b@example.com"},
		},
		"typed": map[string]string{"k": "v"},
		"list":  []string{"x", "y"},
		"null":  nil,
	}

	tests := []struct {
		name   string
		path   string
		want   any
		wantOK bool
	}{
		{name: "given nested map path, then resolves", path: "tokens.access_token", want: "abc", wantOK: true},
		{name: "given slice index, then resolves", path: "emails.1.address", want: "b@example.com", wantOK: true},
		{name: "given typed map, then resolves by reflection", path: "typed.k", want: "v", wantOK: true},
		{name: "given typed slice, then resolves by reflection", path: "list.0", want: "x", wantOK: true},
		{name: "given explicit null value, then resolves to nil", path: "null", want: nil, wantOK: true},
		{name: "given missing key, then not found", path: "tokens.refresh_token"},
		{name: "given index out of range, then not found", path: "emails.5.address"},
		{name: "given non numeric index, then not found", path: "emails.first"},
		{name: "given path through scalar, then not found", path: "tokens.access_token.x"},
		{name: "given path through null, then not found", path: "null.x"},
		{name: "given empty path, then not found", path: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LookupPath(data, tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_Normalize(t *testing.T) {
	raw := map[string]any{
		"tokens": map[string]any{"access_token": "abc"},
		"emails": []any{map[string]any{"address": "a@example.com"}},
	}

	t.Run("given mapping, then builds object from paths", func(t *testing.T) {
		svc := newTestService(t)
		ep := &Endpoint{Name: "token", Normalize: Mapping{
			"accessToken": "tokens.access_token",
			"firstEmail":  "emails.0.address",
		}}

		got, err := svc.Normalize(ep, Params{}, raw)

		require.NoError(t, err)
		assert.Equal(t, map[string]any{"accessToken": "abc", "firstEmail": "a@example.com"}, got)
	})

	t.Run("given mapping path missing, then omits key and logs warning", func(t *testing.T) {
		var buf bytes.Buffer
		svc := newTestService(t, WithLogger(zerolog.New(&buf)))
		ep := &Endpoint{Name: "token", Normalize: Mapping{
			"accessToken":  "tokens.access_token",
			"refreshToken": "tokens.refresh_token",
		}}

		got, err := svc.Normalize(ep, Params{}, raw)

		require.NoError(t, err)
		assert.Equal(t, map[string]any{"accessToken": "abc"}, got)
		assert.Contains(t, buf.String(), `"level":"warn"`)
		assert.Contains(t, buf.String(), `"target":"refreshToken"`)
		assert.Contains(t, buf.String(), `"path":"tokens.refresh_token"`)
		assert.Contains(t, buf.String(), `"endpoint":"token"`)
	})

	t.Run("given function rule, then returns its value verbatim with params", func(t *testing.T) {
		svc := newTestService(t)
		ep := &Endpoint{Name: "token", Normalize: NormalizeFunc(func(s *Service, p Params, raw any) (any, error) {
			return []any{s.Name(), p.PathParams["id"], raw}, nil
		})}

		got, err := svc.Normalize(ep, Params{PathParams: map[string]string{"id": "7"}}, "raw")

		require.NoError(t, err)
		assert.Equal(t, []any{"Acme", "7", "raw"}, got)
	})

	t.Run("given function rule error, then propagates unchanged", func(t *testing.T) {
		svc := newTestService(t)
		sentinel := errors.New("bad payload")
		ep := &Endpoint{Name: "token", Normalize: NormalizeFunc(func(*Service, Params, any) (any, error) {
			return nil, sentinel
		})}

		_, err := svc.Normalize(ep, Params{}, raw)
		assert.Same(t, sentinel, err)
	})

	t.Run("given no rule, then passes raw through", func(t *testing.T) {
		svc := newTestService(t)

		got, err := svc.Normalize(&Endpoint{Name: "x"}, Params{}, raw)

		require.NoError(t, err)
		assert.Equal(t, raw, got)
	})
}

func TestCall_NormalizationFailure(t *testing.T) {
	t.Run("given normalize func fails, then call fails with error events", func(t *testing.T) {
		sentinel := errors.New("cannot normalize")
		events := &eventLog{}
		svc := newTestService(t,
			WithEndpoints(Endpoint{
				Name: "get", Method: http.MethodGet, URL: "/x",
				Normalize: NormalizeFunc(func(*Service, Params, any) (any, error) { return nil, sentinel }),
			}),
			WithTransport(&recordingTransport{}),
			WithEventSink(events),
		)

		_, err := svc.Call(context.Background(), "get", Params{})

		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, []string{"Acme.get.before", "Acme.get.error", "Acme.get.after"}, events.names())
	})
}
