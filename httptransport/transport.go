package httptransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/kroma-labs/relay-go/apicall"
)

// Compile-time interface check.
var _ apicall.Transport = (*Transport)(nil)

// Transport is the net/http implementation of apicall.Transport.
//
// Non-2xx responses are returned as *apicall.TransportError carrying the
// status, headers and decoded body, so the call pipeline can classify them.
// Network and decode failures are returned as ordinary wrapped errors.
//
// The round tripper chain, outermost first:
//
//	OpenTelemetry -> throttle -> circuit breaker -> debug log -> http.Transport
type Transport struct {
	client *http.Client
	cfg    *internalConfig
}

// New creates a Transport.
//
// Example:
//
//	t := httptransport.New(
//	    httptransport.WithServiceName("github"),
//	    httptransport.WithBreaker(httptransport.DefaultBreakerConfig()),
//	)
//	svc, err := apicall.New(apicall.WithTransport(t), ...)
func New(opts ...Option) *Transport {
	cfg := newConfig(opts...)

	var rt http.RoundTripper = cfg.BaseRoundTripper
	if rt == nil {
		rt = cfg.buildTransport()
	}
	if cfg.Debug {
		rt = newDebugTransport(rt, cfg)
	}
	rt = newCircuitBreakerTransport(rt, cfg)
	rt = newThrottleTransport(rt, cfg)
	rt = newOtelTransport(rt, cfg)

	return &Transport{
		client: &http.Client{
			Transport: rt,
			Timeout:   cfg.httpConfig.Timeout,
		},
		cfg: cfg,
	}
}

// HTTPClient exposes the instrumented client, e.g. for an oauth2 token
// exchange that should share the same connection pool:
//
//	ctx = context.WithValue(ctx, oauth2.HTTPClient, t.HTTPClient())
func (t *Transport) HTTPClient() *http.Client {
	return t.client
}

// Do sends req and decodes the response body.
func (t *Transport) Do(ctx context.Context, req *apicall.Request) (*apicall.Response, error) {
	httpReq, err := t.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httptransport: %s %s: %w", httpReq.Method, httpReq.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	data, err := t.decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("httptransport: %s %s: status %d: %w",
			httpReq.Method, httpReq.URL.Redacted(), resp.StatusCode, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &apicall.TransportError{Status: resp.StatusCode, Headers: resp.Header, Data: data}
	}

	return &apicall.Response{Status: resp.StatusCode, Headers: resp.Header, Data: data}, nil
}

func (t *Transport) newRequest(ctx context.Context, req *apicall.Request) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("httptransport: parse url: %w", err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vals := range req.Query {
			for _, v := range vals {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	headers := req.Headers.Clone()
	if headers == nil {
		headers = make(http.Header)
	}

	body, contentType, err := encodeBody(req.Payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("httptransport: build request: %w", err)
	}
	httpReq.Header = headers

	if contentType != "" && headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", contentType)
	}
	if headers.Get("Accept") == "" {
		headers.Set("Accept", "application/json")
	}
	if headers.Get("User-Agent") == "" && t.cfg.UserAgent != "" {
		headers.Set("User-Agent", t.cfg.UserAgent)
	}

	return httpReq, nil
}

// encodeBody turns a payload into a request body. Byte slices, strings and
// readers are sent as-is, url.Values as a form, anything else as JSON.
func encodeBody(payload any) (io.Reader, string, error) {
	switch p := payload.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(p), "application/octet-stream", nil
	case string:
		return strings.NewReader(p), "text/plain; charset=utf-8", nil
	case io.Reader:
		return p, "", nil
	case url.Values:
		return strings.NewReader(p.Encode()), "application/x-www-form-urlencoded", nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, "", fmt.Errorf("httptransport: encode json payload: %w", err)
		}
		return bytes.NewReader(b), "application/json", nil
	}
}

// decodeBody reads the response body. JSON is decoded into any, other
// content is returned as a string and an empty body as nil.
func (t *Transport) decodeBody(resp *http.Response) (any, error) {
	var r io.Reader = resp.Body
	if limit := t.cfg.httpConfig.MaxResponseBodyBytes; limit > 0 {
		r = io.LimitReader(resp.Body, limit)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	if !isJSON(resp.Header.Get("Content-Type"), raw) {
		return string(raw), nil
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		// Error pages often claim JSON and aren't; keep them readable.
		if resp.StatusCode >= http.StatusBadRequest {
			return string(raw), nil
		}
		return nil, fmt.Errorf("decode json response: %w", err)
	}
	return data, nil
}

func isJSON(contentType string, raw []byte) bool {
	if contentType == "" {
		return json.Valid(raw)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
