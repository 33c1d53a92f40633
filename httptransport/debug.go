package httptransport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// maskedHeaders never appear in debug output.
var maskedHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
	"X-Api-Key":           true,
}

// debugTransport logs every round trip at debug level along with an
// equivalent cURL command.
type debugTransport struct {
	next http.RoundTripper
	cfg  *internalConfig
}

func newDebugTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	return &debugTransport{next: next, cfg: cfg}
}

func (t *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	logger := t.cfg.Logger.With().Str("service", t.cfg.ServiceName).Logger()

	body, err := peekBody(req)
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Str("curl", curlCommand(req, body)).
		Msg("HTTP request")

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		logger.Debug().Err(err).Dur("duration", time.Since(start)).Msg("HTTP request failed")
		return nil, err
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Int64("content_length", resp.ContentLength).
		Msg("HTTP response")

	return resp, nil
}

// peekBody reads the request body and puts an identical reader back.
func peekBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("httptransport: copy request body: %w", err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("httptransport: read request body: %w", err)
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// curlCommand renders req as a cURL command line with credentials masked.
//
//	curl -X POST 'https://api.example.com/users' -H 'Authorization: ***' -d '{"name":"John"}'
func curlCommand(req *http.Request, body []byte) string {
	parts := []string{"curl"}
	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}
	parts = append(parts, shellQuote(req.URL.Redacted()))

	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range req.Header[k] {
			if maskedHeaders[http.CanonicalHeaderKey(k)] {
				v = "***"
			}
			parts = append(parts, "-H", shellQuote(k+": "+v))
		}
	}

	if len(body) > 0 {
		parts = append(parts, "-d", shellQuote(string(body)))
	}

	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
