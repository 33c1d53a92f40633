// Package httptransport is the net/http implementation of apicall.Transport.
//
// # Features
//
//   - Connection pool presets: DefaultConfig, BulkSyncConfig, InteractiveConfig
//   - OpenTelemetry client spans with W3C trace context propagation
//   - http.client.* metrics following the OTel HTTP semantic conventions
//   - Circuit breaking through sony/gobreaker, optionally shared via Redis
//   - Token bucket throttling through golang.org/x/time/rate
//   - Debug logging with an equivalent cURL command, credentials masked
//   - MockTransport for tests
//
// # Quick Start
//
//	t := httptransport.New(
//	    httptransport.WithServiceName("github"),
//	    httptransport.WithConfig(httptransport.InteractiveConfig()),
//	    httptransport.WithBreaker(httptransport.DefaultBreakerConfig()),
//	)
//
//	svc, err := apicall.New(
//	    apicall.WithName("Github"),
//	    apicall.WithBaseURL("https://api.github.com"),
//	    apicall.WithTransport(t),
//	    apicall.WithEndpoints(endpoints...),
//	)
//
// # Payloads and Responses
//
// A call payload of []byte, string or io.Reader is sent unchanged, url.Values
// is sent as a form and anything else is encoded as JSON. JSON responses are
// decoded into any (maps, slices, float64, string, bool), other bodies are
// returned as a string.
//
// Responses outside 2xx come back as *apicall.TransportError so that
// authentication strategies can inspect the status and retry. Network
// failures, breaker rejections and throttling are plain errors.
package httptransport
