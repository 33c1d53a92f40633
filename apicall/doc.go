// Package apicall is a declarative engine for calling third-party REST APIs.
//
// A Service is built from endpoint declaration tables. Each call goes through
// the same pipeline: endpoint lookup, URL resolution, auth attachment, a local
// fixed-window rate limit, dispatch through a Transport, classification of
// provider errors with at most one credential-refresh retry, response
// normalization, and lifecycle events.
//
// # Features
//
//   - Endpoint tables merged from generic to specific, frozen at construction
//   - "/:name" URL templates resolved against the service base URL
//   - Pluggable auth: none, bearer, refreshable bearer, custom header, basic, JWT
//   - OAuth2 refresh-token grants through golang.org/x/oauth2
//   - Local fixed-window rate limiting with overflow reporting
//   - Dot-path mapping or function based response normalization
//   - before/success/error/after events for every call
//   - OpenTelemetry spans and metrics, zerolog logging
//
// # Quick Start
//
//	svc, err := apicall.New(
//	    apicall.WithName("Acme"),
//	    apicall.WithBaseURL("https://api.acme.test/v1"),
//	    apicall.WithDefaultAuth(apicall.AuthRefreshableBearer),
//	    apicall.WithAuthStrategies(
//	        apicall.NewRefreshableBearerToken(apicall.OAuth2Refresher(oauthConfig)),
//	    ),
//	    apicall.WithEndpoints(
//	        apicall.Endpoint{Name: "getUserDetails", Method: http.MethodGet, URL: "/users/:userId/details"},
//	    ),
//	    apicall.WithRateLimit(apicall.RateLimitConfig{Limit: 100, Window: time.Minute}),
//	    apicall.WithTransport(httptransport.New()),
//	)
//	if err != nil {
//	    return err
//	}
//
//	resp, err := svc.Call(ctx, "getUserDetails", apicall.Params{
//	    PathParams: map[string]string{"userId": "123"},
//	    Auth: apicall.AuthParams{
//	        apicall.AuthAccessToken:  accessToken,
//	        apicall.AuthRefreshToken: refreshToken,
//	    },
//	})
//
// # Error Handling
//
// Every failure matches one of the package sentinels with errors.Is.
// Provider responses are surfaced as *TransportError:
//
//	switch {
//	case errors.Is(err, apicall.ErrLocalRateLimitExceeded):
//	    // nothing was sent
//	case errors.Is(err, apicall.ErrAuthenticationFailed):
//	    // ask the user to reconnect
//	case apicall.StatusCode(err) == http.StatusNotFound:
//	    // provider said 404
//	}
//
// # Declarative Endpoints
//
// Endpoint tables can be loaded from YAML, see LoadDeclaration.
package apicall
