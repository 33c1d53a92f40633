package apicall

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2Refresher returns a RefreshFunc performing an OAuth2 refresh-token
// grant against cfg.Endpoint.TokenURL.
//
// The HTTP client used for the token request can be supplied through the
// context, as with any golang.org/x/oauth2 call:
//
//	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
func OAuth2Refresher(cfg *oauth2.Config) RefreshFunc {
	return func(ctx context.Context, auth AuthParams) (AuthParams, error) {
		refreshToken := auth[AuthRefreshToken]
		if refreshToken == "" {
			return nil, &InvalidAuthParamsError{
				Strategy: AuthRefreshableBearer,
				Missing:  []string{AuthRefreshToken},
			}
		}

		// An empty access token is never valid, so the source always refreshes.
		tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return nil, fmt.Errorf("oauth2 refresh: %w", err)
		}

		out := AuthParams{AuthAccessToken: tok.AccessToken}
		if tok.RefreshToken != "" {
			out[AuthRefreshToken] = tok.RefreshToken
		}
		if !tok.Expiry.IsZero() {
			out[AuthExpiresAt] = tok.Expiry.UTC().Format(time.RFC3339)
		}
		return out, nil
	}
}
