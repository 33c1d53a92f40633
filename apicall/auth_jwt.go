package apicall

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTBearerToken signs a short-lived JWT for every attempt and sends it as a
// bearer token. AuthParams["issuer"] becomes the "iss" claim.
//
// This covers providers that authenticate an application with a signed
// assertion instead of a stored token:
//
//	apicall.JWTBearerToken{Method: jwt.SigningMethodRS256, Key: privateKey, TTL: 9 * time.Minute}
type JWTBearerToken struct {
	AuthPolicy

	// Method signs the token.
	Method jwt.SigningMethod

	// Key is the signing key matching Method.
	Key any

	// TTL bounds the token lifetime.
	// Default: 10m
	TTL time.Duration

	// Audience is set as the "aud" claim when not empty.
	Audience string

	// Clock stamps iat/exp. Default: SystemClock
	Clock Clock
}

func (JWTBearerToken) Type() AuthType { return AuthJWT }

func (s JWTBearerToken) Execute(_ context.Context, call *APICall) (*APICall, error) {
	issuer := call.Request.Auth[AuthIssuer]
	if issuer == "" {
		return nil, &InvalidAuthParamsError{Strategy: AuthJWT, Missing: []string{AuthIssuer}}
	}

	clock := s.Clock
	if clock == nil {
		clock = SystemClock
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	now := clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}

	signed, err := jwt.NewWithClaims(s.Method, claims).SignedString(s.Key)
	if err != nil {
		return nil, fmt.Errorf("sign jwt: %w", err)
	}

	call.Request.Headers.Set("Authorization", "Bearer "+signed)
	return call, nil
}
