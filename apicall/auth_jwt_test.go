package apicall

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTBearerToken_Execute(t *testing.T) {
	key := []byte("test-signing-key")
	clock := newFakeClock()

	strategy := JWTBearerToken{
		Method:   jwt.SigningMethodHS256,
		Key:      key,
		TTL:      5 * time.Minute,
		Audience: "https://api.acme.test",
		Clock:    clock,
	}

	t.Run("given issuer, then signs registered claims into a bearer header", func(t *testing.T) {
		call, err := strategy.Execute(context.Background(), newCall(AuthParams{AuthIssuer: "app-42"}))
		require.NoError(t, err)

		header := call.Request.Headers.Get("Authorization")
		require.True(t, strings.HasPrefix(header, "Bearer "))

		claims := &jwt.RegisteredClaims{}
		_, err = jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
			func(*jwt.Token) (any, error) { return key, nil },
			jwt.WithTimeFunc(clock.Now),
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		)
		require.NoError(t, err)

		assert.Equal(t, "app-42", claims.Issuer)
		assert.Equal(t, jwt.ClaimStrings{"https://api.acme.test"}, claims.Audience)
		assert.Equal(t, clock.Now().Unix(), claims.IssuedAt.Unix())
		assert.Equal(t, clock.Now().Add(5*time.Minute).Unix(), claims.ExpiresAt.Unix())
	})

	t.Run("given no TTL, then defaults to ten minutes", func(t *testing.T) {
		s := JWTBearerToken{Method: jwt.SigningMethodHS256, Key: key, Clock: clock}
		call, err := s.Execute(context.Background(), newCall(AuthParams{AuthIssuer: "app"}))
		require.NoError(t, err)

		claims := &jwt.RegisteredClaims{}
		_, _, err = jwt.NewParser().ParseUnverified(
			strings.TrimPrefix(call.Request.Headers.Get("Authorization"), "Bearer "), claims)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
	})

	t.Run("given no issuer, then fails with invalid auth params", func(t *testing.T) {
		_, err := strategy.Execute(context.Background(), newCall(AuthParams{}))
		assert.ErrorIs(t, err, ErrInvalidAuthParams)
	})

	t.Run("given key of the wrong type, then fails to sign", func(t *testing.T) {
		s := JWTBearerToken{Method: jwt.SigningMethodHS256, Key: "not-bytes"}
		_, err := s.Execute(context.Background(), newCall(AuthParams{AuthIssuer: "app"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sign jwt")
	})
}
