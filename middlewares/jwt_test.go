package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/middlewares"
)

var testJWTSecret = []byte("test-secret-key-at-least-32-bytes!")

type testClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func claimsFor(sub string, exp time.Duration) testClaims {
	return testClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "provisioner",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(exp)),
		},
		Role: "admin",
	}
}

func TestJWTMiddleware(t *testing.T) {
	t.Parallel()

	var failure error
	mw := middlewares.JWT[testClaims](testJWTSecret,
		middlewares.WithJWTIssuer("provisioner"),
		middlewares.WithJWTErrorWriter(func(w http.ResponseWriter, _ *http.Request, status int, err error) {
			failure = err
			w.WriteHeader(status)
		}),
	)

	call := func(authorization string) (*httptest.ResponseRecorder, *testClaims, error) {
		failure = nil
		var got *testClaims
		h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = middlewares.GetJWTClaims[testClaims](r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		return serve(h, req), got, failure
	}

	t.Run("valid token", func(t *testing.T) {
		rec, got, err := call("Bearer " + sign(t, jwt.SigningMethodHS256, testJWTSecret, claimsFor("user-123", time.Hour)))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, got)
		require.Equal(t, "user-123", got.Subject)
		require.Equal(t, "admin", got.Role)
	})

	t.Run("scheme is case-insensitive", func(t *testing.T) {
		_, got, err := call("bearer " + sign(t, jwt.SigningMethodHS256, testJWTSecret, claimsFor("u", time.Hour)))
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("missing token", func(t *testing.T) {
		rec, got, err := call("")
		require.ErrorIs(t, err, middlewares.ErrMissingToken)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Nil(t, got)

		_, _, err = call("Basic dXNlcjpwYXNz")
		require.ErrorIs(t, err, middlewares.ErrMissingToken)
	})

	t.Run("expired token", func(t *testing.T) {
		_, _, err := call("Bearer " + sign(t, jwt.SigningMethodHS256, testJWTSecret, claimsFor("u", -time.Hour)))
		require.ErrorIs(t, err, middlewares.ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, _, err := call("Bearer " + sign(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), claimsFor("u", time.Hour)))
		require.ErrorIs(t, err, middlewares.ErrInvalidToken)
	})

	t.Run("other algorithm", func(t *testing.T) {
		_, _, err := call("Bearer " + sign(t, jwt.SigningMethodHS512, testJWTSecret, claimsFor("u", time.Hour)))
		require.ErrorIs(t, err, middlewares.ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		c := claimsFor("u", time.Hour)
		c.Issuer = "someone-else"
		_, _, err := call("Bearer " + sign(t, jwt.SigningMethodHS256, testJWTSecret, c))
		require.ErrorIs(t, err, middlewares.ErrInvalidToken)
	})

	t.Run("no expiry", func(t *testing.T) {
		c := claimsFor("u", time.Hour)
		c.ExpiresAt = nil
		_, _, err := call("Bearer " + sign(t, jwt.SigningMethodHS256, testJWTSecret, c))
		require.ErrorIs(t, err, middlewares.ErrInvalidToken)
	})

	t.Run("empty subject accepted by default", func(t *testing.T) {
		_, got, err := call("Bearer " + sign(t, jwt.SigningMethodHS256, testJWTSecret, claimsFor("", time.Hour)))
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := call("Bearer not.a.jwt")
		require.ErrorIs(t, err, middlewares.ErrInvalidToken)
	})
}

func TestJWTSubjectRequired(t *testing.T) {
	t.Parallel()

	var failure error
	mw := middlewares.JWT[testClaims](testJWTSecret,
		middlewares.WithJWTSubjectRequired(),
		middlewares.WithJWTErrorWriter(func(w http.ResponseWriter, _ *http.Request, status int, err error) {
			failure = err
			w.WriteHeader(status)
		}),
	)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, sub := range []string{"", "   "} {
		failure = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, testJWTSecret, claimsFor(sub, time.Hour)))
		rec := serve(h, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.ErrorIs(t, failure, middlewares.ErrInvalidToken)
		require.ErrorIs(t, failure, middlewares.ErrNoSubject)
	}

	failure = nil
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, testJWTSecret, claimsFor("u1", time.Hour)))
	require.Equal(t, http.StatusOK, serve(h, req).Code)
	require.NoError(t, failure)
}
