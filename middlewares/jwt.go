package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type claimsKey struct{}

// JWTConfig configures the JWT middleware.
type JWTConfig struct {
	Issuer         string
	Leeway         time.Duration
	RequireSubject bool
	OnError        ErrorWriter
}

type JWTOption func(*JWTConfig)

// WithJWTIssuer requires the iss claim to equal issuer.
func WithJWTIssuer(issuer string) JWTOption {
	return func(cfg *JWTConfig) {
		cfg.Issuer = issuer
	}
}

// WithJWTSubjectRequired rejects tokens with an empty sub claim as invalid.
func WithJWTSubjectRequired() JWTOption {
	return func(cfg *JWTConfig) {
		cfg.RequireSubject = true
	}
}

func WithJWTLeeway(d time.Duration) JWTOption {
	return func(cfg *JWTConfig) {
		cfg.Leeway = d
	}
}

// WithJWTErrorWriter renders 401 responses. The error is one of
// ErrMissingToken, ErrExpiredToken or ErrInvalidToken.
func WithJWTErrorWriter(fn ErrorWriter) JWTOption {
	return func(cfg *JWTConfig) {
		cfg.OnError = fn
	}
}

// JWT verifies an HS256 bearer token and stores the parsed claims in the
// request context. T is the claims struct; *T must implement jwt.Claims.
// Tokens without exp are rejected.
func JWT[T any, PT interface {
	*T
	jwt.Claims
}](secret []byte, opts ...JWTOption) func(http.Handler) http.Handler {
	cfg := &JWTConfig{OnError: plainError}
	for _, opt := range opts {
		opt(cfg)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(parserOpts...)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				cfg.OnError(w, r, http.StatusUnauthorized, ErrMissingToken)
				return
			}

			claims := PT(new(T))
			if _, err := parser.ParseWithClaims(token, claims, keyFunc); err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					cfg.OnError(w, r, http.StatusUnauthorized, ErrExpiredToken)
					return
				}
				cfg.OnError(w, r, http.StatusUnauthorized, errors.Join(ErrInvalidToken, err))
				return
			}
			if cfg.RequireSubject {
				if sub, err := claims.GetSubject(); err != nil || strings.TrimSpace(sub) == "" {
					cfg.OnError(w, r, http.StatusUnauthorized, errors.Join(ErrInvalidToken, ErrNoSubject))
					return
				}
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetJWTClaims returns the claims stored by JWT[T], or nil.
func GetJWTClaims[T any](ctx context.Context) *T {
	v, _ := ctx.Value(claimsKey{}).(*T)
	return v
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
