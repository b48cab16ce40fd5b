package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/middlewares"
	"github.com/dmitrymomot/provisioner/pkg/logger"
)

// Claims is the bearer token payload. sub is the user id; an empty role
// means a regular user.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
	Plan string `json:"plan,omitempty"`
}

// Caller converts the claims into the principal used by the core.
func (c *Claims) Caller() model.Caller {
	role := model.Role(c.Role)
	if role == "" {
		role = model.RoleUser
	}
	return model.Caller{UserID: c.Subject, Role: role, Plan: c.Plan}
}

func callerFromContext(ctx context.Context) model.Caller {
	if c := middlewares.GetJWTClaims[Claims](ctx); c != nil {
		return c.Caller()
	}
	return model.Caller{}
}

func callerOf(r *http.Request) model.Caller {
	return callerFromContext(r.Context())
}

// CallerExtractor adds "user_id" to log entries written with an
// authenticated request context.
func CallerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if c := callerFromContext(ctx); c.UserID != "" {
			return slog.String("user_id", c.UserID), true
		}
		return slog.Attr{}, false
	}
}
