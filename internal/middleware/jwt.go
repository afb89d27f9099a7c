// Package middleware provides HTTP middleware components for the API.
// Middleware functions wrap HTTP handlers to provide cross-cutting concerns
// like authentication, logging, metrics, and rate limiting.
//
// Middleware in this package:
//   - Bearer token authentication and role checks
//   - Structured request/response logging with correlation IDs
//   - Prometheus metrics collection
//   - Rate limiting per caller
//
// All middleware is designed to be composable with Chi router.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/services"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey holds the authenticated caller's uuid.UUID.
	UserIDKey contextKey = "user_id"

	// RoleKey holds the caller's role claim.
	RoleKey contextKey = "role"
)

// TokenValidator validates a bearer token. *services.JWTService implements it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*services.Claims, error)
}

// JWTAuth creates middleware that requires a valid bearer token and puts
// the caller's ID and role in the request context.
//
// Usage:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(middleware.JWTAuth(jwtService))
//	    r.Post("/sessions", escortHandler.Activate)
//	})
func JWTAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				log.Warn().Str("path", r.URL.Path).Msg("Missing bearer token")
				utils.RespondWithError(w, r, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				log.Warn().Err(err).Msg("Invalid token")
				utils.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
				return
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				utils.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)

			log.Debug().
				Str("user_id", claims.UserID).
				Str("role", claims.Role).
				Msg("Caller authenticated")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers whose role claim is not role. It must run
// after JWTAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ := GetRole(r.Context())
			if got != role {
				userID, _ := GetUserID(r.Context())
				log.Warn().
					Str("user_id", userID.String()).
					Str("role", got).
					Str("required", role).
					Msg("Forbidden")
				utils.RespondWithError(w, r, http.StatusForbidden, "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetUserID returns the authenticated caller's ID.
//
// Example:
//
//	ownerID, ok := middleware.GetUserID(r.Context())
//	if !ok {
//	    utils.RespondWithError(w, r, http.StatusUnauthorized, "Unauthorized")
//	    return
//	}
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return id, ok
}

// GetRole returns the authenticated caller's role.
func GetRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}
