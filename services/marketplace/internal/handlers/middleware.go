package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agendaja/agendaja/libs/auth"
	"github.com/agendaja/agendaja/libs/httpx"
	"github.com/agendaja/agendaja/services/marketplace/internal/booking"
)

type contextKey string

const identityKey contextKey = "identity"

// RequireAuth verifies the Authorization bearer token and stores the
// caller's identity in the request context.
func RequireAuth(jwtSecret string, logger *slog.Logger) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorBody{Message: "missing or invalid credentials"})
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

			claims, err := auth.ParseAndVerifyHS256(token, jwtSecret)
			if err != nil {
				logger.Debug("token rejected", "err", err)
				writeJSON(w, http.StatusUnauthorized, errorBody{Message: "missing or invalid credentials"})
				return
			}

			identity := booking.Identity{UserID: claims.Sub, Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
		})
	}
}

// IdentityFromContext returns the identity stored by RequireAuth; the zero
// Identity means the request never passed through it.
func IdentityFromContext(ctx context.Context) booking.Identity {
	identity, _ := ctx.Value(identityKey).(booking.Identity)
	return identity
}
