package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"nottu-serverless/internal/httpjson"
	"nottu-serverless/internal/observability"
	"nottu-serverless/internal/user"
)

type UserLoader interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

type contextKey struct{}

func WithUser(ctx context.Context, u user.User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

func UserFromContext(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(contextKey{}).(user.User)
	return u, ok
}

// Middleware authenticates the bearer token and attaches the current user to
// the request context. The user row is re-read on every request so deleted
// accounts lose access immediately.
func Middleware(issuer *Issuer, users UserLoader, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			httpjson.WriteError(w, http.StatusUnauthorized, "Access denied. No token provided.")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			httpjson.WriteError(w, http.StatusUnauthorized, "Access denied. No token provided.")
			return
		}

		userID, err := issuer.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				httpjson.WriteError(w, http.StatusUnauthorized, "Token expired.")
				return
			}
			httpjson.WriteError(w, http.StatusUnauthorized, "Invalid token.")
			return
		}

		u, err := users.GetByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				httpjson.WriteError(w, http.StatusUnauthorized, "Invalid token or user not found.")
				return
			}
			observability.CaptureError(logger, "auth_load_user_failed", err, map[string]any{"user_id": userID})
			httpjson.WriteError(w, http.StatusInternalServerError, "Server error during authentication.")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}
