package auth

import (
	"net/http"

	"nottu-serverless/internal/httpjson"
	"nottu-serverless/internal/observability"
	"nottu-serverless/internal/user"
)

type Handler struct {
	photos user.PhotoResolver
	logger *observability.Logger
}

func NewHandler(photos user.PhotoResolver, logger *observability.Logger) *Handler {
	return &Handler{photos: photos, logger: logger}
}

// Me returns the profile of the user attached by Middleware.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		httpjson.WriteError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	profile := u.Profile(user.ResolvePhoto(r.Context(), h.photos, h.logger, u))
	createdAt := u.CreatedAt
	profile.CreatedAt = &createdAt

	httpjson.WriteData(w, http.StatusOK, map[string]any{"user": profile})
}
