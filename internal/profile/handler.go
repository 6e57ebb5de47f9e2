package profile

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"nottu-serverless/internal/auth"
	"nottu-serverless/internal/httpjson"
	"nottu-serverless/internal/media"
	"nottu-serverless/internal/observability"
	"nottu-serverless/internal/user"
)

const photoField = "photo"

type UserStore interface {
	UpdateName(ctx context.Context, id, name string) (user.User, error)
	ReplacePhoto(ctx context.Context, id string, ref *string) (*string, error)
}

type PhotoStore interface {
	PutPhoto(ctx context.Context, key string, data []byte, contentType string) (string, error)
	DeletePhoto(ctx context.Context, ref string) error
	ResolvePhotoURL(ctx context.Context, ref string) (string, error)
}

type Handler struct {
	users  UserStore
	photos PhotoStore
	logger *observability.Logger
}

func NewHandler(users UserStore, photos PhotoStore, logger *observability.Logger) *Handler {
	return &Handler{users: users, photos: photos, logger: logger}
}

type updateNameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) UpdateName(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.UserFromContext(r.Context())
	if !ok {
		httpjson.WriteError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	var req updateNameRequest
	if err := httpjson.DecodeBody(w, r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		httpjson.WriteError(w, http.StatusBadRequest, "Please provide a valid name.")
		return
	}

	updated, err := h.users.UpdateName(r.Context(), current.ID, strings.TrimSpace(req.Name))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			httpjson.WriteError(w, http.StatusUnauthorized, "Invalid token or user not found.")
			return
		}
		observability.CaptureError(h.logger, "profile_name_update_failed", err, map[string]any{"user_id": current.ID})
		httpjson.WriteError(w, http.StatusInternalServerError, "Server error during name update.")
		return
	}

	httpjson.WriteMessage(w, http.StatusOK, "Name updated successfully.", h.userPayload(r.Context(), updated))
}

func (h *Handler) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.UserFromContext(r.Context())
	if !ok {
		httpjson.WriteError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	upload, err := media.ReadPhotoUpload(w, r, photoField)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrUnsupportedPhoto):
			httpjson.WriteError(w, http.StatusBadRequest, "Invalid file type. Only JPEG, PNG, GIF, and WebP are allowed.")
		case errors.Is(err, media.ErrPhotoTooLarge):
			httpjson.WriteError(w, http.StatusBadRequest, "File too large. Maximum size is 5MB.")
		default:
			httpjson.WriteError(w, http.StatusBadRequest, "Please provide a photo file.")
		}
		return
	}

	key := "profile-photos/" + current.ID + "/" + uuid.NewString() + upload.Extension
	ref, err := h.photos.PutPhoto(r.Context(), key, upload.Data, upload.ContentType)
	if err != nil {
		observability.CaptureError(h.logger, "profile_photo_upload_failed", err, map[string]any{"user_id": current.ID})
		httpjson.WriteError(w, http.StatusInternalServerError, "Server error during photo upload.")
		return
	}

	previous, err := h.users.ReplacePhoto(r.Context(), current.ID, &ref)
	if err != nil {
		h.removeObject(r.Context(), current.ID, ref)
		observability.CaptureError(h.logger, "profile_photo_update_failed", err, map[string]any{"user_id": current.ID})
		httpjson.WriteError(w, http.StatusInternalServerError, "Server error during photo upload.")
		return
	}
	if previous != nil {
		h.removeObject(r.Context(), current.ID, *previous)
	}

	current.ProfilePhoto = &ref
	httpjson.WriteMessage(w, http.StatusOK, "Photo updated successfully.", h.userPayload(r.Context(), current))
}

func (h *Handler) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.UserFromContext(r.Context())
	if !ok {
		httpjson.WriteError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	previous, err := h.users.ReplacePhoto(r.Context(), current.ID, nil)
	if err != nil {
		observability.CaptureError(h.logger, "profile_photo_delete_failed", err, map[string]any{"user_id": current.ID})
		httpjson.WriteError(w, http.StatusInternalServerError, "Server error during photo deletion.")
		return
	}
	if previous != nil {
		h.removeObject(r.Context(), current.ID, *previous)
	}

	current.ProfilePhoto = nil
	httpjson.WriteMessage(w, http.StatusOK, "Photo deleted successfully.", h.userPayload(r.Context(), current))
}

// removeObject is best effort; a leaked object does not fail the request.
func (h *Handler) removeObject(ctx context.Context, userID, ref string) {
	if err := h.photos.DeletePhoto(ctx, ref); err != nil {
		h.logger.Warn("profile_photo_cleanup_failed", map[string]any{"user_id": userID, "ref": ref, "error": err.Error()})
	}
}

func (h *Handler) userPayload(ctx context.Context, u user.User) map[string]any {
	return map[string]any{"user": u.Profile(user.ResolvePhoto(ctx, h.photos, h.logger, u))}
}
