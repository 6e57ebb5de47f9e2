package user

import (
	"context"

	"nottu-serverless/internal/observability"
)

type PhotoResolver interface {
	ResolvePhotoURL(ctx context.Context, ref string) (string, error)
}

// ResolvePhoto converts the stored photo reference into a URL the client can
// load. A resolution failure is logged and reported as no photo.
func ResolvePhoto(ctx context.Context, photos PhotoResolver, logger *observability.Logger, u User) *string {
	if u.ProfilePhoto == nil || *u.ProfilePhoto == "" {
		return nil
	}
	if photos == nil {
		value := *u.ProfilePhoto
		return &value
	}

	resolved, err := photos.ResolvePhotoURL(ctx, *u.ProfilePhoto)
	if err != nil {
		logger.Warn("profile_photo_resolve_failed", map[string]any{"user_id": u.ID, "error": err.Error()})
		return nil
	}
	return &resolved
}
