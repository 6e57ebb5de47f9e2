package user

import (
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("user not found")

type User struct {
	ID           string
	Email        string
	Name         string
	ProfilePhoto *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the client-facing projection of a user. ProfilePhoto holds a
// URL the browser can load, never the stored object reference.
type Profile struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	ProfilePhoto *string    `json:"profilePhoto"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
}

func (u User) Profile(photoURL *string) Profile {
	return Profile{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		ProfilePhoto: photoURL,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
