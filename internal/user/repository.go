package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	return r.getOne(ctx, `
		SELECT id, email, name, profile_photo, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.getOne(ctx, `
		SELECT id, email, name, profile_photo, created_at, updated_at
		FROM users
		WHERE email = $1
	`, NormalizeEmail(email))
}

func (r *Repository) getOne(ctx context.Context, query string, arg any) (User, error) {
	var u User
	var photo sql.NullString
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Email, &u.Name, &photo, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}
	if photo.Valid {
		value := photo.String
		u.ProfilePhoto = &value
	}
	return u, nil
}

func (r *Repository) UpdateName(ctx context.Context, id, name string) (User, error) {
	var u User
	var photo sql.NullString
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET name = $2, updated_at = $3
		WHERE id = $1
		RETURNING id, email, name, profile_photo, created_at, updated_at
	`, id, name, time.Now().UTC()).
		Scan(&u.ID, &u.Email, &u.Name, &photo, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("update user name: %w", err)
	}
	if photo.Valid {
		value := photo.String
		u.ProfilePhoto = &value
	}
	return u, nil
}

// ReplacePhoto stores ref (nil clears it) and returns the reference it
// replaced so the caller can remove the old object.
func (r *Repository) ReplacePhoto(ctx context.Context, id string, ref *string) (*string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin photo tx: %w", err)
	}
	defer tx.Rollback()

	var previous sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT profile_photo
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&previous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock user photo: %w", err)
	}

	var value any
	if ref != nil {
		value = *ref
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET profile_photo = $2, updated_at = $3
		WHERE id = $1
	`, id, value, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("update user photo: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit photo tx: %w", err)
	}

	if !previous.Valid {
		return nil, nil
	}
	old := previous.String
	return &old, nil
}
