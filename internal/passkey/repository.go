package passkey

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateChallenge(ctx context.Context, c Challenge) error {
	session, err := json.Marshal(c.Session)
	if err != nil {
		return fmt.Errorf("encode challenge session: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO passkey_challenges (id, user_id, email, challenge, session_data, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.UserID, c.Email, c.Challenge, string(session), c.CreatedAt, c.ExpiresAt); err != nil {
		return fmt.Errorf("insert passkey challenge: %w", err)
	}

	return nil
}

// LatestChallengeForEmail returns the newest registration challenge for the
// email that is still valid at now. Older outstanding challenges are ignored.
func (r *Repository) LatestChallengeForEmail(ctx context.Context, email string, now time.Time) (Challenge, error) {
	return r.latestChallenge(ctx, `
		SELECT id, user_id, email, challenge, session_data, created_at, expires_at
		FROM passkey_challenges
		WHERE email = $1 AND user_id IS NULL AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, email, now)
}

func (r *Repository) LatestChallengeForUser(ctx context.Context, userID string, now time.Time) (Challenge, error) {
	return r.latestChallenge(ctx, `
		SELECT id, user_id, email, challenge, session_data, created_at, expires_at
		FROM passkey_challenges
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, now)
}

func (r *Repository) latestChallenge(ctx context.Context, query string, key string, now time.Time) (Challenge, error) {
	var (
		c       Challenge
		userID  sql.NullString
		session []byte
	)
	err := r.db.QueryRowContext(ctx, query, key, now).Scan(
		&c.ID, &userID, &c.Email, &c.Challenge, &session, &c.CreatedAt, &c.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, fmt.Errorf("query passkey challenge: %w", err)
	}
	if userID.Valid {
		value := userID.String
		c.UserID = &value
	}
	if err := json.Unmarshal(session, &c.Session); err != nil {
		return Challenge{}, fmt.Errorf("decode challenge session: %w", err)
	}

	return c, nil
}

func (r *Repository) ListCredentials(ctx context.Context, userID string) ([]Credential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, credential_id, public_key, counter, transports, attestation_type,
			aaguid, backup_eligible, backup_state, created_at, last_used_at
		FROM passkey_credentials
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query passkey credentials: %w", err)
	}
	defer rows.Close()

	credentials := make([]Credential, 0)
	for rows.Next() {
		var (
			c          Credential
			publicKey  string
			counter    int64
			transports string
			lastUsedAt sql.NullTime
		)
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.CredentialID, &publicKey, &counter, &transports, &c.AttestationType,
			&c.AAGUID, &c.BackupEligible, &c.BackupState, &c.CreatedAt, &lastUsedAt,
		); err != nil {
			return nil, fmt.Errorf("scan passkey credential: %w", err)
		}

		key, err := base64.RawURLEncoding.DecodeString(publicKey)
		if err != nil {
			return nil, fmt.Errorf("decode public key for %s: %w", c.CredentialID, err)
		}
		c.PublicKey = key
		c.Counter = uint32(counter)
		c.Transports = splitTransports(transports)
		if lastUsedAt.Valid {
			value := lastUsedAt.Time.UTC()
			c.LastUsedAt = &value
		}

		credentials = append(credentials, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passkey credentials: %w", err)
	}

	return credentials, nil
}

// CompleteRegistration consumes the challenge and creates the user with its
// first credential in one transaction. If another request consumed the
// challenge first the whole unit fails with ErrChallengeInvalid.
func (r *Repository) CompleteRegistration(ctx context.Context, reg NewRegistration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := consumeChallenge(ctx, tx, reg.ChallengeID, reg.At); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, reg.UserID, reg.Email, reg.Name, reg.At); err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}

	c := reg.Credential
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO passkey_credentials (
			id, user_id, credential_id, public_key, counter, transports, attestation_type,
			aaguid, backup_eligible, backup_state, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		c.ID, reg.UserID, c.CredentialID, base64.RawURLEncoding.EncodeToString(c.PublicKey), int64(c.Counter),
		strings.Join(c.Transports, ","), c.AttestationType, c.AAGUID, c.BackupEligible, c.BackupState, reg.At,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: credential already registered", ErrVerificationFailed)
		}
		return fmt.Errorf("insert passkey credential: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM passkey_challenges WHERE email = $1`, reg.Email); err != nil {
		return fmt.Errorf("delete email challenges: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// CompleteLogin consumes the challenge and stores the counter reported by the
// verified assertion.
func (r *Repository) CompleteLogin(ctx context.Context, use LoginUse) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := consumeChallenge(ctx, tx, use.ChallengeID, use.At); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE passkey_credentials
		SET counter = $3, backup_state = $4, last_used_at = $5
		WHERE credential_id = $1 AND user_id = $2
	`, use.CredentialID, use.UserID, int64(use.Counter), use.BackupState, use.At)
	if err != nil {
		return fmt.Errorf("update passkey counter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("passkey counter rows affected: %w", err)
	}
	if affected != 1 {
		return ErrUnknownCredential
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM passkey_challenges WHERE user_id = $1`, use.UserID); err != nil {
		return fmt.Errorf("delete user challenges: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (r *Repository) DeleteExpiredChallenges(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH expired AS (
			SELECT id
			FROM passkey_challenges
			WHERE expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM passkey_challenges c
		USING expired
		WHERE c.id = expired.id
	`, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired challenges rows affected: %w", err)
	}

	return affected, nil
}

// consumeChallenge deletes a still-valid challenge row. Exactly one deleted
// row means this transaction owns the challenge.
func consumeChallenge(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM passkey_challenges
		WHERE id = $1 AND expires_at > $2
	`, id, now)
	if err != nil {
		return fmt.Errorf("consume passkey challenge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consumed challenge rows affected: %w", err)
	}
	if affected != 1 {
		return ErrChallengeInvalid
	}
	return nil
}

func splitTransports(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
