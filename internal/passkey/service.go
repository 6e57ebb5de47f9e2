package passkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"nottu-serverless/internal/config"
	"nottu-serverless/internal/observability"
	"nottu-serverless/internal/user"
)

type Store interface {
	CreateChallenge(ctx context.Context, c Challenge) error
	LatestChallengeForEmail(ctx context.Context, email string, now time.Time) (Challenge, error)
	LatestChallengeForUser(ctx context.Context, userID string, now time.Time) (Challenge, error)
	ListCredentials(ctx context.Context, userID string) ([]Credential, error)
	CompleteRegistration(ctx context.Context, reg NewRegistration) error
	CompleteLogin(ctx context.Context, use LoginUse) error
}

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
}

type TokenIssuer interface {
	Mint(userID string) (string, error)
}

type Service struct {
	store  Store
	users  UserStore
	tokens TokenIssuer
	photos user.PhotoResolver
	logger *observability.Logger

	webAuthn passkeyProvider
	parser   passkeyParser
	clock    func() time.Time
	newID    func() (string, error)
}

func NewService(
	store Store,
	users UserStore,
	tokens TokenIssuer,
	photos user.PhotoResolver,
	cfg config.WebAuthnConfig,
	logger *observability.Logger,
) (*Service, error) {
	w, err := newWebAuthn(cfg)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:    store,
		users:    users,
		tokens:   tokens,
		photos:   photos,
		logger:   logger,
		webAuthn: w,
		parser:   defaultPasskeyParser{},
		clock:    time.Now,
		newID:    newUUID,
	}, nil
}

type RegisterOptionsResult struct {
	Options any    `json:"options"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

type LoginOptionsResult struct {
	Options any `json:"options"`
}

// Session is what a completed ceremony hands back to the client.
type Session struct {
	Token string       `json:"token"`
	User  user.Profile `json:"user"`
}

func (s *Service) RegisterOptions(ctx context.Context, email, name string) (RegisterOptionsResult, error) {
	email = user.NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || name == "" {
		return RegisterOptionsResult{}, invalid("Please provide email and name.")
	}

	if err := s.ensureEmailAvailable(ctx, email); err != nil {
		return RegisterOptionsResult{}, err
	}

	creation, session, err := s.webAuthn.BeginRegistration(
		newPasskeyUser(email, name, nil),
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	)
	if err != nil {
		return RegisterOptionsResult{}, fmt.Errorf("begin passkey registration: %w", err)
	}

	if err := s.storeChallenge(ctx, nil, email, session); err != nil {
		return RegisterOptionsResult{}, err
	}

	return RegisterOptionsResult{Options: creation.Response, Email: email, Name: name}, nil
}

func (s *Service) RegisterVerify(ctx context.Context, email, name string, credential json.RawMessage) (Session, error) {
	email = user.NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || name == "" || isEmptyCredential(credential) {
		return Session{}, invalid("Please provide email, name, and credential.")
	}

	if err := s.ensureRegistrable(ctx, email, credential); err != nil {
		return Session{}, err
	}

	// A concurrent registration of the same email still surfaces from
	// CompleteRegistration as ErrEmailTaken.
	now := s.clock().UTC()
	challenge, err := s.store.LatestChallengeForEmail(ctx, email, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrChallengeInvalid
		}
		return Session{}, err
	}
	if !challenge.ExpiresAt.After(now) {
		return Session{}, ErrChallengeInvalid
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(credential)
	if err != nil {
		return Session{}, fmt.Errorf("%w: parse attestation: %v", ErrVerificationFailed, err)
	}

	verified, err := s.webAuthn.CreateCredential(newPasskeyUser(email, name, nil), challenge.Session, parsed)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if verified == nil || len(verified.ID) == 0 || len(verified.PublicKey) == 0 {
		return Session{}, ErrVerificationFailed
	}

	userID, err := s.newID()
	if err != nil {
		return Session{}, err
	}
	stored := credentialFromWebAuthn(userID, verified)
	stored.ID, err = s.newID()
	if err != nil {
		return Session{}, err
	}

	if err := s.store.CompleteRegistration(ctx, NewRegistration{
		ChallengeID: challenge.ID,
		UserID:      userID,
		Email:       email,
		Name:        name,
		Credential:  stored,
		At:          now,
	}); err != nil {
		return Session{}, err
	}

	token, err := s.tokens.Mint(userID)
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("passkey_registered", map[string]any{"user_id": userID, "credential_id": stored.CredentialID})

	return Session{
		Token: token,
		User:  user.Profile{ID: userID, Email: email, Name: name},
	}, nil
}

// LoginOptions reports unknown emails as ErrUnknownUser rather than issuing a
// decoy challenge, so callers can tell registered emails apart.
func (s *Service) LoginOptions(ctx context.Context, email string) (LoginOptionsResult, error) {
	email = user.NormalizeEmail(email)
	if email == "" {
		return LoginOptionsResult{}, invalid("Please provide email.")
	}

	u, err := s.lookupUser(ctx, email)
	if err != nil {
		return LoginOptionsResult{}, err
	}

	credentials, err := s.loadCredentials(ctx, u.ID)
	if err != nil {
		return LoginOptionsResult{}, err
	}
	if len(credentials) == 0 {
		return LoginOptionsResult{}, ErrUnknownCredential
	}

	assertion, session, err := s.webAuthn.BeginLogin(
		newPasskeyUser(u.Email, u.Name, credentials),
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		return LoginOptionsResult{}, fmt.Errorf("begin passkey login: %w", err)
	}

	userID := u.ID
	if err := s.storeChallenge(ctx, &userID, u.Email, session); err != nil {
		return LoginOptionsResult{}, err
	}

	return LoginOptionsResult{Options: assertion.Response}, nil
}

func (s *Service) LoginVerify(ctx context.Context, email string, credential json.RawMessage) (Session, error) {
	email = user.NormalizeEmail(email)
	if email == "" || isEmptyCredential(credential) {
		return Session{}, invalid("Please provide email and credential.")
	}

	u, err := s.lookupUser(ctx, email)
	if err != nil {
		return Session{}, err
	}

	now := s.clock().UTC()
	challenge, err := s.store.LatestChallengeForUser(ctx, u.ID, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrChallengeInvalid
		}
		return Session{}, err
	}
	if !challenge.ExpiresAt.After(now) {
		return Session{}, ErrChallengeInvalid
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(credential)
	if err != nil {
		return Session{}, fmt.Errorf("%w: parse assertion: %v", ErrVerificationFailed, err)
	}

	credentials, err := s.loadCredentials(ctx, u.ID)
	if err != nil {
		return Session{}, err
	}
	if !hasCredential(credentials, parsed.RawID) {
		return Session{}, ErrUnknownCredential
	}

	verified, err := s.webAuthn.ValidateLogin(newPasskeyUser(u.Email, u.Name, credentials), challenge.Session, parsed)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if verified == nil {
		return Session{}, ErrVerificationFailed
	}

	credentialID := EncodeCredentialID(verified.ID)
	if verified.Authenticator.CloneWarning {
		s.logger.Warn("passkey_clone_warning", map[string]any{
			"user_id":       u.ID,
			"credential_id": credentialID,
			"counter":       verified.Authenticator.SignCount,
		})
	}

	if err := s.store.CompleteLogin(ctx, LoginUse{
		ChallengeID:  challenge.ID,
		UserID:       u.ID,
		CredentialID: credentialID,
		Counter:      verified.Authenticator.SignCount,
		BackupState:  verified.Flags.BackupState,
		At:           now,
	}); err != nil {
		return Session{}, err
	}

	token, err := s.tokens.Mint(u.ID)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token: token,
		User:  u.Profile(user.ResolvePhoto(ctx, s.photos, s.logger, u)),
	}, nil
}

func (s *Service) ensureEmailAvailable(ctx context.Context, email string) error {
	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return ErrEmailTaken
	}
	if errors.Is(err, user.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("check existing user: %w", err)
}

// ensureRegistrable rejects a registered email. When the submitted credential
// is already bound to that account the request repeats a completed ceremony,
// so it is reported as a consumed challenge instead.
func (s *Service) ensureRegistrable(ctx context.Context, email string, credential json.RawMessage) error {
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("check existing user: %w", err)
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(credential)
	if err != nil || len(parsed.RawID) == 0 {
		return ErrEmailTaken
	}
	stored, err := s.store.ListCredentials(ctx, existing.ID)
	if err != nil {
		return err
	}
	credentialID := EncodeCredentialID(parsed.RawID)
	for _, c := range stored {
		if c.CredentialID == credentialID {
			return ErrChallengeInvalid
		}
	}
	return ErrEmailTaken
}

func (s *Service) lookupUser(ctx context.Context, email string) (user.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, ErrUnknownUser
		}
		return user.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func (s *Service) loadCredentials(ctx context.Context, userID string) ([]webauthn.Credential, error) {
	stored, err := s.store.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	credentials := make([]webauthn.Credential, 0, len(stored))
	for _, c := range stored {
		converted, err := c.toWebAuthn()
		if err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", c.CredentialID, err)
		}
		credentials = append(credentials, converted)
	}
	return credentials, nil
}

func (s *Service) storeChallenge(ctx context.Context, userID *string, email string, session *webauthn.SessionData) error {
	if session == nil {
		return fmt.Errorf("session data is required")
	}

	id, err := s.newID()
	if err != nil {
		return err
	}

	now := s.clock().UTC()
	if err := s.store.CreateChallenge(ctx, Challenge{
		ID:        id,
		UserID:    userID,
		Email:     email,
		Challenge: session.Challenge,
		Session:   *session,
		CreatedAt: now,
		ExpiresAt: now.Add(ChallengeTTL),
	}); err != nil {
		return err
	}
	return nil
}

func hasCredential(credentials []webauthn.Credential, rawID []byte) bool {
	if len(rawID) == 0 {
		return false
	}
	for _, c := range credentials {
		if bytes.Equal(c.ID, rawID) {
			return true
		}
	}
	return false
}

func isEmptyCredential(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func newUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	return id.String(), nil
}
