package passkey

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// ChallengeTTL bounds both ceremonies. A challenge stops being usable at
// exactly CreatedAt+ChallengeTTL.
const ChallengeTTL = 5 * time.Minute

var (
	ErrValidation         = errors.New("validation failed")
	ErrEmailTaken         = errors.New("email already registered")
	ErrChallengeInvalid   = errors.New("invalid or expired challenge")
	ErrVerificationFailed = errors.New("passkey verification failed")
	ErrUnknownUser        = errors.New("unknown user")
	ErrUnknownCredential  = errors.New("credential not found")
	ErrNotFound           = errors.New("not found")
)

// ValidationError carries the client-facing message for a rejected request
// body. It matches ErrValidation under errors.Is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(message string) error {
	return &ValidationError{Message: message}
}

type Challenge struct {
	ID        string
	UserID    *string
	Email     string
	Challenge string
	Session   webauthn.SessionData
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Credential struct {
	ID              string
	UserID          string
	CredentialID    string
	PublicKey       []byte
	Counter         uint32
	Transports      []string
	AttestationType string
	AAGUID          []byte
	BackupEligible  bool
	BackupState     bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// NewRegistration is everything persisted by a successful registration.
type NewRegistration struct {
	ChallengeID string
	UserID      string
	Email       string
	Name        string
	Credential  Credential
	At          time.Time
}

// LoginUse records the outcome of a verified assertion.
type LoginUse struct {
	ChallengeID  string
	UserID       string
	CredentialID string
	Counter      uint32
	BackupState  bool
	At           time.Time
}

func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func DecodeCredentialID(id string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(id, "="))
}

func credentialFromWebAuthn(userID string, c *webauthn.Credential) Credential {
	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}
	return Credential{
		UserID:          userID,
		CredentialID:    EncodeCredentialID(c.ID),
		PublicKey:       c.PublicKey,
		Counter:         c.Authenticator.SignCount,
		Transports:      transports,
		AttestationType: c.AttestationType,
		AAGUID:          c.Authenticator.AAGUID,
		BackupEligible:  c.Flags.BackupEligible,
		BackupState:     c.Flags.BackupState,
	}
}

func (c Credential) toWebAuthn() (webauthn.Credential, error) {
	rawID, err := DecodeCredentialID(c.CredentialID)
	if err != nil {
		return webauthn.Credential{}, err
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              rawID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.Counter,
		},
	}, nil
}
