package passkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"nottu-serverless/internal/user"
)

// fakeStore keeps users, credentials and challenges in memory with the same
// selection and single-use rules as Repository.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]user.User
	credentials map[string]Credential
	challenges  map[string]Challenge
	seq         int

	getUserErr error
	listErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]user.User),
		credentials: make(map[string]Credential),
		challenges:  make(map[string]Challenge),
	}
}

func (s *fakeStore) addUser(u user.User, creds ...Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	for _, c := range creds {
		c.UserID = u.ID
		s.credentials[c.CredentialID] = c
	}
}

func (s *fakeStore) GetByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getUserErr != nil {
		return user.User{}, s.getUserErr
	}
	for _, u := range s.users {
		if u.Email == user.NormalizeEmail(email) {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (s *fakeStore) CreateChallenge(_ context.Context, c Challenge) error {
	// Sessions go through JSON like the session_data column.
	raw, err := json.Marshal(c.Session)
	if err != nil {
		return err
	}
	c.Session = webauthn.SessionData{}
	if err := json.Unmarshal(raw, &c.Session); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// created_at ties are broken by insertion order.
	s.seq++
	c.CreatedAt = c.CreatedAt.Add(time.Duration(s.seq) * time.Nanosecond)
	s.challenges[c.ID] = c
	return nil
}

func (s *fakeStore) latest(match func(Challenge) bool, now time.Time) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []Challenge
	for _, c := range s.challenges {
		if match(c) && c.ExpiresAt.After(now) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Challenge{}, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
	return candidates[0], nil
}

func (s *fakeStore) LatestChallengeForEmail(_ context.Context, email string, now time.Time) (Challenge, error) {
	return s.latest(func(c Challenge) bool { return c.UserID == nil && c.Email == email }, now)
}

func (s *fakeStore) LatestChallengeForUser(_ context.Context, userID string, now time.Time) (Challenge, error) {
	return s.latest(func(c Challenge) bool { return c.UserID != nil && *c.UserID == userID }, now)
}

func (s *fakeStore) ListCredentials(_ context.Context, userID string) ([]Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]Credential, 0)
	for _, c := range s.credentials {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) consume(id string, now time.Time) error {
	c, ok := s.challenges[id]
	if !ok || !c.ExpiresAt.After(now) {
		return ErrChallengeInvalid
	}
	delete(s.challenges, id)
	return nil
}

func (s *fakeStore) CompleteRegistration(_ context.Context, reg NewRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consume(reg.ChallengeID, reg.At); err != nil {
		return err
	}
	for _, u := range s.users {
		if u.Email == reg.Email {
			return ErrEmailTaken
		}
	}
	if _, ok := s.credentials[reg.Credential.CredentialID]; ok {
		return fmt.Errorf("%w: credential already registered", ErrVerificationFailed)
	}

	s.users[reg.UserID] = user.User{ID: reg.UserID, Email: reg.Email, Name: reg.Name, CreatedAt: reg.At, UpdatedAt: reg.At}
	c := reg.Credential
	c.UserID = reg.UserID
	c.CreatedAt = reg.At
	s.credentials[c.CredentialID] = c
	for id, ch := range s.challenges {
		if ch.Email == reg.Email {
			delete(s.challenges, id)
		}
	}
	return nil
}

func (s *fakeStore) CompleteLogin(_ context.Context, use LoginUse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.consume(use.ChallengeID, use.At); err != nil {
		return err
	}
	c, ok := s.credentials[use.CredentialID]
	if !ok || c.UserID != use.UserID {
		return ErrUnknownCredential
	}
	c.Counter = use.Counter
	c.BackupState = use.BackupState
	at := use.At
	c.LastUsedAt = &at
	s.credentials[use.CredentialID] = c
	for id, ch := range s.challenges {
		if ch.UserID != nil && *ch.UserID == use.UserID {
			delete(s.challenges, id)
		}
	}
	return nil
}

func (s *fakeStore) challengeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

func (s *fakeStore) credential(id string) Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentials[id]
}

type fakePasskeyProvider struct {
	mu  sync.Mutex
	seq int

	beginRegErr   error
	createCred    *webauthn.Credential
	createErr     error
	beginLoginErr error
	validateCred  *webauthn.Credential
	validateErr   error

	lastSession webauthn.SessionData
}

func (p *fakePasskeyProvider) nextChallenge() string {
	p.seq++
	return fmt.Sprintf("challenge-%d", p.seq)
}

func (p *fakePasskeyProvider) BeginRegistration(u webauthn.User, _ ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.beginRegErr != nil {
		return nil, nil, p.beginRegErr
	}
	challenge := p.nextChallenge()
	creation := &protocol.CredentialCreation{
		Response: protocol.PublicKeyCredentialCreationOptions{
			Challenge: protocol.URLEncodedBase64(challenge),
		},
	}
	return creation, &webauthn.SessionData{Challenge: challenge, UserID: u.WebAuthnID()}, nil
}

func (p *fakePasskeyProvider) CreateCredential(u webauthn.User, session webauthn.SessionData, _ *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSession = session
	if p.createErr != nil {
		return nil, p.createErr
	}
	if !bytes.Equal(session.UserID, u.WebAuthnID()) {
		return nil, errors.New("user handle mismatch")
	}
	return p.createCred, nil
}

func (p *fakePasskeyProvider) BeginLogin(u webauthn.User, _ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.beginLoginErr != nil {
		return nil, nil, p.beginLoginErr
	}
	challenge := p.nextChallenge()
	allowed := make([]protocol.CredentialDescriptor, 0)
	for _, c := range u.WebAuthnCredentials() {
		allowed = append(allowed, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
		})
	}
	assertion := &protocol.CredentialAssertion{
		Response: protocol.PublicKeyCredentialRequestOptions{
			Challenge:          protocol.URLEncodedBase64(challenge),
			AllowedCredentials: allowed,
		},
	}
	return assertion, &webauthn.SessionData{Challenge: challenge, UserID: u.WebAuthnID()}, nil
}

func (p *fakePasskeyProvider) ValidateLogin(u webauthn.User, session webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSession = session
	if p.validateErr != nil {
		return nil, p.validateErr
	}
	if !bytes.Equal(session.UserID, u.WebAuthnID()) {
		return nil, errors.New("user handle mismatch")
	}
	cred := *p.validateCred
	return &cred, nil
}

type fakePasskeyParser struct {
	rawID []byte
	err   error
}

func (p fakePasskeyParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	if p.err != nil {
		return nil, p.err
	}
	parsed := &protocol.ParsedCredentialCreationData{}
	parsed.RawID = p.rawID
	return parsed, nil
}

func (p fakePasskeyParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if p.err != nil {
		return nil, p.err
	}
	parsed := &protocol.ParsedCredentialAssertionData{}
	parsed.RawID = p.rawID
	return parsed, nil
}

type fakePhotoResolver struct {
	url string
	err error
}

func (r fakePhotoResolver) ResolvePhotoURL(_ context.Context, ref string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if r.url == "" {
		return ref, nil
	}
	return r.url, nil
}
