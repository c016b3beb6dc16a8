// Package session issues and validates the bearer tokens that prove a guest
// passed access-code verification for a private album. Revocation and
// blacklisting are independent axes; either one makes a session unusable.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"snapvault/internal/models"
)

// Store defines the persistence contract for album sessions.
type Store interface {
	Save(ctx context.Context, session models.Session) error
	Get(ctx context.Context, token string) (models.Session, bool, error)
	GetByID(ctx context.Context, id string) (models.Session, bool, error)
	Update(ctx context.Context, session models.Session) error
	Delete(ctx context.Context, token string) error
	ListByAlbum(ctx context.Context, albumID string) ([]models.Session, error)
	PurgeExpired(ctx context.Context, now time.Time) error
}

// Verification reasons returned for expected negative cases. Callers treat
// them as machine-readable codes, so the strings are part of the contract.
const (
	ReasonNotFound    = "not_found"
	ReasonExpired     = "expired"
	ReasonBlacklisted = "blacklisted"
	ReasonRevoked     = "revoked"
)

// Verification is the outcome of a session token check.
type Verification struct {
	Valid   bool
	Reason  string
	Session models.Session
}

// ErrSessionNotFound is returned by owner-facing mutations when the target
// session does not exist or is scoped to a different album.
var ErrSessionNotFound = errors.New("session not found")

// Option configures a Manager instance.
type Option func(*Manager)

// WithTTL overrides the session lifetime used for newly created sessions.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithLogger injects the logger used for housekeeping warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

const (
	defaultTTL    = 7 * 24 * time.Hour
	tokenByteSize = 32
)

// Manager coordinates session creation and validation against a backing store.
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewManager constructs a Manager with a 7-day default TTL.
func NewManager(store Store, opts ...Option) *Manager {
	manager := &Manager{
		store:  store,
		ttl:    defaultTTL,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemoryStore()
	}
	return manager
}

// CreateParams carries the request attributes recorded on a new session.
type CreateParams struct {
	AlbumID    string
	Identifier string
	IPAddress  string
	DeviceID   string
	UserAgent  string
}

// Create mints a cryptographically random token, persists the session, and
// opportunistically sweeps expired sessions from the store.
func (m *Manager) Create(ctx context.Context, params CreateParams) (models.Session, error) {
	if params.AlbumID == "" {
		return models.Session{}, fmt.Errorf("album id is required")
	}
	token, err := generateToken(tokenByteSize)
	if err != nil {
		return models.Session{}, err
	}
	id, err := generateToken(16)
	if err != nil {
		return models.Session{}, err
	}
	now := m.now().UTC()
	session := models.Session{
		ID:         id,
		AlbumID:    params.AlbumID,
		Identifier: models.NormalizeIdentifier(params.Identifier),
		Token:      token,
		DeviceID:   params.DeviceID,
		IPAddress:  params.IPAddress,
		UserAgent:  params.UserAgent,
		CreatedAt:  now,
		LastUsedAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, session); err != nil {
		return models.Session{}, fmt.Errorf("save session: %w", err)
	}
	if err := m.store.PurgeExpired(ctx, now); err != nil {
		m.logger.Warn("failed to purge expired sessions", "error", err)
	}
	return session, nil
}

// Verify checks the token against the store, scoped to the album + identifier
// pair. Expected negative cases return Valid=false with a distinct reason and
// a nil error. On success the session's lastUsedAt is updated; a failure to
// record that update is logged, not propagated, since the field is purely
// observational.
func (m *Manager) Verify(ctx context.Context, albumID, identifier, token string) (Verification, error) {
	if token == "" {
		return Verification{Reason: ReasonNotFound}, nil
	}
	session, ok, err := m.store.Get(ctx, token)
	if err != nil {
		return Verification{}, err
	}
	if !ok || session.AlbumID != albumID {
		return Verification{Reason: ReasonNotFound}, nil
	}
	if identifier != "" && session.Identifier != models.NormalizeIdentifier(identifier) {
		return Verification{Reason: ReasonNotFound}, nil
	}
	now := m.now().UTC()
	switch {
	case session.Expired(now):
		return Verification{Reason: ReasonExpired}, nil
	case session.IsBlacklisted:
		return Verification{Reason: ReasonBlacklisted}, nil
	case session.Revoked():
		return Verification{Reason: ReasonRevoked}, nil
	}
	session.LastUsedAt = now
	if err := m.store.Update(ctx, session); err != nil {
		m.logger.Warn("failed to update session last use", "session_id", session.ID, "error", err)
	}
	return Verification{Valid: true, Session: session}, nil
}

// IsBlocked reports whether the token must be rejected on the upload hot
// path. Missing, expired, blacklisted, and revoked sessions are all blocked,
// which makes this a strict superset of a failed Verify and lets it abort
// in-flight uploads after an owner revocation.
func (m *Manager) IsBlocked(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return true, nil
	}
	session, ok, err := m.store.Get(ctx, token)
	if err != nil {
		return true, err
	}
	if !ok {
		return true, nil
	}
	now := m.now().UTC()
	return session.Expired(now) || session.IsBlacklisted || session.Revoked(), nil
}

// Revoke terminates the session identified by its bearer token. Revocation is
// terminal and idempotent; revoking an unknown token is not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	session, ok, err := m.store.Get(ctx, token)
	if err != nil {
		return err
	}
	if !ok || session.Revoked() {
		return nil
	}
	now := m.now().UTC()
	session.RevokedAt = &now
	return m.store.Update(ctx, session)
}

// Blacklist marks the session unusable until the owner lifts the flag. The
// albumID scopes the mutation to sessions the owner actually controls.
func (m *Manager) Blacklist(ctx context.Context, id, albumID string) error {
	return m.setBlacklist(ctx, id, albumID, true)
}

// Unblacklist restores a previously blacklisted session.
func (m *Manager) Unblacklist(ctx context.Context, id, albumID string) error {
	return m.setBlacklist(ctx, id, albumID, false)
}

func (m *Manager) setBlacklist(ctx context.Context, id, albumID string, blacklisted bool) error {
	session, ok, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !ok || session.AlbumID != albumID {
		return ErrSessionNotFound
	}
	if session.IsBlacklisted == blacklisted {
		return nil
	}
	session.IsBlacklisted = blacklisted
	if blacklisted {
		now := m.now().UTC()
		session.BlacklistedAt = &now
	} else {
		session.BlacklistedAt = nil
	}
	return m.store.Update(ctx, session)
}

// ListByAlbum returns all sessions scoped to the album, for owner review.
func (m *Manager) ListByAlbum(ctx context.Context, albumID string) ([]models.Session, error) {
	return m.store.ListByAlbum(ctx, albumID)
}

// PurgeExpired hard-deletes sessions past their expiry.
func (m *Manager) PurgeExpired(ctx context.Context) error {
	return m.store.PurgeExpired(ctx, m.now().UTC())
}

func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
