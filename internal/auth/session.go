// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session is an active login. The raw bearer token is never stored; only
// its fingerprint is.
type Session struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewSession creates a validated Session with a fresh ID.
func NewSession(userID ulid.ULID, tokenHash string, expiresAt time.Time) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &Session{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

// IsExpiredAt returns true if the session is expired at t. A session is
// expired from the instant of ExpiresAt onward.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// SessionRepository manages session persistence. Implementations must enforce
// uniqueness of TokenHash and report violations as ErrDuplicateFingerprint.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByID retrieves a session by its ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Session, error)

	// GetByTokenHash retrieves a session by its token fingerprint.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// TokenHashExists reports whether any session holds the fingerprint.
	TokenHashExists(ctx context.Context, tokenHash string) (bool, error)

	// UpdateToken replaces the fingerprint and expiry of an existing session.
	// Returns ErrNotFound if the session no longer exists.
	UpdateToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error

	// Delete removes a session by ID. Deleting a missing session is not an error.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByTokenHash removes the session holding the fingerprint, if any.
	DeleteByTokenHash(ctx context.Context, tokenHash string) error

	// DeleteByUser removes all sessions for a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes all sessions with expires_at <= now and returns
	// the count of deleted records.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionManager implements the session lifecycle on top of a
// SessionRepository: begin, renew (token rotation), resolve, revoke and sweep.
type SessionManager struct {
	repo       SessionRepository
	tokens     *TokenGenerator
	tokenBytes int
	now        func() time.Time
	logger     *slog.Logger
	metrics    *Metrics
}

// NewSessionManager creates a SessionManager issuing tokens of tokenBytes
// random bytes (normalized, see NormalizeTokenBytes).
func NewSessionManager(repo SessionRepository, tokenBytes int, opts ...Option) (*SessionManager, error) {
	if repo == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("session repository is required")
	}
	o := newOptions(opts)
	return &SessionManager{
		repo:       repo,
		tokens:     NewTokenGenerator(opts...),
		tokenBytes: NormalizeTokenBytes(tokenBytes),
		now:        o.now,
		logger:     o.logger,
		metrics:    o.metrics,
	}, nil
}

// Begin starts a session for userID lasting ttl and returns the raw token to
// hand to the client.
func (m *SessionManager) Begin(ctx context.Context, userID ulid.ULID, ttl time.Duration) (string, *Session, error) {
	if ttl <= 0 {
		return "", nil, oops.Code("SESSION_INVALID_TTL").With("ttl", ttl).Errorf("session ttl must be positive")
	}

	var session *Session
	raw, _, err := m.tokens.GenerateStored(ctx, m.tokenBytes, m.repo.TokenHashExists,
		func(ctx context.Context, fingerprint string) error {
			s, err := NewSession(userID, fingerprint, m.now().Add(ttl))
			if err != nil {
				return err
			}
			if err := m.repo.Create(ctx, s); err != nil {
				return err
			}
			session = s
			return nil
		})
	if err != nil {
		return "", nil, oops.Code("SESSION_BEGIN_FAILED").With("user_id", userID.String()).Wrap(err)
	}

	m.metrics.session("begun")
	return raw, session, nil
}

// Renew rotates the token of an existing session and extends its expiry to
// now+ttl. The session ID is preserved. Returns the new raw token and expiry.
func (m *SessionManager) Renew(ctx context.Context, id ulid.ULID, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, oops.Code("SESSION_INVALID_TTL").With("ttl", ttl).Errorf("session ttl must be positive")
	}

	expiresAt := m.now().Add(ttl)
	raw, _, err := m.tokens.GenerateStored(ctx, m.tokenBytes, m.repo.TokenHashExists,
		func(ctx context.Context, fingerprint string) error {
			return m.repo.UpdateToken(ctx, id, fingerprint, expiresAt)
		})
	if err != nil {
		return "", time.Time{}, oops.Code("SESSION_RENEW_FAILED").With("session_id", id.String()).Wrap(err)
	}

	m.metrics.session("renewed")
	m.logger.InfoContext(ctx, "session renewed", "session_id", id.String(), "expires_at", expiresAt)
	return raw, expiresAt, nil
}

// Resolve looks up the session holding raw's fingerprint. It does not check
// expiry; that is the caller's decision. Returns ErrNotFound for unknown or
// empty tokens.
func (m *SessionManager) Resolve(ctx context.Context, raw string) (*Session, error) {
	if raw == "" {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(ErrNotFound)
	}
	return m.repo.GetByTokenHash(ctx, Fingerprint(raw))
}

// Revoke deletes the session. Revoking a missing session succeeds.
func (m *SessionManager) Revoke(ctx context.Context, id ulid.ULID) error {
	if err := m.repo.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("SESSION_REVOKE_FAILED").With("session_id", id.String()).Wrap(err)
	}
	m.metrics.session("revoked")
	return nil
}

// RevokeByToken deletes the session holding raw's fingerprint, if any.
func (m *SessionManager) RevokeByToken(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := m.repo.DeleteByTokenHash(ctx, Fingerprint(raw)); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("SESSION_REVOKE_FAILED").Wrap(err)
	}
	m.metrics.session("revoked")
	return nil
}

// RevokeAllForUser deletes every session of the user.
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID ulid.ULID) error {
	if err := m.repo.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	m.metrics.session("revoked_all")
	return nil
}

// SweepExpired deletes all sessions expired at now.
func (m *SessionManager) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := m.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	m.metrics.RecordSwept("sessions", n)
	return n, nil
}
