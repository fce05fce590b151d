// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memstore provides in-memory implementations of the auth
// repositories. They enforce the same uniqueness rules as the PostgreSQL
// schema and are used by tests and the in-memory server mode.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

// Store holds users, sessions and challenges behind one mutex. Deleting a
// user deletes its sessions and challenges, like the foreign keys do.
type Store struct {
	mu         sync.Mutex
	users      map[ulid.ULID]auth.User
	sessions   map[ulid.ULID]auth.Session
	challenges map[ulid.ULID]auth.Challenge
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:      make(map[ulid.ULID]auth.User),
		sessions:   make(map[ulid.ULID]auth.Session),
		challenges: make(map[ulid.ULID]auth.Challenge),
	}
}

// Users returns the user repository view of the store.
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// Sessions returns the session repository view of the store.
func (s *Store) Sessions() *SessionRepository { return &SessionRepository{s: s} }

// Challenges returns the challenge repository view of the store.
func (s *Store) Challenges() *ChallengeRepository { return &ChallengeRepository{s: s} }

func notFound(entity string, id ulid.ULID) error {
	return oops.Code(strings.ToUpper(entity)+"_NOT_FOUND").With(entity+"_id", id.String()).Wrap(auth.ErrNotFound)
}

// UserRepository implements auth.UserRepository in memory.
type UserRepository struct{ s *Store }

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)

// Create stores a new user.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return oops.Code("USER_EMAIL_TAKEN").With("email", user.Email).Wrap(auth.ErrEmailTaken)
		}
	}
	r.s.users[user.ID] = *user
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *UserRepository) update(id ulid.ULID, fn func(u *auth.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return notFound("user", id)
	}
	fn(&u)
	u.UpdatedAt = time.Now()
	r.s.users[id] = u
	return nil
}

// UpdatePassword replaces the password hash and the require-password-change flag.
func (r *UserRepository) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string, requireChange bool) error {
	return r.update(id, func(u *auth.User) {
		u.PasswordHash = passwordHash
		u.RequirePasswordChange = requireChange
	})
}

// MarkEmailVerified clears the require-email-verification flag.
func (r *UserRepository) MarkEmailVerified(_ context.Context, id ulid.ULID) error {
	return r.update(id, func(u *auth.User) { u.RequireEmailVerification = false })
}

// SetRequirePasswordChange sets the require-password-change flag.
func (r *UserRepository) SetRequirePasswordChange(_ context.Context, id ulid.ULID, require bool) error {
	return r.update(id, func(u *auth.User) { u.RequirePasswordChange = require })
}

// Delete removes a user with its sessions and challenges.
func (r *UserRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[id]; !ok {
		return notFound("user", id)
	}
	delete(r.s.users, id)
	for sid, sess := range r.s.sessions {
		if sess.UserID == id {
			delete(r.s.sessions, sid)
		}
	}
	for cid, c := range r.s.challenges {
		if c.UserID == id {
			delete(r.s.challenges, cid)
		}
	}
	return nil
}

// SessionRepository implements auth.SessionRepository in memory.
type SessionRepository struct{ s *Store }

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)

func (r *SessionRepository) hashTaken(tokenHash string, except ulid.ULID) bool {
	for id, sess := range r.s.sessions {
		if sess.TokenHash == tokenHash && id != except {
			return true
		}
	}
	return false
}

// Create stores a new session.
func (r *SessionRepository) Create(_ context.Context, session *auth.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[session.UserID]; !ok {
		return oops.Code("SESSION_CREATE_FAILED").With("user_id", session.UserID.String()).Errorf("unknown user")
	}
	if r.hashTaken(session.TokenHash, ulid.ULID{}) {
		return oops.Code("SESSION_DUPLICATE_TOKEN").Wrap(auth.ErrDuplicateFingerprint)
	}
	r.s.sessions[session.ID] = *session
	return nil
}

// GetByID retrieves a session by ID.
func (r *SessionRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, notFound("session", id)
	}
	return &sess, nil
}

// GetByTokenHash retrieves a session by its token fingerprint.
func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, sess := range r.s.sessions {
		if sess.TokenHash == tokenHash {
			return &sess, nil
		}
	}
	return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// TokenHashExists reports whether any session holds the fingerprint.
func (r *SessionRepository) TokenHashExists(_ context.Context, tokenHash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.hashTaken(tokenHash, ulid.ULID{}), nil
}

// UpdateToken replaces the fingerprint and expiry of a session.
func (r *SessionRepository) UpdateToken(_ context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[id]
	if !ok {
		return notFound("session", id)
	}
	if r.hashTaken(tokenHash, id) {
		return oops.Code("SESSION_DUPLICATE_TOKEN").Wrap(auth.ErrDuplicateFingerprint)
	}
	sess.TokenHash = tokenHash
	sess.ExpiresAt = expiresAt
	r.s.sessions[id] = sess
	return nil
}

// Delete removes a session by ID.
func (r *SessionRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.sessions, id)
	return nil
}

// DeleteByTokenHash removes the session holding the fingerprint, if any.
func (r *SessionRepository) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, sess := range r.s.sessions {
		if sess.TokenHash == tokenHash {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

// DeleteByUser removes all sessions for a user.
func (r *SessionRepository) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, sess := range r.s.sessions {
		if sess.UserID == userID {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

// DeleteExpired removes sessions with ExpiresAt <= now.
func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, sess := range r.s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// ChallengeRepository implements auth.ChallengeRepository in memory.
type ChallengeRepository struct{ s *Store }

// Compile-time interface check.
var _ auth.ChallengeRepository = (*ChallengeRepository)(nil)

// Create stores a new challenge.
func (r *ChallengeRepository) Create(_ context.Context, challenge *auth.Challenge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[challenge.UserID]; !ok {
		return oops.Code("CHALLENGE_CREATE_FAILED").With("user_id", challenge.UserID.String()).Errorf("unknown user")
	}
	r.s.challenges[challenge.ID] = *challenge
	return nil
}

// GetByID retrieves a challenge without consuming it.
func (r *ChallengeRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.challenges[id]
	if !ok {
		return nil, notFound("challenge", id)
	}
	return &c, nil
}

// Consume deletes and returns a challenge.
func (r *ChallengeRepository) Consume(_ context.Context, id ulid.ULID) (*auth.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.challenges[id]
	if !ok {
		return nil, notFound("challenge", id)
	}
	delete(r.s.challenges, id)
	return &c, nil
}

// Delete removes a challenge.
func (r *ChallengeRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.challenges, id)
	return nil
}

// DeleteExpired removes challenges with ExpiresAt <= now.
func (r *ChallengeRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, c := range r.s.challenges {
		if !c.ExpiresAt.After(now) {
			delete(r.s.challenges, id)
			n++
		}
	}
	return n, nil
}
