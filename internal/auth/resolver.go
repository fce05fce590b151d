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

// AuthState is the authentication state of one request. The zero value is
// unauthenticated.
type AuthState struct {
	User      *User
	SessionID ulid.ULID
}

// Authenticated reports whether the request carries a live session.
func (s AuthState) Authenticated() bool {
	return s.User != nil
}

// Resolution is what Authenticate computes for a request: its state and the
// implicit cookie mutation.
type Resolution struct {
	State  AuthState
	Action TokenAction
}

// Resolver maps a raw session cookie to an AuthState and a pending
// TokenAction, renewing sessions that have entered their renewal window.
type Resolver struct {
	sessions   *SessionManager
	users      UserRepository
	ttl        time.Duration
	renewAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    *Metrics
}

// NewResolver creates a Resolver. Sessions last ttl; once a session is older
// than renewAfter (that is, once at most ttl-renewAfter remains) the next
// authenticated request rotates its token and extends it to a full ttl.
func NewResolver(sessions *SessionManager, users UserRepository, ttl, renewAfter time.Duration, opts ...Option) (*Resolver, error) {
	if sessions == nil {
		return nil, oops.Code("RESOLVER_INVALID_CONFIG").Errorf("session manager is required")
	}
	if users == nil {
		return nil, oops.Code("RESOLVER_INVALID_CONFIG").Errorf("user repository is required")
	}
	if renewAfter <= 0 || renewAfter >= ttl {
		return nil, oops.Code("RESOLVER_INVALID_CONFIG").
			With("ttl", ttl).
			With("renew_after", renewAfter).
			Errorf("renew_after must be positive and shorter than the session ttl")
	}

	o := newOptions(opts)
	return &Resolver{
		sessions:   sessions,
		users:      users,
		ttl:        ttl,
		renewAfter: renewAfter,
		now:        o.now,
		logger:     o.logger,
		metrics:    o.metrics,
	}, nil
}

// RenewalWindow is the trailing part of a session's lifetime during which an
// authenticated request renews it.
func (r *Resolver) RenewalWindow() time.Duration {
	return r.ttl - r.renewAfter
}

// Authenticate resolves the raw cookie value of a request. An empty token
// means the request carried no cookie.
//
//   - no cookie: unauthenticated, DoNothing
//   - unknown token, or a session removed before it could be renewed: unauthenticated, Revoke
//   - expired session, or its user is gone: session deleted, unauthenticated, Revoke
//   - at most RenewalWindow left: renewed, authenticated, Issue(new token)
//   - otherwise: authenticated, DoNothing
//
// Storage failures return an error and never an authenticated state.
func (r *Resolver) Authenticate(ctx context.Context, token string) (Resolution, error) {
	if token == "" {
		r.metrics.resolution("anonymous")
		return Resolution{Action: DoNothing()}, nil
	}

	session, err := r.sessions.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.metrics.resolution("unknown_token")
			r.logger.DebugContext(ctx, "session token not recognized")
			return Resolution{Action: RevokeToken()}, nil
		}
		return Resolution{}, oops.Code("AUTH_RESOLVE_FAILED").Wrap(err)
	}

	now := r.now()
	if session.IsExpiredAt(now) {
		if err := r.sessions.Revoke(ctx, session.ID); err != nil {
			return Resolution{}, oops.Code("AUTH_RESOLVE_FAILED").Wrap(err)
		}
		r.metrics.resolution("expired")
		r.logger.DebugContext(ctx, "session expired", "session_id", session.ID.String())
		return Resolution{Action: RevokeToken()}, nil
	}

	user, err := r.users.GetByID(ctx, session.UserID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Resolution{}, oops.Code("AUTH_RESOLVE_FAILED").Wrap(err)
		}
		if err := r.sessions.Revoke(ctx, session.ID); err != nil {
			return Resolution{}, oops.Code("AUTH_RESOLVE_FAILED").Wrap(err)
		}
		r.metrics.resolution("orphaned")
		return Resolution{Action: RevokeToken()}, nil
	}

	state := AuthState{User: user, SessionID: session.ID}
	if session.ExpiresAt.Sub(now) <= r.RenewalWindow() {
		fresh, _, err := r.sessions.Renew(ctx, session.ID, r.ttl)
		if err != nil {
			// Revoked concurrently, e.g. a logout from another tab.
			if errors.Is(err, ErrNotFound) {
				r.metrics.resolution("unknown_token")
				r.logger.DebugContext(ctx, "session vanished before renewal", "session_id", session.ID.String())
				return Resolution{Action: RevokeToken()}, nil
			}
			return Resolution{}, oops.Code("AUTH_RESOLVE_FAILED").Wrap(err)
		}
		r.metrics.resolution("renewed")
		return Resolution{State: state, Action: IssueToken(fresh)}, nil
	}

	r.metrics.resolution("authenticated")
	return Resolution{State: state, Action: DoNothing()}, nil
}
