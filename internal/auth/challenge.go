// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ChallengeKind identifies what redeeming a challenge authorizes. The core
// never interprets a kind beyond routing it back to the caller.
type ChallengeKind string

// Challenge kinds.
const (
	ChallengeLogIn         ChallengeKind = "log_in"
	ChallengeResetPassword ChallengeKind = "reset_password"
	ChallengeVerifyNewUser ChallengeKind = "verify_new_user"
	// ChallengeCustom is reserved for the embedding application. Its payload
	// is opaque to the core.
	ChallengeCustom ChallengeKind = "custom"
)

// Valid reports whether k is a known kind.
func (k ChallengeKind) Valid() bool {
	switch k {
	case ChallengeLogIn, ChallengeResetPassword, ChallengeVerifyNewUser, ChallengeCustom:
		return true
	default:
		return false
	}
}

// Challenge is a one-time emailed code. Only the slow hash of the code is stored.
type Challenge struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Kind      ChallengeKind
	Payload   string
	CodeHash  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpiredAt returns true if the challenge can no longer be redeemed at t.
func (c *Challenge) IsExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// ChallengeRepository manages challenge persistence.
type ChallengeRepository interface {
	// Create stores a new challenge.
	Create(ctx context.Context, challenge *Challenge) error

	// GetByID retrieves a challenge by ID without consuming it.
	GetByID(ctx context.Context, id ulid.ULID) (*Challenge, error)

	// Consume atomically deletes the challenge and returns it. Two concurrent
	// calls for the same ID never both succeed; the loser gets ErrNotFound.
	Consume(ctx context.Context, id ulid.ULID) (*Challenge, error)

	// Delete removes a challenge. Deleting a missing challenge is not an error.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteExpired removes all challenges with expires_at <= now and
	// returns the count of deleted records.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// IssueOutcome is the domain result of issuing a challenge.
type IssueOutcome int

// Issue outcomes.
const (
	// IssueDelivered means the mailer accepted the challenge.
	IssueDelivered IssueOutcome = iota
	// IssueEmailFailed means delivery failed and the challenge was withdrawn.
	IssueEmailFailed
)

func (o IssueOutcome) String() string {
	switch o {
	case IssueDelivered:
		return "delivered"
	case IssueEmailFailed:
		return "email_failed"
	default:
		return "unknown"
	}
}

// ChallengeIssue is the result of ChallengeEngine.Issue.
type ChallengeIssue struct {
	ID      ulid.ULID
	Outcome IssueOutcome
}

// LinkBuilder renders the redemption link mailed for a challenge.
type LinkBuilder func(id ulid.ULID, code string) string

// RedemptionLink returns a LinkBuilder producing
// <baseURL>verify?id=<id>&code=<code>. baseURL must end with a slash.
func RedemptionLink(baseURL string) LinkBuilder {
	return func(id ulid.ULID, code string) string {
		q := url.Values{}
		q.Set("id", id.String())
		q.Set("code", code)
		return baseURL + "verify?" + q.Encode()
	}
}

// ChallengeDeps are the collaborators of a ChallengeEngine.
type ChallengeDeps struct {
	Challenges ChallengeRepository
	Users      UserRepository
	Hasher     SecretHasher
	Mailer     Mailer
}

// ChallengeEngine issues, mails and redeems one-time codes.
type ChallengeEngine struct {
	repo      ChallengeRepository
	users     UserRepository
	hasher    SecretHasher
	mailer    Mailer
	tokens    *TokenGenerator
	ttl       time.Duration
	link      LinkBuilder
	dummyHash string
	now       func() time.Time
	logger    *slog.Logger
	metrics   *Metrics
}

// NewChallengeEngine creates a ChallengeEngine. Challenges expire ttl after
// issue; link renders the mailed redemption link.
func NewChallengeEngine(deps ChallengeDeps, ttl time.Duration, link LinkBuilder, opts ...Option) (*ChallengeEngine, error) {
	if deps.Challenges == nil {
		return nil, oops.Code("CHALLENGE_INVALID_CONFIG").Errorf("challenge repository is required")
	}
	if deps.Users == nil {
		return nil, oops.Code("CHALLENGE_INVALID_CONFIG").Errorf("user repository is required")
	}
	if deps.Hasher == nil {
		return nil, oops.Code("CHALLENGE_INVALID_CONFIG").Errorf("hasher is required")
	}
	if deps.Mailer == nil {
		return nil, oops.Code("CHALLENGE_INVALID_CONFIG").Errorf("mailer is required")
	}
	if ttl <= 0 {
		return nil, oops.Code("CHALLENGE_INVALID_CONFIG").With("ttl", ttl).Errorf("challenge ttl must be positive")
	}
	if link == nil {
		return nil, oops.Code("CHALLENGE_INVALID_CONFIG").Errorf("link builder is required")
	}

	o := newOptions(opts)
	return &ChallengeEngine{
		repo:      deps.Challenges,
		users:     deps.Users,
		hasher:    deps.Hasher,
		mailer:    deps.Mailer,
		tokens:    NewTokenGenerator(opts...),
		ttl:       ttl,
		link:      link,
		dummyHash: dummyHash(deps.Hasher),
		now:       o.now,
		logger:    o.logger,
		metrics:   o.metrics,
	}, nil
}

// Issue creates a challenge of kind for user, stores the slow hash of a fresh
// code, and mails the redemption link. If the mailer fails, the challenge is
// deleted again and the outcome is IssueEmailFailed with a nil error; errors
// are reserved for storage and randomness failures.
func (e *ChallengeEngine) Issue(ctx context.Context, user *User, kind ChallengeKind, payload string, codeBytes int) (ChallengeIssue, error) {
	if user == nil {
		return ChallengeIssue{}, oops.Code("CHALLENGE_INVALID_USER").Errorf("user is required")
	}
	if !kind.Valid() {
		return ChallengeIssue{}, oops.Code("CHALLENGE_INVALID_KIND").With("kind", string(kind)).Errorf("unknown challenge kind")
	}

	code, _, err := e.tokens.Generate(ctx, codeBytes, nil)
	if err != nil {
		return ChallengeIssue{}, oops.Code("CHALLENGE_ISSUE_FAILED").With("kind", string(kind)).Wrap(err)
	}
	codeHash, err := e.hasher.Hash(code)
	if err != nil {
		return ChallengeIssue{}, oops.Code("CHALLENGE_ISSUE_FAILED").With("kind", string(kind)).Wrap(err)
	}

	now := e.now()
	challenge := &Challenge{
		ID:        ulid.Make(),
		UserID:    user.ID,
		Kind:      kind,
		Payload:   payload,
		CodeHash:  codeHash,
		ExpiresAt: now.Add(e.ttl),
		CreatedAt: now,
	}
	if err := e.repo.Create(ctx, challenge); err != nil {
		return ChallengeIssue{}, oops.Code("CHALLENGE_ISSUE_FAILED").With("kind", string(kind)).Wrap(err)
	}

	if err := e.mailer.SendChallenge(ctx, user, kind, e.link(challenge.ID, code)); err != nil {
		e.logger.WarnContext(ctx, "challenge delivery failed, withdrawing challenge",
			"challenge_id", challenge.ID.String(), "kind", string(kind), "error", err)
		// The request may already be cancelled; the withdrawal must still happen.
		if err := e.Withdraw(context.WithoutCancel(ctx), challenge.ID); err != nil {
			return ChallengeIssue{}, err
		}
		e.metrics.challenge(kind, "email_failed")
		return ChallengeIssue{ID: challenge.ID, Outcome: IssueEmailFailed}, nil
	}

	e.metrics.challenge(kind, "issued")
	return ChallengeIssue{ID: challenge.ID, Outcome: IssueDelivered}, nil
}

// Complete redeems a challenge. The challenge is consumed by any attempt,
// right or wrong, so a code can be tried once. Absent, expired and
// wrong-code challenges all fail with the same unauthorized error after the
// same amount of hashing work.
func (e *ChallengeEngine) Complete(ctx context.Context, id ulid.ULID, code string) (*User, *Challenge, error) {
	challenge, err := e.repo.Consume(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, nil, oops.Code("CHALLENGE_COMPLETE_FAILED").With("challenge_id", id.String()).Wrap(err)
		}
		e.burn(code)
		e.metrics.challenge("unknown", "rejected")
		return nil, nil, unauthorized()
	}

	if challenge.IsExpiredAt(e.now()) {
		e.burn(code)
		e.metrics.challenge(challenge.Kind, "expired")
		return nil, nil, unauthorized()
	}

	ok, err := e.hasher.Verify(code, challenge.CodeHash)
	if err != nil {
		return nil, nil, oops.Code("CHALLENGE_COMPLETE_FAILED").With("challenge_id", id.String()).Wrap(err)
	}
	if !ok {
		e.metrics.challenge(challenge.Kind, "rejected")
		return nil, nil, unauthorized()
	}

	user, err := e.users.GetByID(ctx, challenge.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, unauthorized()
		}
		return nil, nil, oops.Code("CHALLENGE_COMPLETE_FAILED").With("challenge_id", id.String()).Wrap(err)
	}

	e.metrics.challenge(challenge.Kind, "completed")
	return user, challenge, nil
}

// Withdraw deletes a challenge that must no longer be redeemable.
func (e *ChallengeEngine) Withdraw(ctx context.Context, id ulid.ULID) error {
	if err := e.repo.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("CHALLENGE_WITHDRAW_FAILED").With("challenge_id", id.String()).Wrap(err)
	}
	return nil
}

// SweepExpired deletes all challenges expired at now.
func (e *ChallengeEngine) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := e.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, oops.Code("CHALLENGE_SWEEP_FAILED").Wrap(err)
	}
	e.metrics.RecordSwept("challenges", n)
	return n, nil
}

// burn runs a verification that cannot succeed so that rejections cost the
// same as a real check.
func (e *ChallengeEngine) burn(code string) {
	_, _ = e.hasher.Verify(code, e.dummyHash)
}
