// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RegistrationError is a registration failure the user resolves by entering
// different details. The value is the user-facing message.
type RegistrationError string

// Registration errors.
const (
	RegistrationMalformedEmail     RegistrationError = "Malformed email address"
	RegistrationEmailAlreadyExists RegistrationError = "Email address already in use"
	RegistrationEmailFailed        RegistrationError = "Failed to send an email with the verification link"
	RegistrationMissingDisplayName RegistrationError = "Please choose a display name"
	RegistrationPasswordTooShort   RegistrationError = "Please choose a password of at least 8 characters"
)

// RegistrationOutcome is the result of Register. Error is empty on success.
type RegistrationOutcome struct {
	ChallengeID ulid.ULID         `json:"verificationID"`
	Error       RegistrationError `json:"error,omitempty"`
}

// LoginError is a login refusal that is not an authorization failure.
type LoginError string

// Login errors.
const (
	LoginEmailNotVerified LoginError = "Please verify your email address first"
)

// LoginOutcome is the result of Login. On success Token holds the raw session
// token for the cookie.
type LoginOutcome struct {
	User  *User
	Token string
	Error LoginError
}

// PasswordChangeError is a password change refusal the user can fix.
type PasswordChangeError string

// Password change errors.
const (
	PasswordChangeTooShort PasswordChangeError = "Please choose a password of at least 8 characters"
)

// PasswordChangeOutcome is the result of ChangePassword. On success Token
// holds the raw token of the fresh session that replaces all others.
type PasswordChangeOutcome struct {
	Token string
	Error PasswordChangeError
}

// Redemption is the result of RedeemChallenge. Token is set when redeeming
// started a session.
type Redemption struct {
	User    *User
	Kind    ChallengeKind
	Payload string
	Token   string
}

// ServiceDeps are the collaborators of a Service.
type ServiceDeps struct {
	Users      UserRepository
	Sessions   SessionRepository
	Challenges ChallengeRepository
	Hasher     SecretHasher
	Mailer     Mailer
}

// rehasher is implemented by hashers that can tell when a stored hash uses
// outdated parameters.
type rehasher interface {
	NeedsRehash(hash string) bool
}

// Service composes the building blocks into the account flows: register,
// login, passwordless login, password reset, challenge redemption, password
// change and logout.
type Service struct {
	cfg        Config
	users      UserRepository
	hasher     SecretHasher
	mailer     Mailer
	sessions   *SessionManager
	challenges *ChallengeEngine
	resolver   *Resolver
	dummyHash  string
	logger     *slog.Logger
}

// NewService creates a Service.
func NewService(deps ServiceDeps, cfg Config, opts ...Option) (*Service, error) {
	if deps.Users == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("user repository is required")
	}
	if deps.Sessions == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("session repository is required")
	}
	if deps.Challenges == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("challenge repository is required")
	}
	if deps.Hasher == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("hasher is required")
	}
	if deps.Mailer == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("mailer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sessions, err := NewSessionManager(deps.Sessions, cfg.SessionTokenBytes, opts...)
	if err != nil {
		return nil, err
	}
	challenges, err := NewChallengeEngine(ChallengeDeps{
		Challenges: deps.Challenges,
		Users:      deps.Users,
		Hasher:     deps.Hasher,
		Mailer:     deps.Mailer,
	}, cfg.ChallengeTTL, RedemptionLink(cfg.BaseURL), opts...)
	if err != nil {
		return nil, err
	}
	resolver, err := NewResolver(sessions, deps.Users, cfg.SessionTTL, cfg.SessionRenewAfter, opts...)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	return &Service{
		cfg:        cfg,
		users:      deps.Users,
		hasher:     deps.Hasher,
		mailer:     deps.Mailer,
		sessions:   sessions,
		challenges: challenges,
		resolver:   resolver,
		dummyHash:  challenges.dummyHash,
		logger:     o.logger,
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// Resolver returns the per-request session resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Sessions returns the session manager.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Challenges returns the challenge engine.
func (s *Service) Challenges() *ChallengeEngine { return s.challenges }

// Register creates an account awaiting email verification and mails it a
// VerifyNewUser challenge. The user row exists from the start with
// RequireEmailVerification set, which blocks password login until the
// challenge is redeemed. If the challenge cannot be mailed, the user row is
// removed again so the address stays free.
func (s *Service) Register(ctx context.Context, email, displayName, password string) (RegistrationOutcome, error) {
	email, err := ValidateEmail(email)
	if err != nil {
		return RegistrationOutcome{Error: RegistrationMalformedEmail}, nil
	}
	if ValidateDisplayName(displayName) != nil {
		return RegistrationOutcome{Error: RegistrationMissingDisplayName}, nil
	}
	if ValidatePassword(password) != nil {
		return RegistrationOutcome{Error: RegistrationPasswordTooShort}, nil
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return RegistrationOutcome{Error: RegistrationEmailAlreadyExists}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return RegistrationOutcome{}, oops.Code("AUTH_REGISTER_FAILED").With("operation", "lookup email").Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return RegistrationOutcome{}, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}
	user, err := NewUser(email, displayName, hash)
	if err != nil {
		return RegistrationOutcome{}, oops.Code("AUTH_REGISTER_FAILED").Wrap(err)
	}
	user.RequireEmailVerification = true

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return RegistrationOutcome{Error: RegistrationEmailAlreadyExists}, nil
		}
		return RegistrationOutcome{}, oops.Code("AUTH_REGISTER_FAILED").With("operation", "create user").Wrap(err)
	}

	issue, err := s.challenges.Issue(ctx, user, ChallengeVerifyNewUser, "", s.cfg.ChallengeCodeBytes)
	if err != nil {
		s.discardUser(ctx, user)
		return RegistrationOutcome{}, oops.Code("AUTH_REGISTER_FAILED").With("operation", "issue challenge").Wrap(err)
	}
	if issue.Outcome == IssueEmailFailed {
		s.logger.InfoContext(ctx, "verification email failed, registration withdrawn", "user_id", user.ID.String())
		if err := s.users.Delete(context.WithoutCancel(ctx), user.ID); err != nil {
			return RegistrationOutcome{}, oops.Code("AUTH_REGISTER_FAILED").With("operation", "withdraw user").Wrap(err)
		}
		return RegistrationOutcome{Error: RegistrationEmailFailed}, nil
	}

	return RegistrationOutcome{ChallengeID: issue.ID}, nil
}

func (s *Service) discardUser(ctx context.Context, user *User) {
	if err := s.users.Delete(context.WithoutCancel(ctx), user.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to withdraw user after registration error",
			"user_id", user.ID.String(), "error", err)
	}
}

// Login checks an email and password and starts a session. Unknown emails and
// wrong passwords both fail with the same unauthorized error after the same
// hashing work.
func (s *Service) Login(ctx context.Context, email, password string) (LoginOutcome, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return LoginOutcome{}, oops.Code("AUTH_LOGIN_FAILED").With("operation", "get user by email").Wrap(err)
		}
		_, _ = s.hasher.Verify(password, s.dummyHash)
		return LoginOutcome{}, unauthorized()
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return LoginOutcome{}, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if !ok {
		return LoginOutcome{}, unauthorized()
	}

	if user.RequireEmailVerification {
		return LoginOutcome{Error: LoginEmailNotVerified}, nil
	}

	s.maybeRehash(ctx, user, password)

	token, _, err := s.sessions.Begin(ctx, user.ID, s.cfg.SessionTTL)
	if err != nil {
		return LoginOutcome{}, oops.Code("AUTH_LOGIN_FAILED").With("operation", "begin session").Wrap(err)
	}
	return LoginOutcome{User: user, Token: token}, nil
}

// maybeRehash upgrades a stored hash made with outdated parameters. Failures
// are logged; the login still succeeds.
func (s *Service) maybeRehash(ctx context.Context, user *User, password string) {
	rh, ok := s.hasher.(rehasher)
	if !ok || !rh.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, user.ID, hash, user.RequirePasswordChange)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID.String(), "error", err)
		return
	}
	user.PasswordHash = hash
}

// RequestLoginLink mails a passwordless login challenge. An unknown email
// reports IssueDelivered so callers cannot probe for accounts.
func (s *Service) RequestLoginLink(ctx context.Context, email string) (IssueOutcome, error) {
	return s.requestChallenge(ctx, email, ChallengeLogIn)
}

// RequestPasswordReset mails a password reset challenge. An unknown email
// reports IssueDelivered so callers cannot probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (IssueOutcome, error) {
	return s.requestChallenge(ctx, email, ChallengeResetPassword)
}

func (s *Service) requestChallenge(ctx context.Context, email string, kind ChallengeKind) (IssueOutcome, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return 0, oops.Code("AUTH_CHALLENGE_REQUEST_FAILED").With("kind", string(kind)).Wrap(err)
		}
		// Match the hashing cost of issuing a real challenge.
		_, _ = s.hasher.Hash(email)
		s.logger.DebugContext(ctx, "challenge requested for unknown email", "kind", string(kind))
		return IssueDelivered, nil
	}

	issue, err := s.challenges.Issue(ctx, user, kind, "", s.cfg.ChallengeCodeBytes)
	if err != nil {
		return 0, oops.Code("AUTH_CHALLENGE_REQUEST_FAILED").With("kind", string(kind)).Wrap(err)
	}
	return issue.Outcome, nil
}

// RedeemChallenge completes a challenge and applies what its kind means:
//
//   - VerifyNewUser: the email is marked verified
//   - LogIn: the email is marked verified and a session begins
//   - ResetPassword: a password change is required and a session begins
//   - Custom: nothing; the caller interprets the payload
func (s *Service) RedeemChallenge(ctx context.Context, id ulid.ULID, code string) (Redemption, error) {
	user, challenge, err := s.challenges.Complete(ctx, id, code)
	if err != nil {
		return Redemption{}, err
	}

	r := Redemption{User: user, Kind: challenge.Kind, Payload: challenge.Payload}
	switch challenge.Kind {
	case ChallengeVerifyNewUser:
		if err := s.markVerified(ctx, user); err != nil {
			return Redemption{}, err
		}
	case ChallengeLogIn:
		if err := s.markVerified(ctx, user); err != nil {
			return Redemption{}, err
		}
		if r.Token, _, err = s.sessions.Begin(ctx, user.ID, s.cfg.SessionTTL); err != nil {
			return Redemption{}, oops.Code("AUTH_REDEEM_FAILED").With("operation", "begin session").Wrap(err)
		}
	case ChallengeResetPassword:
		if err := s.users.SetRequirePasswordChange(ctx, user.ID, true); err != nil {
			return Redemption{}, oops.Code("AUTH_REDEEM_FAILED").With("operation", "require password change").Wrap(err)
		}
		user.RequirePasswordChange = true
		if r.Token, _, err = s.sessions.Begin(ctx, user.ID, s.cfg.SessionTTL); err != nil {
			return Redemption{}, oops.Code("AUTH_REDEEM_FAILED").With("operation", "begin session").Wrap(err)
		}
	case ChallengeCustom:
	}

	return r, nil
}

func (s *Service) markVerified(ctx context.Context, user *User) error {
	if !user.RequireEmailVerification {
		return nil
	}
	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return oops.Code("AUTH_REDEEM_FAILED").With("operation", "mark email verified").Wrap(err)
	}
	user.RequireEmailVerification = false
	return nil
}

// ChangePassword replaces the password of the authenticated user. The current
// password is required unless a reset has set RequirePasswordChange. All of
// the user's sessions are revoked and a fresh one begins.
func (s *Service) ChangePassword(ctx context.Context, st AuthState, current, next string) (PasswordChangeOutcome, error) {
	if !st.Authenticated() {
		return PasswordChangeOutcome{}, unauthorized()
	}
	user := st.User

	if ValidatePassword(next) != nil {
		return PasswordChangeOutcome{Error: PasswordChangeTooShort}, nil
	}

	if !user.RequirePasswordChange {
		ok, err := s.hasher.Verify(current, user.PasswordHash)
		if err != nil {
			return PasswordChangeOutcome{}, oops.Code("AUTH_PASSWORD_CHANGE_FAILED").With("operation", "verify password").Wrap(err)
		}
		if !ok {
			return PasswordChangeOutcome{}, unauthorized()
		}
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return PasswordChangeOutcome{}, oops.Code("AUTH_PASSWORD_CHANGE_FAILED").With("operation", "hash password").Wrap(err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash, false); err != nil {
		return PasswordChangeOutcome{}, oops.Code("AUTH_PASSWORD_CHANGE_FAILED").With("operation", "update password").Wrap(err)
	}
	user.PasswordHash = hash
	user.RequirePasswordChange = false

	if err := s.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		return PasswordChangeOutcome{}, oops.Code("AUTH_PASSWORD_CHANGE_FAILED").Wrap(err)
	}
	token, _, err := s.sessions.Begin(ctx, user.ID, s.cfg.SessionTTL)
	if err != nil {
		return PasswordChangeOutcome{}, oops.Code("AUTH_PASSWORD_CHANGE_FAILED").With("operation", "begin session").Wrap(err)
	}

	if err := s.mailer.SendNotification(ctx, user, NotificationPasswordChanged); err != nil {
		s.logger.WarnContext(ctx, "password change notification failed", "user_id", user.ID.String(), "error", err)
	}

	return PasswordChangeOutcome{Token: token}, nil
}

// Logout revokes the request's session. Logging out while unauthenticated
// is a no-op.
func (s *Service) Logout(ctx context.Context, st AuthState) error {
	if !st.Authenticated() {
		return nil
	}
	return s.sessions.Revoke(ctx, st.SessionID)
}

// SweepExpiredSessions deletes sessions expired at now.
func (s *Service) SweepExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.sessions.SweepExpired(ctx, now)
}

// SweepExpiredChallenges deletes challenges expired at now.
func (s *Service) SweepExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	return s.challenges.SweepExpired(ctx, now)
}
