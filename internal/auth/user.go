// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinPasswordLength is the shortest password accepted at registration and
// password change.
const MinPasswordLength = 8

// User is an identity record. Email is unique case-insensitively.
type User struct {
	ID                       ulid.ULID
	Email                    string
	DisplayName              string
	IsAdmin                  bool
	PasswordHash             string
	RequireEmailVerification bool
	RequirePasswordChange    bool
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// NewUser creates a validated User with a fresh ID. The password hash must
// already be computed.
func NewUser(email, displayName, passwordHash string) (*User, error) {
	normalized, err := ValidateEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_PASSWORD_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Email:        normalized,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateEmail checks that email is a bare address and returns it trimmed.
// Case is preserved; comparisons are case-insensitive in the repository.
func ValidateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", oops.Code("USER_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return "", oops.Code("USER_INVALID_EMAIL").With("email", email).Errorf("malformed email address")
	}
	return email, nil
}

// ValidateDisplayName checks that the display name is not blank.
func ValidateDisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return oops.Code("USER_INVALID_DISPLAY_NAME").Errorf("display name cannot be empty")
	}
	return nil
}

// ValidatePassword checks the password length policy.
func ValidatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return oops.Code("USER_PASSWORD_TOO_SHORT").
			With("min_length", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrEmailTaken if the email is
	// already registered.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email, ignoring case.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePassword replaces the password hash and sets the
	// require-password-change flag.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, requireChange bool) error

	// MarkEmailVerified clears the require-email-verification flag.
	MarkEmailVerified(ctx context.Context, id ulid.ULID) error

	// SetRequirePasswordChange sets the require-password-change flag.
	SetRequirePasswordChange(ctx context.Context, id ulid.ULID, require bool) error

	// Delete removes a user. Used only to compensate a failed registration.
	Delete(ctx context.Context, id ulid.ULID) error
}
