// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

const userColumns = `id, email, display_name, is_admin, password_hash,
		       require_email_verification, require_password_change, created_at, updated_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (
			id, email, display_name, is_admin, password_hash,
			require_email_verification, require_password_change, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		user.ID.String(),
		user.Email,
		user.DisplayName,
		user.IsAdmin,
		user.PasswordHash,
		user.RequireEmailVerification,
		user.RequirePasswordChange,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintUserEmail) {
			return oops.Code("USER_EMAIL_TAKEN").With("email", user.Email).Wrap(auth.ErrEmailTaken)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("email", user.Email).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email, ignoring case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return user, nil
}

// UpdatePassword replaces the password hash and the require-password-change flag.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, requireChange bool) error {
	return r.update(ctx, id, "update password", `
		UPDATE users SET password_hash = $2, require_password_change = $3, updated_at = NOW()
		WHERE id = $1
	`, passwordHash, requireChange)
}

// MarkEmailVerified clears the require-email-verification flag.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID) error {
	return r.update(ctx, id, "mark email verified", `
		UPDATE users SET require_email_verification = FALSE, updated_at = NOW()
		WHERE id = $1
	`)
}

// SetRequirePasswordChange sets the require-password-change flag.
func (r *UserRepository) SetRequirePasswordChange(ctx context.Context, id ulid.ULID, require bool) error {
	return r.update(ctx, id, "set require password change", `
		UPDATE users SET require_password_change = $2, updated_at = NOW()
		WHERE id = $1
	`, require)
}

// Delete removes a user. Sessions and challenges go with it (ON DELETE CASCADE).
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return r.update(ctx, id, "delete user", `DELETE FROM users WHERE id = $1`)
}

func (r *UserRepository) update(ctx context.Context, id ulid.ULID, operation, sql string, args ...any) error {
	result, err := r.db.Exec(ctx, sql, append([]any{id.String()}, args...)...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr     string
		user      auth.User
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(
		&idStr,
		&user.Email,
		&user.DisplayName,
		&user.IsAdmin,
		&user.PasswordHash,
		&user.RequireEmailVerification,
		&user.RequirePasswordChange,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}
	user.ID = id
	user.CreatedAt = createdAt
	user.UpdatedAt = updatedAt
	return &user, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
