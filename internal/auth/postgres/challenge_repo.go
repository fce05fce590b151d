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

const challengeColumns = `id, user_id, kind, payload, code_hash, expires_at, created_at`

// ChallengeRepository implements auth.ChallengeRepository using PostgreSQL.
type ChallengeRepository struct {
	db DB
}

// NewChallengeRepository creates a new ChallengeRepository.
func NewChallengeRepository(db DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// Create stores a new challenge.
func (r *ChallengeRepository) Create(ctx context.Context, c *auth.Challenge) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO challenges (`+challengeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		c.ID.String(),
		c.UserID.String(),
		string(c.Kind),
		c.Payload,
		c.CodeHash,
		c.ExpiresAt,
		c.CreatedAt,
	)
	if err != nil {
		return oops.Code("CHALLENGE_CREATE_FAILED").
			With("operation", "insert challenge").
			With("user_id", c.UserID.String()).
			With("kind", string(c.Kind)).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a challenge without consuming it.
func (r *ChallengeRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Challenge, error) {
	row := r.db.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id.String())
	c, err := scanChallenge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CHALLENGE_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CHALLENGE_GET_FAILED").
			With("operation", "get challenge by id").
			With("id", id.String()).
			Wrap(err)
	}
	return c, nil
}

// Consume deletes the challenge and returns the deleted row in one
// statement. Of two concurrent callers only one sees the row.
func (r *ChallengeRepository) Consume(ctx context.Context, id ulid.ULID) (*auth.Challenge, error) {
	row := r.db.QueryRow(ctx, `DELETE FROM challenges WHERE id = $1 RETURNING `+challengeColumns, id.String())
	c, err := scanChallenge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CHALLENGE_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CHALLENGE_CONSUME_FAILED").
			With("operation", "consume challenge").
			With("id", id.String()).
			Wrap(err)
	}
	return c, nil
}

// Delete removes a challenge. A missing challenge is not an error.
func (r *ChallengeRepository) Delete(ctx context.Context, id ulid.ULID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM challenges WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("CHALLENGE_DELETE_FAILED").
			With("operation", "delete challenge").
			With("id", id.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes all challenges with expires_at <= now and returns the count.
func (r *ChallengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM challenges WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("CHALLENGE_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired challenges").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func scanChallenge(row pgx.Row) (*auth.Challenge, error) {
	var (
		idStr     string
		userIDStr string
		kind      string
		c         auth.Challenge
	)
	err := row.Scan(&idStr, &userIDStr, &kind, &c.Payload, &c.CodeHash, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("CHALLENGE_SCAN_FAILED").With("operation", "scan challenge").Wrap(err)
	}

	if c.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("CHALLENGE_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if c.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("CHALLENGE_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	c.Kind = auth.ChallengeKind(kind)
	if !c.Kind.Valid() {
		return nil, oops.Code("CHALLENGE_INVALID_KIND").With("kind", kind).Errorf("unknown challenge kind %q", kind)
	}
	return &c, nil
}

// Compile-time interface check.
var _ auth.ChallengeRepository = (*ChallengeRepository)(nil)
