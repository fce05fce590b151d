// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/mocks"
	"github.com/holomush/authcore/pkg/errutil"
)

func TestChallengeKindValid(t *testing.T) {
	for _, k := range []auth.ChallengeKind{auth.ChallengeLogIn, auth.ChallengeResetPassword, auth.ChallengeVerifyNewUser, auth.ChallengeCustom} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, auth.ChallengeKind("admin").Valid())
}

func TestRedemptionLink(t *testing.T) {
	id := ulid.Make()
	link := auth.RedemptionLink("https://app.example/")(id, "abc-_123")
	assert.Equal(t, "https://app.example/verify?code=abc-_123&id="+id.String(), link)
}

func TestNewChallengeEngineValidation(t *testing.T) {
	f := newFixture()
	full := auth.ChallengeDeps{
		Challenges: f.store.Challenges(),
		Users:      f.store.Users(),
		Hasher:     f.hasher,
		Mailer:     f.mailer,
	}
	link := auth.RedemptionLink("https://app.example/")

	tests := []struct {
		name string
		edit func(d *auth.ChallengeDeps)
		ttl  time.Duration
		link auth.LinkBuilder
	}{
		{"nil challenges", func(d *auth.ChallengeDeps) { d.Challenges = nil }, time.Hour, link},
		{"nil users", func(d *auth.ChallengeDeps) { d.Users = nil }, time.Hour, link},
		{"nil hasher", func(d *auth.ChallengeDeps) { d.Hasher = nil }, time.Hour, link},
		{"nil mailer", func(d *auth.ChallengeDeps) { d.Mailer = nil }, time.Hour, link},
		{"zero ttl", func(*auth.ChallengeDeps) {}, 0, link},
		{"nil link", func(*auth.ChallengeDeps) {}, time.Hour, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.edit(&deps)
			_, err := auth.NewChallengeEngine(deps, tt.ttl, tt.link)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CHALLENGE_INVALID_CONFIG")
		})
	}
}

func TestChallengeEngineIssueAndComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	u := f.user(t, "gail@example.com", "password1")
	e := f.engine(t)

	issue, err := e.Issue(ctx, u, auth.ChallengeLogIn, "", auth.ChallengeCodeBytes)
	require.NoError(t, err)
	assert.Equal(t, auth.IssueDelivered, issue.Outcome)

	id, code := f.mailer.lastLink(t)
	assert.Equal(t, issue.ID, id)
	assert.Len(t, code, 24)

	stored, err := f.store.Challenges().GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.CodeHash, "$argon2id$"), "codes are stored slow-hashed")
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), stored.ExpiresAt)

	user, challenge, err := e.Complete(ctx, id, code)
	require.NoError(t, err)
	assert.Equal(t, u.ID, user.ID)
	assert.Equal(t, auth.ChallengeLogIn, challenge.Kind)

	_, _, err = e.Complete(ctx, id, code)
	assert.ErrorIs(t, err, auth.ErrUnauthorized, "a challenge is redeemed once")
}

func TestChallengeEngineCompleteFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong code consumes the challenge", func(t *testing.T) {
		f := newFixture()
		u := f.user(t, "hal@example.com", "password1")
		e := f.engine(t)

		_, err := e.Issue(ctx, u, auth.ChallengeResetPassword, "", auth.ChallengeCodeBytes)
		require.NoError(t, err)
		id, code := f.mailer.lastLink(t)

		_, _, err = e.Complete(ctx, id, "wrong")
		require.ErrorIs(t, err, auth.ErrUnauthorized)
		errutil.AssertErrorCode(t, err, "AUTH_UNAUTHORIZED")

		_, _, err = e.Complete(ctx, id, code)
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
	})

	t.Run("expired at the exact expiry instant", func(t *testing.T) {
		f := newFixture()
		u := f.user(t, "ivy@example.com", "password1")
		e := f.engine(t)

		_, err := e.Issue(ctx, u, auth.ChallengeVerifyNewUser, "", auth.ChallengeCodeBytes)
		require.NoError(t, err)
		id, code := f.mailer.lastLink(t)

		f.clock.Advance(24 * time.Hour)
		_, _, err = e.Complete(ctx, id, code)
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
	})

	t.Run("unknown id", func(t *testing.T) {
		f := newFixture()
		e := f.engine(t)
		_, _, err := e.Complete(ctx, ulid.Make(), "code")
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
	})

	t.Run("errors are indistinguishable", func(t *testing.T) {
		f := newFixture()
		u := f.user(t, "jon@example.com", "password1")
		e := f.engine(t)
		_, err := e.Issue(ctx, u, auth.ChallengeLogIn, "", auth.ChallengeCodeBytes)
		require.NoError(t, err)
		id, _ := f.mailer.lastLink(t)

		_, _, wrong := e.Complete(ctx, id, "wrong")
		_, _, missing := e.Complete(ctx, ulid.Make(), "wrong")
		assert.Equal(t, wrong.Error(), missing.Error())
	})

	t.Run("storage failure is not unauthorized", func(t *testing.T) {
		f := newFixture()
		repo := mocks.NewMockChallengeRepository(t)
		repo.On("Consume", mock.Anything, mock.Anything).Return(nil, assert.AnError)
		e, err := auth.NewChallengeEngine(auth.ChallengeDeps{
			Challenges: repo, Users: f.store.Users(), Hasher: f.hasher, Mailer: f.mailer,
		}, time.Hour, auth.RedemptionLink("https://app.example/"), f.opts...)
		require.NoError(t, err)

		_, _, err = e.Complete(ctx, ulid.Make(), "code")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrUnauthorized)
		errutil.AssertErrorCode(t, err, "CHALLENGE_COMPLETE_FAILED")
	})
}

func TestChallengeEngineMailFailureWithdrawsChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	u := f.user(t, "kim@example.com", "password1")
	e := f.engine(t)
	f.mailer.fail = true

	issue, err := e.Issue(ctx, u, auth.ChallengeVerifyNewUser, "", auth.ChallengeCodeBytes)
	require.NoError(t, err, "delivery failure is an outcome, not an error")
	assert.Equal(t, auth.IssueEmailFailed, issue.Outcome)

	_, err = f.store.Challenges().GetByID(ctx, issue.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound, "an undeliverable challenge must not remain redeemable")
}

func TestChallengeEngineWithdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	u := f.user(t, "ria@example.com", "password1")
	e := f.engine(t)

	issue, err := e.Issue(ctx, u, auth.ChallengeLogIn, "", auth.ChallengeCodeBytes)
	require.NoError(t, err)
	id, code := f.mailer.lastLink(t)
	require.Equal(t, issue.ID, id)

	require.NoError(t, e.Withdraw(ctx, id))
	require.NoError(t, e.Withdraw(ctx, id), "withdrawing twice is not an error")

	_, _, err = e.Complete(ctx, id, code)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestChallengeEngineIssueValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	u := f.user(t, "lee@example.com", "password1")
	e := f.engine(t)

	_, err := e.Issue(ctx, nil, auth.ChallengeLogIn, "", 18)
	errutil.AssertErrorCode(t, err, "CHALLENGE_INVALID_USER")

	_, err = e.Issue(ctx, u, auth.ChallengeKind("bogus"), "", 18)
	errutil.AssertErrorCode(t, err, "CHALLENGE_INVALID_KIND")
}

func TestChallengeEngineCustomPayloadIsOpaque(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	u := f.user(t, "max@example.com", "password1")
	e := f.engine(t)

	payload := `{"action":"delete-account","nonce":7}`
	_, err := e.Issue(ctx, u, auth.ChallengeCustom, payload, auth.ChallengeCodeBytes)
	require.NoError(t, err)
	id, code := f.mailer.lastLink(t)

	_, challenge, err := e.Complete(ctx, id, code)
	require.NoError(t, err)
	assert.Equal(t, auth.ChallengeCustom, challenge.Kind)
	assert.Equal(t, payload, challenge.Payload)
}

func TestChallengeEngineSweepExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	u := f.user(t, "ned@example.com", "password1")
	e := f.engine(t)

	_, err := e.Issue(ctx, u, auth.ChallengeLogIn, "", auth.ChallengeCodeBytes)
	require.NoError(t, err)

	n, err := e.SweepExpired(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = e.SweepExpired(ctx, f.clock.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
