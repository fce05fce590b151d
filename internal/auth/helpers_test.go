// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memstore"
)

var errMailDown = errors.New("smtp: connection refused")

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentChallenge struct {
	user *auth.User
	kind auth.ChallengeKind
	link string
}

// recordingMailer keeps every message and can be switched to fail.
type recordingMailer struct {
	mu            sync.Mutex
	fail          bool
	challenges    []sentChallenge
	notifications []auth.NotificationKind
}

func (m *recordingMailer) SendNotification(_ context.Context, _ *auth.User, kind auth.NotificationKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errMailDown
	}
	m.notifications = append(m.notifications, kind)
	return nil
}

func (m *recordingMailer) SendChallenge(_ context.Context, user *auth.User, kind auth.ChallengeKind, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errMailDown
	}
	m.challenges = append(m.challenges, sentChallenge{user: user, kind: kind, link: link})
	return nil
}

// lastLink parses the id and code out of the most recent challenge link.
func (m *recordingMailer) lastLink(t *testing.T) (ulid.ULID, string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.challenges, "no challenge was mailed")
	u, err := url.Parse(m.challenges[len(m.challenges)-1].link)
	require.NoError(t, err)
	id, err := ulid.Parse(u.Query().Get("id"))
	require.NoError(t, err)
	return id, u.Query().Get("code")
}

type fixture struct {
	store  *memstore.Store
	clock  *clock
	mailer *recordingMailer
	hasher *auth.Argon2idHasher
	opts   []auth.Option
}

func newFixture() *fixture {
	c := newClock()
	return &fixture{
		store:  memstore.New(),
		clock:  c,
		mailer: &recordingMailer{},
		hasher: fastHasher(),
		opts: []auth.Option{
			auth.WithClock(c.Now),
			auth.WithLogger(slog.New(slog.DiscardHandler)),
		},
	}
}

func (f *fixture) user(t *testing.T, email, password string) *auth.User {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	u, err := auth.NewUser(email, "Test User", hash)
	require.NoError(t, err)
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return u
}

func (f *fixture) sessions(t *testing.T) *auth.SessionManager {
	t.Helper()
	m, err := auth.NewSessionManager(f.store.Sessions(), auth.SessionTokenBytes, f.opts...)
	require.NoError(t, err)
	return m
}

func (f *fixture) engine(t *testing.T) *auth.ChallengeEngine {
	t.Helper()
	e, err := auth.NewChallengeEngine(auth.ChallengeDeps{
		Challenges: f.store.Challenges(),
		Users:      f.store.Users(),
		Hasher:     f.hasher,
		Mailer:     f.mailer,
	}, 24*time.Hour, auth.RedemptionLink("https://app.example/"), f.opts...)
	require.NoError(t, err)
	return e
}

func (f *fixture) service(t *testing.T) *auth.Service {
	t.Helper()
	cfg := auth.DefaultConfig()
	cfg.BaseURL = "https://app.example/"
	svc, err := auth.NewService(auth.ServiceDeps{
		Users:      f.store.Users(),
		Sessions:   f.store.Sessions(),
		Challenges: f.store.Challenges(),
		Hasher:     f.hasher,
		Mailer:     f.mailer,
	}, cfg, f.opts...)
	require.NoError(t, err)
	return svc
}
