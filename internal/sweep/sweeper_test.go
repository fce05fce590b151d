// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memstore"
	"github.com/holomush/authcore/pkg/errutil"
)

// mockTarget counts calls and fails the first failN calls of each sweep.
type mockTarget struct {
	mu              sync.Mutex
	sessionCalls    int
	challengeCalls  int
	sessionFailN    int
	challengeFailN  int
	sessionsSwept   int64
	challengesSwept int64
	lastNow         time.Time
}

var errDBDown = errors.New("connection reset by peer")

func (m *mockTarget) SweepExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionCalls++
	m.lastNow = now
	if m.sessionCalls <= m.sessionFailN {
		return 0, errDBDown
	}
	return m.sessionsSwept, nil
}

func (m *mockTarget) SweepExpiredChallenges(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challengeCalls++
	m.lastNow = now
	if m.challengeCalls <= m.challengeFailN {
		return 0, errDBDown
	}
	return m.challengesSwept, nil
}

func (m *mockTarget) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionCalls, m.challengeCalls
}

func newSweeper(t *testing.T, target Target, opts ...Option) *Sweeper {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	s, err := New(target, Config{Interval: time.Hour, Attempts: 3, Backoff: time.Millisecond}, opts...)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{Interval: time.Hour})
	errutil.AssertErrorCode(t, err, "SWEEP_INVALID_CONFIG")

	_, err = New(&mockTarget{}, Config{})
	errutil.AssertErrorCode(t, err, "SWEEP_INVALID_CONFIG")

	s, err := New(&mockTarget{}, Config{Interval: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultAttempts), s.cfg.Attempts)
	assert.Equal(t, DefaultBackoff, s.cfg.Backoff)
}

func TestRunOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	metrics := auth.NewMetrics(prometheus.NewRegistry())
	target := &mockTarget{sessionsSwept: 4, challengesSwept: 2}
	s := newSweeper(t, target, WithMetrics(metrics), WithClock(func() time.Time { return now }))

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sessions: 4, Challenges: 2}, res)
	assert.Equal(t, now, target.lastNow)
	assert.InDelta(t, 4, testutil.ToFloat64(metrics.SweptTotal.WithLabelValues("sessions")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.SweptTotal.WithLabelValues("challenges")), 0)
}

func TestRunOnce_RetriesTransientFailures(t *testing.T) {
	target := &mockTarget{sessionFailN: 2, sessionsSwept: 1}
	s := newSweeper(t, target)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Sessions)
	sessions, challenges := target.calls()
	assert.Equal(t, 3, sessions)
	assert.Equal(t, 1, challenges)
}

func TestRunOnce_ContinuesAfterFailure(t *testing.T) {
	target := &mockTarget{sessionFailN: 100, challengesSwept: 5}
	s := newSweeper(t, target)

	res, err := s.RunOnce(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, errDBDown)
	assert.Equal(t, int64(5), res.Challenges, "challenges swept despite the session failure")

	sessions, _ := target.calls()
	assert.Equal(t, 3, sessions, "gave up after the configured attempts")
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	target := &mockTarget{}
	s := newSweeper(t, target)
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		sessions, challenges := target.calls()
		return sessions >= 1 && challenges >= 1
	}, time.Second, 5*time.Millisecond, "first cycle runs immediately")

	s.Stop()
	s.Stop()
}

func TestStart_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	target := &mockTarget{}
	s, err := New(target, Config{Interval: 10 * time.Millisecond, Backoff: time.Millisecond},
		WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool {
		sessions, _ := target.calls()
		return sessions >= 3
	}, time.Second, 5*time.Millisecond, "ticks keep sweeping")

	cancel()
	s.wg.Wait()
}

func TestSweepsService(t *testing.T) {
	store := memstore.New()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	cfg := auth.DefaultConfig()
	svc, err := auth.NewService(auth.ServiceDeps{
		Users:      store.Users(),
		Sessions:   store.Sessions(),
		Challenges: store.Challenges(),
		Hasher:     auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1}),
		Mailer:     nopMailer{},
	}, cfg, auth.WithClock(now), auth.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	u, err := auth.NewUser("alice@example.com", "Alice", "$argon2id$stub")
	require.NoError(t, err)
	require.NoError(t, store.Users().Create(context.Background(), u))
	_, _, err = svc.Sessions().Begin(context.Background(), u.ID, time.Hour)
	require.NoError(t, err)
	_, _, err = svc.Sessions().Begin(context.Background(), u.ID, 48*time.Hour)
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	s := newSweeper(t, svc, WithClock(now))
	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Sessions, "expiry boundary is inclusive")
}

type nopMailer struct{}

func (nopMailer) SendNotification(context.Context, *auth.User, auth.NotificationKind) error {
	return nil
}

func (nopMailer) SendChallenge(context.Context, *auth.User, auth.ChallengeKind, string) error {
	return nil
}
