// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sweep periodically deletes expired sessions and challenges.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/authcore/internal/auth"
)

// Retry defaults for a single sweep operation.
const (
	DefaultAttempts = 3
	DefaultBackoff  = time.Second
)

// Target is what the sweeper cleans. *auth.Service implements it.
type Target interface {
	SweepExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	SweepExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

// Result counts the rows deleted by one cycle.
type Result struct {
	Sessions   int64
	Challenges int64
}

// Config tunes a Sweeper.
type Config struct {
	Interval time.Duration
	// Attempts per operation before the cycle reports it failed. Zero means
	// DefaultAttempts.
	Attempts uint64
	// Backoff is the initial delay between attempts. Zero means
	// DefaultBackoff.
	Backoff time.Duration
}

// Sweeper runs expiry cleanup on an interval. Failures are logged and
// retried next cycle; they never stop the loop.
type Sweeper struct {
	cfg     Config
	target  Target
	logger  *slog.Logger
	metrics *auth.Metrics
	clock   func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics counts deleted rows.
func WithMetrics(m *auth.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.clock = now
		}
	}
}

// New creates a Sweeper.
func New(target Target, cfg Config, opts ...Option) (*Sweeper, error) {
	if target == nil {
		return nil, oops.Code("SWEEP_INVALID_CONFIG").Errorf("sweep target is required")
	}
	if cfg.Interval <= 0 {
		return nil, oops.Code("SWEEP_INVALID_CONFIG").With("interval", cfg.Interval).
			Errorf("sweep interval must be positive")
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}

	s := &Sweeper{
		cfg:    cfg,
		target: target,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunOnce sweeps sessions and then challenges. Both are attempted even if
// the first fails; errors are combined.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	now := s.clock()
	var res Result
	var errs []error

	n, err := s.sweep(ctx, "sessions", now, s.target.SweepExpiredSessions)
	if err != nil {
		errs = append(errs, err)
	}
	res.Sessions = n

	n, err = s.sweep(ctx, "challenges", now, s.target.SweepExpiredChallenges)
	if err != nil {
		errs = append(errs, err)
	}
	res.Challenges = n

	return res, errors.Join(errs...)
}

func (s *Sweeper) sweep(
	ctx context.Context,
	table string,
	now time.Time,
	fn func(ctx context.Context, now time.Time) (int64, error),
) (int64, error) {
	backoff := retry.WithMaxRetries(s.cfg.Attempts-1, retry.NewExponential(s.cfg.Backoff))

	var deleted int64
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n, err := fn(ctx, now)
		if err != nil {
			s.logger.WarnContext(ctx, "sweep attempt failed", "table", table, "error", err)
			return retry.RetryableError(err)
		}
		deleted = n
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", "table", table, "error", err)
		return 0, oops.Code("SWEEP_FAILED").With("table", table).Wrap(err)
	}

	s.metrics.RecordSwept(table, deleted)
	if deleted > 0 {
		s.logger.InfoContext(ctx, "swept expired rows", "table", table, "count", deleted)
	}
	return deleted, nil
}

// Start sweeps once immediately and then every interval until Stop or ctx
// is done.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the loop and waits for an in-flight cycle to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Sweeper) cycle(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "sweep cycle failed", "error", err)
	}
}
