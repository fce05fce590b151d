// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"io"
	"log/slog"
	"time"
)

// Option configures the auth building blocks (TokenGenerator, SessionManager,
// ChallengeEngine, Resolver, Service). Options a component has no use for are
// ignored.
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
	random  io.Reader
}

func newOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		logger: slog.Default(),
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the time source. Tests use it to pin "now".
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink. Without it nothing is recorded.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRandom replaces the cryptographic randomness source used for tokens.
func WithRandom(r io.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.random = r
		}
	}
}
