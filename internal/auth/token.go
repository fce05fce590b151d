// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"

	"github.com/samber/oops"
)

// Token sizing.
const (
	MinTokenBytes      = 16 // 128 bits
	SessionTokenBytes  = 18 // 24 URL-safe chars
	ChallengeCodeBytes = 18
	MaxTokenRetries    = 32
)

// NormalizeTokenBytes clamps n to at least MinTokenBytes and rounds it up to
// a multiple of 3 so the encoded token carries no padding.
func NormalizeTokenBytes(n int) int {
	if n < MinTokenBytes {
		n = MinTokenBytes
	}
	if rem := n % 3; rem != 0 {
		n += 3 - rem
	}
	return n
}

// RandomToken reads NormalizeTokenBytes(n) bytes from r and returns them
// URL-safe base64 encoded.
func RandomToken(r io.Reader, n int) (string, error) {
	buf := make([]byte, NormalizeTokenBytes(n))
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintInUse reports whether a fingerprint is already held by a stored row.
type FingerprintInUse func(ctx context.Context, fingerprint string) (bool, error)

// TokenStore persists a row keyed by fingerprint. It returns
// ErrDuplicateFingerprint when the store's unique constraint rejects the
// fingerprint, which makes the generator try again with a fresh token.
type TokenStore func(ctx context.Context, fingerprint string) error

// TokenGenerator produces random tokens whose fingerprints are unique in a
// store. Uniqueness is checked before acceptance and again by the store's
// own constraint when a TokenStore is given.
type TokenGenerator struct {
	random  io.Reader
	logger  *slog.Logger
	metrics *Metrics
}

// NewTokenGenerator creates a TokenGenerator reading from crypto/rand unless
// WithRandom says otherwise.
func NewTokenGenerator(opts ...Option) *TokenGenerator {
	o := newOptions(opts)
	return &TokenGenerator{random: o.random, logger: o.logger, metrics: o.metrics}
}

// Generate returns a raw token of n bytes (normalized) and its fingerprint,
// retrying while inUse reports the fingerprint taken. inUse may be nil.
//
// Exhausting MaxTokenRetries, or failing to read randomness at all, returns a
// *FatalError: the randomness source is broken and the caller must not
// continue with a degraded uniqueness guarantee.
func (g *TokenGenerator) Generate(ctx context.Context, n int, inUse FingerprintInUse) (raw, fingerprint string, err error) {
	return g.GenerateStored(ctx, n, inUse, nil)
}

// GenerateStored behaves like Generate and then calls store with the accepted
// fingerprint. A store rejection with ErrDuplicateFingerprint consumes one
// retry from the same budget as a positive inUse check.
func (g *TokenGenerator) GenerateStored(ctx context.Context, n int, inUse FingerprintInUse, store TokenStore) (raw, fingerprint string, err error) {
	n = NormalizeTokenBytes(n)

	for retries := 0; retries <= MaxTokenRetries; retries++ {
		if retries > 0 {
			g.metrics.tokenRetry()
			g.logger.WarnContext(ctx, "token fingerprint collision, retrying",
				"retries", retries,
				"token_bytes", n,
				"improbability_bits", 8*n*retries)
		}

		raw, err = RandomToken(g.random, n)
		if err != nil {
			return "", "", fatal("random source failed: "+err.Error(), retries)
		}
		fingerprint = Fingerprint(raw)

		if inUse != nil {
			used, err := inUse(ctx, fingerprint)
			if err != nil {
				return "", "", oops.Code("AUTH_TOKEN_CHECK_FAILED").Wrap(err)
			}
			if used {
				continue
			}
		}

		if store != nil {
			if err := store(ctx, fingerprint); err != nil {
				if errors.Is(err, ErrDuplicateFingerprint) {
					continue
				}
				return "", "", err
			}
		}

		return raw, fingerprint, nil
	}

	return "", "", fatal("token fingerprint retry budget exhausted", MaxTokenRetries)
}
