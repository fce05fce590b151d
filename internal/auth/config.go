// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"
	"time"

	"github.com/samber/oops"
)

// Config holds the lifecycle parameters of the auth core.
type Config struct {
	SessionTTL         time.Duration
	SessionRenewAfter  time.Duration
	ChallengeTTL       time.Duration
	SessionTokenBytes  int
	ChallengeCodeBytes int
	// BaseURL is the canonical application origin, ending with "/".
	BaseURL string
}

// DefaultConfig returns a seven-day session renewed after two days, and
// challenges valid for one day.
func DefaultConfig() Config {
	return Config{
		SessionTTL:         7 * 24 * time.Hour,
		SessionRenewAfter:  2 * 24 * time.Hour,
		ChallengeTTL:       24 * time.Hour,
		SessionTokenBytes:  SessionTokenBytes,
		ChallengeCodeBytes: ChallengeCodeBytes,
		BaseURL:            "https://localhost:8080/",
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.SessionTTL <= 0 {
		return oops.Code("AUTH_INVALID_CONFIG").With("session_ttl", c.SessionTTL).Errorf("session ttl must be positive")
	}
	if c.SessionRenewAfter <= 0 || c.SessionRenewAfter >= c.SessionTTL {
		return oops.Code("AUTH_INVALID_CONFIG").
			With("session_ttl", c.SessionTTL).
			With("session_renew_after", c.SessionRenewAfter).
			Errorf("session renew_after must be positive and shorter than the session ttl")
	}
	if c.ChallengeTTL <= 0 {
		return oops.Code("AUTH_INVALID_CONFIG").With("challenge_ttl", c.ChallengeTTL).Errorf("challenge ttl must be positive")
	}
	if c.SessionTokenBytes < MinTokenBytes || c.ChallengeCodeBytes < MinTokenBytes {
		return oops.Code("AUTH_INVALID_CONFIG").
			With("session_token_bytes", c.SessionTokenBytes).
			With("challenge_code_bytes", c.ChallengeCodeBytes).
			Errorf("tokens must carry at least %d random bytes", MinTokenBytes)
	}
	if !strings.HasSuffix(c.BaseURL, "/") {
		return oops.Code("AUTH_INVALID_CONFIG").With("base_url", c.BaseURL).Errorf("base url must end with /")
	}
	return nil
}
