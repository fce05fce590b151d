// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized is the single authorization failure. Wrong passwords,
// unknown users and bad or expired challenge codes all map to it so that
// callers cannot tell them apart.
var ErrUnauthorized = errors.New("unauthorized")

// ErrDuplicateFingerprint is returned by repositories when a token fingerprint
// is already held by another row.
var ErrDuplicateFingerprint = errors.New("duplicate token fingerprint")

// ErrEmailTaken is returned by UserRepository.Create when the email is already
// registered (case-insensitive).
var ErrEmailTaken = errors.New("email already registered")

// FatalError reports a broken randomness source. It must never be retried or
// downgraded; callers treat it as a process-level alert.
type FatalError struct {
	Reason  string
	Retries int
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s (after %d retries)", e.Reason, e.Retries)
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

func fatal(reason string, retries int) error {
	return oops.Code("AUTH_ENTROPY_EXHAUSTED").Wrap(&FatalError{Reason: reason, Retries: retries})
}

// unauthorized builds the error returned for every authorization failure.
func unauthorized() error {
	return oops.Code("AUTH_UNAUTHORIZED").Wrap(ErrUnauthorized)
}
