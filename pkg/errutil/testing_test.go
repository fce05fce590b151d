// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/authcore/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("session_id", "01HZX").Errorf("test error")
	errutil.AssertErrorContext(t, err, "session_id", "01HZX")
}

func TestAssertErrorCode_InnermostCodeWins(t *testing.T) {
	inner := oops.Code("SESSION_NOT_FOUND").Errorf("missing")
	err := oops.Code("AUTH_RESOLVE_FAILED").Wrap(inner)
	errutil.AssertErrorCode(t, err, "SESSION_NOT_FOUND")
}

func TestAssertSentinel_WrappedSentinel(t *testing.T) {
	sentinel := errors.New("not found")
	err := oops.Code("USER_NOT_FOUND").With("user_id", "01HZX").Wrap(sentinel)
	errutil.AssertSentinel(t, err, sentinel, "USER_NOT_FOUND")
}

func TestAssertErrorContext_MergedAcrossChain(t *testing.T) {
	inner := oops.With("challenge_id", "01HZX").Errorf("gone")
	err := oops.With("operation", "complete").Wrap(inner)
	errutil.AssertErrorContext(t, err, "challenge_id", "01HZX")
	errutil.AssertErrorContext(t, err, "operation", "complete")
}
