// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "context"

// NotificationKind identifies a non-actionable notice sent to a user.
type NotificationKind string

// Notification kinds.
const (
	NotificationPasswordChanged NotificationKind = "password_changed"
)

// Mailer delivers mail to users. Implementations own transport and
// rendering; the auth core only decides what to send and to whom.
type Mailer interface {
	// SendNotification sends a notice the user need not act on.
	SendNotification(ctx context.Context, user *User, kind NotificationKind) error

	// SendChallenge sends a redemption link for a challenge.
	SendChallenge(ctx context.Context, user *User, kind ChallengeKind, link string) error
}
