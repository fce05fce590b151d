// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides the authentication and session-lifecycle core.
//
// # Building Blocks
//
//   - Argon2idHasher - slow, salted hashing for passwords and challenge codes
//   - Fingerprint - fast unsalted hash used as a lookup key for session tokens
//   - TokenGenerator - random tokens with fingerprint-collision retry
//   - SessionManager - begin, renew, resolve, revoke and sweep sessions
//   - ChallengeEngine - issue, deliver and redeem one-time emailed codes
//   - Resolver - maps a raw cookie value to an AuthState and a TokenAction
//
// # Flows
//
// Service composes the building blocks into registration, password and
// passwordless login, password reset, password change and logout. Validation
// problems and mail delivery failures are reported as typed outcomes; wrong
// credentials of any kind are reported as ErrUnauthorized.
//
// # Collaborators
//
// Persistence (UserRepository, SessionRepository, ChallengeRepository) and mail
// delivery (Mailer) are interfaces supplied by the embedding application. The
// fingerprint column must carry a uniqueness constraint; the generator's
// pre-check is only an optimization.
package auth
