// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks for the auth collaborator interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/authcore/internal/auth"
)

// T is the subset of *testing.T the constructors need.
type T interface {
	mock.TestingT
	Cleanup(func())
}

func register(t T, m *mock.Mock) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

// MockUserRepository is a mock auth.UserRepository.
type MockUserRepository struct{ mock.Mock }

var _ auth.UserRepository = (*MockUserRepository)(nil)

// NewMockUserRepository creates a mock that asserts its expectations on cleanup.
func NewMockUserRepository(t T) *MockUserRepository {
	m := &MockUserRepository{}
	register(t, &m.Mock)
	return m
}

func userResult(ret mock.Arguments) (*auth.User, error) {
	u, _ := ret.Get(0).(*auth.User)
	return u, ret.Error(1)
}

func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return userResult(m.Called(ctx, id))
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return userResult(m.Called(ctx, email))
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, requireChange bool) error {
	return m.Called(ctx, id, passwordHash, requireChange).Error(0)
}

func (m *MockUserRepository) MarkEmailVerified(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockUserRepository) SetRequirePasswordChange(ctx context.Context, id ulid.ULID, require bool) error {
	return m.Called(ctx, id, require).Error(0)
}

func (m *MockUserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

// MockSessionRepository is a mock auth.SessionRepository.
type MockSessionRepository struct{ mock.Mock }

var _ auth.SessionRepository = (*MockSessionRepository)(nil)

// NewMockSessionRepository creates a mock that asserts its expectations on cleanup.
func NewMockSessionRepository(t T) *MockSessionRepository {
	m := &MockSessionRepository{}
	register(t, &m.Mock)
	return m
}

func sessionResult(ret mock.Arguments) (*auth.Session, error) {
	s, _ := ret.Get(0).(*auth.Session)
	return s, ret.Error(1)
}

func (m *MockSessionRepository) Create(ctx context.Context, session *auth.Session) error {
	return m.Called(ctx, session).Error(0)
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	return sessionResult(m.Called(ctx, id))
}

func (m *MockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	return sessionResult(m.Called(ctx, tokenHash))
}

func (m *MockSessionRepository) TokenHashExists(ctx context.Context, tokenHash string) (bool, error) {
	ret := m.Called(ctx, tokenHash)
	return ret.Bool(0), ret.Error(1)
}

func (m *MockSessionRepository) UpdateToken(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	return m.Called(ctx, id, tokenHash, expiresAt).Error(0)
}

func (m *MockSessionRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockSessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	return m.Called(ctx, tokenHash).Error(0)
}

func (m *MockSessionRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ret := m.Called(ctx, now)
	n, _ := ret.Get(0).(int64)
	return n, ret.Error(1)
}

// MockChallengeRepository is a mock auth.ChallengeRepository.
type MockChallengeRepository struct{ mock.Mock }

var _ auth.ChallengeRepository = (*MockChallengeRepository)(nil)

// NewMockChallengeRepository creates a mock that asserts its expectations on cleanup.
func NewMockChallengeRepository(t T) *MockChallengeRepository {
	m := &MockChallengeRepository{}
	register(t, &m.Mock)
	return m
}

func challengeResult(ret mock.Arguments) (*auth.Challenge, error) {
	c, _ := ret.Get(0).(*auth.Challenge)
	return c, ret.Error(1)
}

func (m *MockChallengeRepository) Create(ctx context.Context, challenge *auth.Challenge) error {
	return m.Called(ctx, challenge).Error(0)
}

func (m *MockChallengeRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Challenge, error) {
	return challengeResult(m.Called(ctx, id))
}

func (m *MockChallengeRepository) Consume(ctx context.Context, id ulid.ULID) (*auth.Challenge, error) {
	return challengeResult(m.Called(ctx, id))
}

func (m *MockChallengeRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockChallengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ret := m.Called(ctx, now)
	n, _ := ret.Get(0).(int64)
	return n, ret.Error(1)
}

// MockSecretHasher is a mock auth.SecretHasher.
type MockSecretHasher struct{ mock.Mock }

var _ auth.SecretHasher = (*MockSecretHasher)(nil)

// NewMockSecretHasher creates a mock that asserts its expectations on cleanup.
func NewMockSecretHasher(t T) *MockSecretHasher {
	m := &MockSecretHasher{}
	register(t, &m.Mock)
	return m
}

func (m *MockSecretHasher) Hash(secret string) (string, error) {
	ret := m.Called(secret)
	return ret.String(0), ret.Error(1)
}

func (m *MockSecretHasher) Verify(secret, hash string) (bool, error) {
	ret := m.Called(secret, hash)
	return ret.Bool(0), ret.Error(1)
}

// MockMailer is a mock auth.Mailer.
type MockMailer struct{ mock.Mock }

var _ auth.Mailer = (*MockMailer)(nil)

// NewMockMailer creates a mock that asserts its expectations on cleanup.
func NewMockMailer(t T) *MockMailer {
	m := &MockMailer{}
	register(t, &m.Mock)
	return m
}

func (m *MockMailer) SendNotification(ctx context.Context, user *auth.User, kind auth.NotificationKind) error {
	return m.Called(ctx, user, kind).Error(0)
}

func (m *MockMailer) SendChallenge(ctx context.Context, user *auth.User, kind auth.ChallengeKind, link string) error {
	return m.Called(ctx, user, kind, link).Error(0)
}
