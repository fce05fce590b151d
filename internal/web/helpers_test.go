// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/memstore"
	"github.com/holomush/authcore/internal/web"
)

const (
	baseURL    = "https://app.example/"
	cookieName = "session_token"
	sessionTTL = 7 * 24 * time.Hour
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mailbox struct {
	mu    sync.Mutex
	fail  bool
	links []string
}

func (m *mailbox) SendNotification(context.Context, *auth.User, auth.NotificationKind) error {
	return nil
}

func (m *mailbox) SendChallenge(_ context.Context, _ *auth.User, _ auth.ChallengeKind, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp: connection refused")
	}
	m.links = append(m.links, link)
	return nil
}

// lastPath returns the path and query of the most recent link, ready to be
// requested against the test server.
func (m *mailbox) lastPath(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.links, "no challenge was mailed")
	u, err := url.Parse(m.links[len(m.links)-1])
	require.NoError(t, err)
	return u.RequestURI()
}

type env struct {
	srv         *web.Server
	store       *memstore.Store
	hasher      *auth.Argon2idHasher
	mail        *mailbox
	clock       *clock
	authMetrics *auth.Metrics
}

func newEnv(t *testing.T, opts ...web.Option) *env {
	t.Helper()
	return newEnvWithLimits(t, 5, 1, opts...)
}

func newEnvWithLimits(t *testing.T, burst, perMinute int, opts ...web.Option) *env {
	t.Helper()
	e := &env{
		store:       memstore.New(),
		hasher:      auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1}),
		mail:        &mailbox{},
		clock:       &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		authMetrics: auth.NewMetrics(prometheus.NewRegistry()),
	}
	logger := slog.New(slog.DiscardHandler)

	cfg := auth.DefaultConfig()
	cfg.BaseURL = baseURL
	svc, err := auth.NewService(auth.ServiceDeps{
		Users:      e.store.Users(),
		Sessions:   e.store.Sessions(),
		Challenges: e.store.Challenges(),
		Hasher:     e.hasher,
		Mailer:     e.mail,
	}, cfg,
		auth.WithClock(e.clock.Now),
		auth.WithLogger(logger),
		auth.WithMetrics(e.authMetrics),
	)
	require.NoError(t, err)

	opts = append([]web.Option{
		web.WithLogger(logger),
		web.WithAuthMetrics(e.authMetrics),
	}, opts...)
	e.srv, err = web.NewServer(svc, web.Config{
		BaseURL:       baseURL,
		CookieName:    cookieName,
		SessionTTL:    sessionTTL,
		MailBurst:     burst,
		MailPerMinute: perMinute,
	}, opts...)
	require.NoError(t, err)
	return e
}

func (e *env) user(t *testing.T, email, password string) *auth.User {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	u, err := auth.NewUser(email, "Test User", hash)
	require.NoError(t, err)
	require.NoError(t, e.store.Users().Create(context.Background(), u))
	return u
}

// request builds a same-origin request as a browser on the app would send.
func request(method, target, body string, cookies ...*http.Cookie) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Referer", baseURL)
	r.Header.Set("Sec-Fetch-Site", "same-origin")
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return r
}

func (e *env) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, r)
	return rec
}

// sessionCookie returns the session cookie set by rec, or nil.
func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	return nil
}

// login signs in through the API and returns the issued cookie.
func (e *env) login(t *testing.T, email, password string) *http.Cookie {
	t.Helper()
	rec := e.do(request(http.MethodPost, "/api/login",
		`{"email":"`+email+`","password":"`+password+`"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := sessionCookie(rec)
	require.NotNil(t, c)
	require.NotEmpty(t, c.Value)
	return &http.Cookie{Name: c.Name, Value: c.Value}
}
