// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net/http"
	"time"

	"github.com/holomush/authcore/internal/auth"
)

// cacheControlSetCookie keeps shared caches from storing a response that
// carries a session cookie.
const cacheControlSetCookie = `no-cache="Set-Cookie"`

// CookieJar reads the session cookie from requests and writes the final
// token action to responses.
type CookieJar struct {
	name string
	ttl  time.Duration
}

// NewCookieJar creates a CookieJar for the named cookie. Issued cookies live
// for ttl, the session lifetime.
func NewCookieJar(name string, ttl time.Duration) CookieJar {
	return CookieJar{name: name, ttl: ttl}
}

// Token returns the raw session token of r. A missing or empty cookie
// yields "".
func (j CookieJar) Token(r *http.Request) string {
	c, err := r.Cookie(j.name)
	if err != nil {
		return ""
	}
	return c.Value
}

// Apply writes the cookie mutation for action. It must run before the
// response header is written.
func (j CookieJar) Apply(w http.ResponseWriter, action auth.TokenAction) {
	switch action.Kind {
	case auth.TokenIssue:
		http.SetCookie(w, j.cookie(action.Token, int(j.ttl/time.Second)))
	case auth.TokenRevoke:
		http.SetCookie(w, j.cookie("", -1))
	default:
		return
	}
	w.Header().Set("Cache-Control", cacheControlSetCookie)
}

func (j CookieJar) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     j.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}
