// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter bookkeeping.
const (
	maxTrackedClients = 10000
	clientIdleAfter   = 30 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter is a per-client token bucket for endpoints that send mail.
type ClientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	every   rate.Limit
	burst   int
	now     func() time.Time
}

// NewClientLimiter allows each client burst requests at once, refilled at
// perMinute per minute.
func NewClientLimiter(burst, perMinute int) *ClientLimiter {
	return &ClientLimiter{
		clients: make(map[string]*clientBucket),
		every:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether the client may send another mail now.
func (l *ClientLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.pruneLocked(now)
		}
		b = &clientBucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// pruneLocked drops clients idle long enough that their bucket is full again.
func (l *ClientLimiter) pruneLocked(now time.Time) {
	for key, b := range l.clients {
		if now.Sub(b.lastSeen) > clientIdleAfter {
			delete(l.clients, key)
		}
	}
}

// clientKey identifies the client of r by its remote IP.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
