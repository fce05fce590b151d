// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "github.com/prometheus/client_golang/prometheus"

// Metrics contains Prometheus metrics for the session and challenge lifecycle.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsTotal      *prometheus.CounterVec
	ResolutionsTotal   *prometheus.CounterVec
	ChallengesTotal    *prometheus.CounterVec
	TokenRetriesTotal  prometheus.Counter
	SweptTotal         *prometheus.CounterVec
	CSRFRejectedTotal  *prometheus.CounterVec
	MailThrottledTotal prometheus.Counter
}

// NewMetrics creates and registers the auth metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_sessions_total",
				Help: "Session lifecycle events by event (begun, renewed, revoked)",
			},
			[]string{"event"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_session_resolutions_total",
				Help: "Per-request session resolutions by result",
			},
			[]string{"result"},
		),
		ChallengesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_challenges_total",
				Help: "Challenge events by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		TokenRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_token_generation_retries_total",
				Help: "Token generations retried because the fingerprint was already in use",
			},
		),
		SweptTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_swept_rows_total",
				Help: "Expired rows deleted by the periodic sweep",
			},
			[]string{"table"},
		),
		CSRFRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_csrf_rejected_total",
				Help: "State-changing requests rejected by the origin check",
			},
			[]string{"reason"},
		),
		MailThrottledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_mail_throttled_total",
				Help: "Mail-sending requests rejected by the rate limiter",
			},
		),
	}

	reg.MustRegister(
		m.SessionsTotal,
		m.ResolutionsTotal,
		m.ChallengesTotal,
		m.TokenRetriesTotal,
		m.SweptTotal,
		m.CSRFRejectedTotal,
		m.MailThrottledTotal,
	)

	return m
}

func (m *Metrics) session(event string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) resolution(result string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) challenge(kind ChallengeKind, outcome string) {
	if m == nil {
		return
	}
	m.ChallengesTotal.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) tokenRetry() {
	if m == nil {
		return
	}
	m.TokenRetriesTotal.Inc()
}

// RecordSwept adds n deleted rows for the given table.
func (m *Metrics) RecordSwept(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptTotal.WithLabelValues(table).Add(float64(n))
}

// RecordCSRFRejected counts a request rejected by the origin check.
func (m *Metrics) RecordCSRFRejected(reason string) {
	if m == nil {
		return
	}
	m.CSRFRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordMailThrottled counts a mail-sending request rejected by the rate limiter.
func (m *Metrics) RecordMailThrottled() {
	if m == nil {
		return
	}
	m.MailThrottledTotal.Inc()
}
