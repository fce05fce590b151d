// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web is the HTTP boundary of authcore: the CSRF guard, the
// authentication middleware that applies token actions as cookies, and the
// account routes.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/pkg/errutil"
)

// TracerName is the instrumentation scope of request spans.
const TracerName = "authcore/web"

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

var errMalformedRequest = errors.New("malformed request")

// Response is what a Handler produces. Exactly one of Redirect, HTML and
// Body is rendered, in that order of precedence.
type Response struct {
	// Status defaults to 200.
	Status   int
	Body     any
	HTML     string
	Redirect string
	// Action is the explicit token action of the handler. When non-nil it
	// replaces the action computed by authentication, even if it is
	// DoNothing.
	Action *auth.TokenAction
}

// Handler serves one authenticated route. st is the zero AuthState for
// anonymous requests.
type Handler func(r *http.Request, st auth.AuthState) (Response, error)

// CustomRedeemer renders the response for a redeemed Custom challenge.
type CustomRedeemer func(r *http.Request, redemption auth.Redemption) (Response, error)

// Config configures the HTTP boundary.
type Config struct {
	BaseURL       string
	CookieName    string
	SessionTTL    time.Duration
	MailBurst     int
	MailPerMinute int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRequestMetrics records per-route request counts and latency.
func WithRequestMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.requests = m }
}

// WithAuthMetrics records CSRF rejections and throttled mail requests.
func WithAuthMetrics(m *auth.Metrics) Option {
	return func(s *Server) { s.authMetrics = m }
}

// WithCustomRedeemer handles redemption of Custom challenges. Without it
// they answer 204.
func WithCustomRedeemer(fn CustomRedeemer) Option {
	return func(s *Server) { s.custom = fn }
}

// WithTracerProvider sets where request spans go. The global provider is
// used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		if tp != nil {
			s.tracer = tp.Tracer(TracerName)
		}
	}
}

// Server routes account requests to the auth service.
type Server struct {
	service     *auth.Service
	resolver    *auth.Resolver
	cookies     CookieJar
	limiter     *ClientLimiter
	baseURL     string
	logger      *slog.Logger
	tracer      trace.Tracer
	requests    *observability.Metrics
	authMetrics *auth.Metrics
	custom      CustomRedeemer
	mux         *http.ServeMux
	handler     http.Handler
}

// NewServer creates a Server for svc.
func NewServer(svc *auth.Service, cfg Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("auth service is required")
	}
	if cfg.CookieName == "" {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("cookie name is required")
	}
	if cfg.SessionTTL <= 0 {
		return nil, oops.Code("WEB_INVALID_CONFIG").With("session_ttl", cfg.SessionTTL).
			Errorf("session ttl must be positive")
	}
	if cfg.MailBurst <= 0 || cfg.MailPerMinute <= 0 {
		return nil, oops.Code("WEB_INVALID_CONFIG").
			With("mail_burst", cfg.MailBurst).
			With("mail_per_minute", cfg.MailPerMinute).
			Errorf("mail rate limits must be positive")
	}

	s := &Server{
		service:  svc,
		resolver: svc.Resolver(),
		cookies:  NewCookieJar(cfg.CookieName, cfg.SessionTTL),
		limiter:  NewClientLimiter(cfg.MailBurst, cfg.MailPerMinute),
		baseURL:  cfg.BaseURL,
		logger:   slog.Default(),
		tracer:   otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux = http.NewServeMux()
	s.routes()
	s.handler = NewCSRFGuard(cfg.BaseURL, s.logger, s.authMetrics).Wrap(s.mux)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Handle mounts an application handler behind the CSRF guard and the auth
// middleware, so it receives the request's AuthState and can return token
// actions. pattern uses http.ServeMux syntax.
func (s *Server) Handle(pattern string, h Handler) {
	s.mux.Handle(pattern, s.authenticated(pattern, h))
}

// authenticated resolves the session cookie, runs h and writes exactly one
// cookie mutation: the handler's explicit action if it set one, otherwise
// the action computed by authentication.
func (s *Server) authenticated(route string, h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := s.tracer.Start(r.Context(), route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		r = r.WithContext(ctx)

		status := s.serve(w, r, route, h)
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		s.requests.ObserveRequest(route, status, time.Since(start))
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, route string, h Handler) int {
	ctx := r.Context()
	res, err := s.resolver.Authenticate(ctx, s.cookies.Token(r))
	if err != nil {
		return s.fail(w, r, route, err)
	}
	if res.State.Authenticated() {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("authcore.user_id", res.State.User.ID.String()))
	}

	resp, err := h(r, res.State)
	// A renewal has already rotated the stored token, so the implicit
	// action must reach the client even when the handler fails.
	s.cookies.Apply(w, auth.FinalTokenAction(res.Action, resp.Action))
	if err != nil {
		return s.fail(w, r, route, err)
	}
	return writeResponse(w, resp)
}

// fail maps err to a status. Only internal errors are logged and their
// detail never reaches the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, route string, err error) int {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		attrs := []any{"route", route}
		if auth.IsFatal(err) {
			attrs = append(attrs, "fatal", true)
		}
		errutil.LogErrorContext(r.Context(), s.logger, "request failed", err, attrs...)

		span := trace.SpanFromContext(r.Context())
		span.RecordError(err)
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	writeError(w, status)
	return status
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errMalformedRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int) {
	writeJSON(w, status, errorBody{Error: http.StatusText(status)})
}

func writeResponse(w http.ResponseWriter, resp Response) int {
	status := resp.Status
	switch {
	case resp.Redirect != "":
		if status == 0 {
			status = http.StatusSeeOther
		}
		w.Header().Set("Location", resp.Redirect)
		w.WriteHeader(status)
	case resp.HTML != "":
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		//nolint:errcheck // client may disconnect
		w.Write([]byte(resp.HTML))
	case resp.Body != nil:
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, resp.Body)
	default:
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}
	return status
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return malformed(err)
	}
	return nil
}

func malformed(err error) error {
	return oops.Code("WEB_MALFORMED_REQUEST").Wrap(fmt.Errorf("%w: %w", errMalformedRequest, err))
}
