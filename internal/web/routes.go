// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/authcore/internal/auth"
)

var errMissingCode = errors.New("missing code")

// mailFailed is reported when a challenge could not be mailed.
const mailFailed = "Failed to send an email, please try again later"

const verifiedPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Account verified</title></head>
<body>
<h1>Your email address is verified</h1>
<p>You can now <a href="./">log in</a>.</p>
</body>
</html>
`

func (s *Server) routes() {
	s.Handle("POST /api/register", s.throttled(s.register))
	s.Handle("GET /verify", s.verify)
	s.Handle("POST /api/login", s.login)
	s.Handle("POST /api/login/email", s.throttled(s.loginLink))
	s.Handle("POST /api/password/reset", s.throttled(s.passwordReset))
	s.Handle("POST /api/password/change", s.changePassword)
	s.Handle("POST /api/logout", s.logout)
	s.Handle("GET /api/who_am_i", s.whoAmI)
}

// throttled applies the per-client mail rate limit to h.
func (s *Server) throttled(h Handler) Handler {
	return func(r *http.Request, st auth.AuthState) (Response, error) {
		client := clientKey(r)
		if !s.limiter.Allow(client) {
			s.authMetrics.RecordMailThrottled()
			s.logger.InfoContext(r.Context(), "mail request throttled", "client", client, "path", r.URL.Path)
			return Response{
				Status: http.StatusTooManyRequests,
				Body:   errorBody{Error: http.StatusText(http.StatusTooManyRequests)},
			}, nil
		}
		return h(r, st)
	}
}

// userDetails is the public view of a user.
type userDetails struct {
	ID                    string `json:"id"`
	Email                 string `json:"email"`
	DisplayName           string `json:"displayName"`
	IsAdmin               bool   `json:"isAdmin"`
	RequirePasswordChange bool   `json:"requirePasswordChange"`
}

func detailsOf(u *auth.User) *userDetails {
	if u == nil {
		return nil
	}
	return &userDetails{
		ID:                    u.ID.String(),
		Email:                 u.Email,
		DisplayName:           u.DisplayName,
		IsAdmin:               u.IsAdmin,
		RequirePasswordChange: u.RequirePasswordChange,
	}
}

// outcomeBody carries a user-facing refusal. An empty body means success.
type outcomeBody struct {
	Error string `json:"error,omitempty"`
}

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type registerResponse struct {
	VerificationID string `json:"verificationID,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) register(r *http.Request, _ auth.AuthState) (Response, error) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		return Response{}, err
	}

	outcome, err := s.service.Register(r.Context(), req.Email, req.DisplayName, req.Password)
	if err != nil {
		return Response{}, err
	}
	if outcome.Error != "" {
		return Response{Body: registerResponse{Error: string(outcome.Error)}}, nil
	}
	return Response{Body: registerResponse{VerificationID: outcome.ChallengeID.String()}}, nil
}

// verify redeems the challenge in a mailed link.
func (s *Server) verify(r *http.Request, _ auth.AuthState) (Response, error) {
	q := r.URL.Query()
	id, err := ulid.ParseStrict(q.Get("id"))
	if err != nil {
		return Response{}, malformed(err)
	}
	code := q.Get("code")
	if code == "" {
		return Response{}, malformed(errMissingCode)
	}

	redemption, err := s.service.RedeemChallenge(r.Context(), id, code)
	if err != nil {
		return Response{}, err
	}

	switch redemption.Kind {
	case auth.ChallengeLogIn, auth.ChallengeResetPassword:
		issue := auth.IssueToken(redemption.Token)
		return Response{Redirect: s.baseURL, Action: &issue}, nil
	case auth.ChallengeVerifyNewUser:
		return Response{HTML: verifiedPage}, nil
	default:
		if s.custom != nil {
			return s.custom(r, redemption)
		}
		return Response{Status: http.StatusNoContent}, nil
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(r *http.Request, _ auth.AuthState) (Response, error) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		return Response{}, err
	}

	outcome, err := s.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		return Response{}, err
	}
	if outcome.Error != "" {
		return Response{Status: http.StatusForbidden, Body: outcomeBody{Error: string(outcome.Error)}}, nil
	}
	issue := auth.IssueToken(outcome.Token)
	return Response{Body: detailsOf(outcome.User), Action: &issue}, nil
}

type emailRequest struct {
	Email string `json:"email"`
}

func (s *Server) loginLink(r *http.Request, _ auth.AuthState) (Response, error) {
	return s.mailChallenge(r, s.service.RequestLoginLink)
}

func (s *Server) passwordReset(r *http.Request, _ auth.AuthState) (Response, error) {
	return s.mailChallenge(r, s.service.RequestPasswordReset)
}

// mailChallenge answers the same way for known and unknown addresses.
func (s *Server) mailChallenge(
	r *http.Request,
	request func(ctx context.Context, email string) (auth.IssueOutcome, error),
) (Response, error) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		return Response{}, err
	}

	outcome, err := request(r.Context(), req.Email)
	if err != nil {
		return Response{}, err
	}
	if outcome == auth.IssueEmailFailed {
		return Response{Body: outcomeBody{Error: mailFailed}}, nil
	}
	return Response{Body: outcomeBody{}}, nil
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) changePassword(r *http.Request, st auth.AuthState) (Response, error) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		return Response{}, err
	}

	outcome, err := s.service.ChangePassword(r.Context(), st, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return Response{}, err
	}
	if outcome.Error != "" {
		return Response{Body: outcomeBody{Error: string(outcome.Error)}}, nil
	}
	issue := auth.IssueToken(outcome.Token)
	return Response{Body: outcomeBody{}, Action: &issue}, nil
}

func (s *Server) logout(r *http.Request, st auth.AuthState) (Response, error) {
	if err := s.service.Logout(r.Context(), st); err != nil {
		return Response{}, err
	}
	revoke := auth.RevokeToken()
	return Response{Action: &revoke}, nil
}

func (s *Server) whoAmI(_ *http.Request, st auth.AuthState) (Response, error) {
	return Response{Body: detailsOf(st.User)}, nil
}
