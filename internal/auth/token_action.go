// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// TokenActionKind is the cookie mutation a response must carry.
type TokenActionKind int

// Token action kinds.
const (
	TokenDoNothing TokenActionKind = iota
	TokenIssue
	TokenRevoke
)

func (k TokenActionKind) String() string {
	switch k {
	case TokenDoNothing:
		return "do_nothing"
	case TokenIssue:
		return "issue"
	case TokenRevoke:
		return "revoke"
	default:
		return "unknown"
	}
}

// TokenAction is the single pending cookie mutation of a request. Token is
// set only for TokenIssue.
type TokenAction struct {
	Kind  TokenActionKind
	Token string
}

// IssueToken returns an action that sets the cookie to token.
func IssueToken(token string) TokenAction {
	return TokenAction{Kind: TokenIssue, Token: token}
}

// RevokeToken returns an action that clears the cookie.
func RevokeToken() TokenAction {
	return TokenAction{Kind: TokenRevoke}
}

// DoNothing returns an action that leaves the cookie alone.
func DoNothing() TokenAction {
	return TokenAction{Kind: TokenDoNothing}
}

// String never includes the token.
func (a TokenAction) String() string {
	return a.Kind.String()
}

// FinalTokenAction decides the cookie mutation a response carries. The
// implicit action comes from authenticating the request; explicit is set by
// a handler that logs in or out. A non-nil explicit action always wins, even
// when it is DoNothing: this is the one deliberate override point.
func FinalTokenAction(implicit TokenAction, explicit *TokenAction) TokenAction {
	if explicit != nil {
		return *explicit
	}
	return implicit
}
