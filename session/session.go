// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package session implements the relying party's session lifecycle: login,
// silent refresh, explicit logout and provider initiated revocation, on top
// of a pluggable Store.
package session

import (
	"crypto/subtle"
	"time"
)

// State is the outcome of a session validity check.
type State int

const (
	// Anonymous means no subject is bound to the request.
	Anonymous State = iota

	// Authenticated means the session is valid, possibly after a refresh.
	Authenticated

	// RefreshPending is held while a refresh is in flight; it's never
	// returned by Check.
	RefreshPending

	// Terminated means the session expired and could not be refreshed.
	Terminated

	// Revoked means the session was logged out, locally or by the provider.
	Revoked
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case RefreshPending:
		return "refresh-pending"
	case Terminated:
		return "terminated"
	case Revoked:
		return "revoked"
	}
	return "unknown"
}

// Session is the durable record of a provider session, keyed by the
// provider's session id.
type Session struct {
	ID      string
	Subject string
	Issuer  string

	// Expiry is the ID token's expiry.
	Expiry  time.Time
	IDToken string

	// RefreshToken is empty when the provider issued none.
	RefreshToken string

	// RefreshExpiry is zero when the refresh token's expiry is unknown.
	RefreshExpiry time.Time

	UpdatedAt time.Time
}

// Refreshable reports whether the session can be refreshed at now: it holds
// a refresh token that isn't known to be expired.
func (s *Session) Refreshable(now time.Time) bool {
	return refreshable(s.RefreshToken, s.RefreshExpiry, now)
}

func refreshable(token string, expiry, now time.Time) bool {
	return token != "" && (expiry.IsZero() || expiry.After(now))
}

// Display are the claims shown to the user.
type Display struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Picture  string `json:"picture,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Local is the session context bound to a single browser, carried in the
// request's session cookie. Sessions without a provider session id exist
// only here, so Local then also carries the refresh token.
type Local struct {
	Subject   string    `json:"sub,omitempty"`
	SessionID string    `json:"sid,omitempty"`
	Expiry    time.Time `json:"exp,omitempty"`
	IDToken   string    `json:"id_token,omitempty"`

	Display

	RefreshToken  string    `json:"refresh_token,omitempty"`
	RefreshExpiry time.Time `json:"refresh_exp,omitempty"`

	// LoginState is the one-shot anti-forgery value of an ongoing login.
	LoginState string `json:"login_state,omitempty"`

	// CSRFToken guards logout and other state changing requests.
	CSRFToken string `json:"csrf,omitempty"`
}

// Authenticated reports whether a subject is bound.
func (l *Local) Authenticated() bool {
	return l != nil && l.Subject != ""
}

// Clear removes everything, including the anti-forgery values.
func (l *Local) Clear() {
	*l = Local{}
}

// CheckCSRF returns ErrCSRFMismatch unless token is local's CSRF token.
func (l *Local) CheckCSRF(token string) error {
	if l == nil || !equal(l.CSRFToken, token) {
		return ErrCSRFMismatch
	}
	return nil
}

// equal compares anti-forgery values in constant time; empty never matches.
func equal(want, got string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
