// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"encoding/json"
	"fmt"
	"time"

	josejwt "github.com/go-jose/go-jose/v4/jwt"
)

// Token types carried in the "typ" claim.
const (
	TypeID     = "ID"
	TypeLogout = "Logout"
)

// BackChannelLogoutEvent is the member of the "events" claim every
// back-channel logout token must carry.
const BackChannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

// Claims are the verified claims of a token. The registered claims the
// session engine relies on have named fields; everything the token carries,
// including those, is also kept in Extra.
type Claims struct {
	Subject         string
	Issuer          string
	Audience        []string
	Expiry          time.Time
	NotBefore       time.Time
	IssuedAt        time.Time
	ID              string
	SessionID       string
	Type            string
	Nonce           string
	AccessTokenHash string
	Events          map[string]any

	Extra map[string]any
}

// Get returns the raw value of the named claim.
func (c *Claims) Get(name string) any {
	if c == nil {
		return nil
	}
	return c.Extra[name]
}

// String returns the named claim when it's a string.
func (c *Claims) String(name string) string {
	s, _ := c.Get(name).(string)
	return s
}

// Has reports whether the named claim is present with a non-empty value:
// empty strings, false, zero and empty collections count as absent.
func (c *Claims) Has(name string) bool {
	return Truthy(c.Get(name))
}

// HasEvent reports whether the "events" claim contains the named event.
func (c *Claims) HasEvent(event string) bool {
	if c == nil || c.Events == nil {
		return false
	}
	_, ok := c.Events[event]
	return ok
}

// Truthy reports whether a decoded JSON claim value is considered present.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case json.Number:
		return t != "" && t != "0"
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// privateClaims are the non-registered claims with named fields.
type privateClaims struct {
	SessionID       string         `json:"sid,omitempty"`
	Type            string         `json:"typ,omitempty"`
	Nonce           string         `json:"nonce,omitempty"`
	AccessTokenHash string         `json:"at_hash,omitempty"`
	Events          map[string]any `json:"events,omitempty"`
}

func newClaims(std josejwt.Claims, priv privateClaims, all map[string]any) *Claims {
	c := &Claims{
		Subject:         std.Subject,
		Issuer:          std.Issuer,
		Audience:        []string(std.Audience),
		ID:              std.ID,
		SessionID:       priv.SessionID,
		Type:            priv.Type,
		Nonce:           priv.Nonce,
		AccessTokenHash: priv.AccessTokenHash,
		Events:          priv.Events,
		Extra:           all,
	}
	if std.Expiry != nil {
		c.Expiry = std.Expiry.Time()
	}
	if std.NotBefore != nil {
		c.NotBefore = std.NotBefore.Time()
	}
	if std.IssuedAt != nil {
		c.IssuedAt = std.IssuedAt.Time()
	}
	if c.Type == "" {
		c.Type = TypeID
	}
	return c
}

// UnverifiedClaims decodes a token's claims without checking its signature.
// It's meant for logging and tests, never for trust decisions.
func UnverifiedClaims(token string) (map[string]any, error) {
	const op = "jwt.UnverifiedClaims"
	parsed, err := josejwt.ParseSigned(token, SupportedAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedToken, err)
	}
	all := map[string]any{}
	if err := parsed.UnsafeClaimsWithoutVerification(&all); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedToken, err)
	}
	return all, nil
}
