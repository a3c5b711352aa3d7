// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/devicepass/jwt"
)

// IDToken is an oidc id_token.
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token.
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token.
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// RefreshToken is an oauth refresh_token.
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth
// refresh_token.
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token.
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token.
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// RedeemedTokens is the outcome of a successful token endpoint grant.
type RedeemedTokens struct {
	IDToken   IDToken
	ExpiresIn time.Duration

	// RefreshToken is empty when the provider issued none.
	RefreshToken RefreshToken

	// RefreshExpiresIn is zero when the provider didn't say when the refresh
	// token expires.
	RefreshExpiresIn time.Duration

	// Claims are the verified claims of IDToken.
	Claims *jwt.Claims

	// Profile holds the userinfo attributes, empty when none were fetched.
	Profile map[string]any
}

// Display returns the named claim from the ID token, falling back to the
// userinfo profile. Non-string values are formatted.
func (r *RedeemedTokens) Display(name string) string {
	if r == nil {
		return ""
	}
	if v := r.Claims.Get(name); jwt.Truthy(v) {
		return stringify(v)
	}
	if v := r.Profile[name]; jwt.Truthy(v) {
		return stringify(v)
	}
	return ""
}

// RefreshExpiry is the absolute expiry of the refresh token relative to now,
// zero when unknown.
func (r *RedeemedTokens) RefreshExpiry(now time.Time) time.Time {
	if r == nil || r.RefreshExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(r.RefreshExpiresIn)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
