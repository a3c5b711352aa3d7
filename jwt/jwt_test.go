// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Validate(t *testing.T) {
	t.Parallel()
	k1 := newTestKey(t, "k1", jose.ES256)
	k2 := newTestKey(t, "k2", jose.RS256)
	stranger := newTestKey(t, "k1", jose.ES256)
	keys := NewKeySet(k1.public(), k2.public())

	now := time.Now()
	const (
		issuer   = "https://idp.example.com/realms/test"
		audience = "devicepass"
	)
	base := func(extra map[string]any) map[string]any {
		c := map[string]any{
			"iss": issuer,
			"aud": audience,
			"sub": "alice",
			"iat": now.Unix(),
			"exp": now.Add(5 * time.Minute).Unix(),
		}
		for k, v := range extra {
			c[k] = v
		}
		return c
	}
	atHash, err := AccessTokenHash(string(jose.ES256), "access-token")
	require.NoError(t, err)

	tests := []struct {
		name      string
		token     string
		expected  Expected
		keys      *KeySet
		wantSub   string
		wantType  string
		wantIsErr error
	}{
		{
			name:     "id token signed by first key",
			token:    k1.sign(t, base(nil)),
			expected: Expected{Type: TypeID, Issuer: issuer, Audience: audience},
			wantSub:  "alice",
			wantType: TypeID,
		},
		{
			name:     "signed by second key",
			token:    k2.sign(t, base(nil)),
			expected: Expected{Type: TypeID, Issuer: issuer, Audience: audience},
			wantSub:  "alice",
			wantType: TypeID,
		},
		{
			name:     "explicit typ",
			token:    k1.sign(t, base(map[string]any{"typ": "ID"})),
			expected: Expected{Type: TypeID, Issuer: issuer, Audience: audience},
			wantSub:  "alice",
			wantType: TypeID,
		},
		{
			name:      "kid matches but key differs",
			token:     stranger.sign(t, base(nil)),
			expected:  Expected{Type: TypeID, Issuer: issuer, Audience: audience},
			wantIsErr: ErrInvalidSignature,
		},
		{
			name:      "no keys",
			token:     k1.sign(t, base(nil)),
			expected:  Expected{Type: TypeID},
			keys:      NewKeySet(),
			wantIsErr: ErrKeyNotFound,
		},
		{
			name:      "expired",
			token:     k1.sign(t, base(map[string]any{"exp": now.Add(-time.Hour).Unix()})),
			expected:  Expected{Type: TypeID, Issuer: issuer, Audience: audience},
			wantIsErr: ErrExpired,
		},
		{
			name:      "missing exp on id token",
			token:     k1.sign(t, map[string]any{"iss": issuer, "aud": audience, "sub": "alice"}),
			expected:  Expected{Type: TypeID, Issuer: issuer, Audience: audience},
			wantIsErr: ErrExpired,
		},
		{
			name:      "not yet valid",
			token:     k1.sign(t, base(map[string]any{"nbf": now.Add(time.Hour).Unix()})),
			expected:  Expected{Type: TypeID, Issuer: issuer, Audience: audience},
			wantIsErr: ErrNotYetValid,
		},
		{
			name:      "wrong audience",
			token:     k1.sign(t, base(map[string]any{"aud": "other"})),
			expected:  Expected{Type: TypeID, Issuer: issuer, Audience: audience},
			wantIsErr: ErrInvalidAudience,
		},
		{
			name:      "wrong issuer",
			token:     k1.sign(t, base(map[string]any{"iss": "https://evil.example.com"})),
			expected:  Expected{Type: TypeID, Issuer: issuer, Audience: audience},
			wantIsErr: ErrInvalidIssuer,
		},
		{
			name:      "logout token where id token expected",
			token:     k1.sign(t, base(map[string]any{"typ": "Logout"})),
			expected:  Expected{Type: TypeID, Issuer: issuer, Audience: audience},
			wantIsErr: ErrInvalidType,
		},
		{
			name:      "id token where logout token expected",
			token:     k1.sign(t, base(nil)),
			expected:  Expected{Type: TypeLogout, Issuer: issuer, Audience: audience},
			wantIsErr: ErrInvalidType,
		},
		{
			name:     "logout token without exp",
			token:    k1.sign(t, map[string]any{"iss": issuer, "aud": audience, "sid": "s1", "typ": "Logout"}),
			expected: Expected{Type: TypeLogout, Issuer: issuer, Audience: audience},
			wantType: TypeLogout,
		},
		{
			name:     "at_hash matches",
			token:    k1.sign(t, base(map[string]any{"at_hash": atHash})),
			expected: Expected{Type: TypeID, Issuer: issuer, Audience: audience, AccessToken: "access-token"},
			wantSub:  "alice",
			wantType: TypeID,
		},
		{
			name:      "at_hash mismatch",
			token:     k1.sign(t, base(map[string]any{"at_hash": atHash})),
			expected:  Expected{Type: TypeID, Issuer: issuer, Audience: audience, AccessToken: "other-token"},
			wantIsErr: ErrInvalidAccessTokenHash,
		},
		{
			name:     "at_hash ignored without access token",
			token:    k1.sign(t, base(map[string]any{"at_hash": "bogus"})),
			expected: Expected{Type: TypeID, Issuer: issuer, Audience: audience},
			wantSub:  "alice",
			wantType: TypeID,
		},
		{
			name:      "malformed",
			token:     "not.a.jwt",
			expected:  Expected{Type: TypeID},
			wantIsErr: ErrMalformedToken,
		},
		{
			name:      "empty",
			expected:  Expected{Type: TypeID},
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			ks := keys
			if tt.keys != nil {
				ks = tt.keys
			}
			v := NewValidator(WithNow(func() time.Time { return now }))
			claims, err := v.Validate(context.Background(), tt.token, tt.expected, ks)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantSub, claims.Subject)
			assert.Equal(tt.wantType, claims.Type)
		})
	}
}

func TestValidator_KeyErrors(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	signer := newTestKey(t, "signer", jose.ES256)
	keys := NewKeySet(newTestKey(t, "a", jose.ES256).public(), newTestKey(t, "b", jose.RS256).public())

	token := signer.sign(t, map[string]any{"sub": "alice", "exp": time.Now().Add(time.Minute).Unix()})
	_, err := NewValidator().Validate(context.Background(), token, Expected{Type: TypeID}, keys)
	require.Error(err)

	var keyErrs *KeyErrors
	require.True(errors.As(err, &keyErrs))
	assert.Equal([]string{"a", "b"}, keyErrs.KeyIDs())
	assert.True(errors.Is(err, ErrInvalidSignature))
	assert.False(errors.Is(err, ErrKeyNotFound))
	assert.Contains(err.Error(), "2 key(s) tried")
}

func TestValidator_Leeway(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	k := newTestKey(t, "k", jose.ES256)
	now := time.Now()
	token := k.sign(t, map[string]any{"sub": "alice", "exp": now.Add(-30 * time.Second).Unix()})
	at := func() time.Time { return now }

	_, err := NewValidator(WithNow(at)).Validate(context.Background(), token, Expected{Type: TypeID}, NewKeySet(k.public()))
	assert.NoError(err)

	_, err = NewValidator(WithNow(at), WithLeeway(0)).Validate(context.Background(), token, Expected{Type: TypeID}, NewKeySet(k.public()))
	assert.ErrorIs(err, ErrExpired)
}

func TestValidator_Claims(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	k := newTestKey(t, "k", jose.EdDSA)
	token := k.sign(t, map[string]any{
		"sub":            "alice",
		"exp":            time.Now().Add(time.Minute).Unix(),
		"sid":            "session-1",
		"email":          "alice@example.com",
		"email_verified": true,
		"groups":         []string{},
		"events":         map[string]any{BackChannelLogoutEvent: map[string]any{}},
	})
	claims, err := NewValidator().Validate(context.Background(), token, Expected{Type: TypeID}, NewKeySet(k.public()))
	require.NoError(err)
	assert.Equal("session-1", claims.SessionID)
	assert.Equal("alice@example.com", claims.String("email"))
	assert.True(claims.Has("email_verified"))
	assert.False(claims.Has("groups"))
	assert.False(claims.Has("missing"))
	assert.True(claims.HasEvent(BackChannelLogoutEvent))

	raw, err := UnverifiedClaims(token)
	require.NoError(err)
	assert.Equal("alice", raw["sub"])
}

func TestAccessTokenHash(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	// Test vector from OpenID Connect Core 1.0, Appendix A.3.
	got, err := AccessTokenHash(string(jose.RS256), "jHkWEdUXMU1BwAsC4vtUsZwnNvTIxEl0z9K3vx5KF0Y")
	assert.NoError(err)
	assert.Equal("77QmUPtjPfzWtF2AnpK9RQ", got)

	_, err = AccessTokenHash("HS256", "x")
	assert.ErrorIs(err, ErrInvalidAccessTokenHash)
}
