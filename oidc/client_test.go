// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/devicepass/jwt"
)

const testRedirectURI = "https://rp.example.com/login"

func TestClient_RedeemCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		setup     func(tp *TestProvider)
		opts      []Option
		code      string
		check     func(t *testing.T, tp *TestProvider, r *RedeemedTokens)
		wantIsErr error
	}{
		{
			name: "confidential client with post",
			check: func(t *testing.T, tp *TestProvider, r *RedeemedTokens) {
				assert := assert.New(t)
				assert.Equal("alice", r.Claims.Subject)
				assert.NotEmpty(r.IDToken)
				assert.NotEmpty(r.RefreshToken)
				assert.Equal(time.Hour, r.RefreshExpiresIn)
				assert.Equal(5*time.Minute, r.ExpiresIn)
				assert.Equal("Alice Example", r.Profile["name"])
				assert.Equal("client_secret_post", tp.LastClientAuth().Method)
			},
		},
		{
			name: "basic auth when post is not advertised",
			setup: func(tp *TestProvider) {
				tp.SetDiscovery(map[string]any{"token_endpoint_auth_methods_supported": []string{"client_secret_basic"}})
			},
			check: func(t *testing.T, tp *TestProvider, _ *RedeemedTokens) {
				auth := tp.LastClientAuth()
				assert.Equal(t, "client_secret_basic", auth.Method)
				assert.Equal(t, "test-client-id", auth.ClientID)
			},
		},
		{
			name: "basic auth when no methods advertised",
			setup: func(tp *TestProvider) {
				tp.SetDiscovery(map[string]any{"token_endpoint_auth_methods_supported": nil})
			},
			check: func(t *testing.T, tp *TestProvider, _ *RedeemedTokens) {
				assert.Equal(t, "client_secret_basic", tp.LastClientAuth().Method)
			},
		},
		{
			name: "public client",
			setup: func(tp *TestProvider) {
				tp.SetClientCreds("public-client", "")
			},
			check: func(t *testing.T, tp *TestProvider, _ *RedeemedTokens) {
				auth := tp.LastClientAuth()
				assert.Equal(t, "none", auth.Method)
				assert.Equal(t, "public-client", auth.ClientID)
			},
		},
		{
			name:  "no userinfo endpoint",
			setup: func(tp *TestProvider) { tp.DisableUserInfo() },
			check: func(t *testing.T, _ *TestProvider, r *RedeemedTokens) {
				assert.Empty(t, r.Profile)
			},
		},
		{
			name: "sid carried",
			setup: func(tp *TestProvider) {
				tp.SetSessionID("sid-1")
			},
			check: func(t *testing.T, _ *TestProvider, r *RedeemedTokens) {
				assert.Equal(t, "sid-1", r.Claims.SessionID)
			},
		},
		{
			name: "no refresh token",
			setup: func(tp *TestProvider) {
				tp.SetRefreshTokens(false, false)
			},
			check: func(t *testing.T, _ *TestProvider, r *RedeemedTokens) {
				assert.Empty(t, r.RefreshToken)
				assert.Zero(t, r.RefreshExpiresIn)
			},
		},
		{
			name:      "wrong code",
			code:      "other",
			wantIsErr: ErrUpstreamUnavailable,
		},
		{
			name:      "token endpoint down",
			setup:     func(tp *TestProvider) { tp.SetTokenStatus(http.StatusBadGateway) },
			wantIsErr: ErrUpstreamUnavailable,
		},
		{
			name:      "missing id token",
			setup:     func(tp *TestProvider) { tp.OmitIDTokens() },
			wantIsErr: ErrMissingIDToken,
		},
		{
			name:      "wrong audience",
			setup:     func(tp *TestProvider) { tp.SetCustomClaims(map[string]any{"aud": "someone-else"}) },
			wantIsErr: jwt.ErrInvalidAudience,
		},
		{
			name:      "bad at_hash",
			setup:     func(tp *TestProvider) { tp.SetCustomClaims(map[string]any{"at_hash": "AAAAAAAAAAAAAAAAAAAAAA"}) },
			wantIsErr: jwt.ErrInvalidAccessTokenHash,
		},
		{
			name:      "logout token returned as id token",
			setup:     func(tp *TestProvider) { tp.SetCustomClaims(map[string]any{"typ": "Logout"}) },
			wantIsErr: jwt.ErrInvalidType,
		},
		{
			name: "missing username claim",
			setup: func(tp *TestProvider) {
				tp.SetCustomClaims(map[string]any{"preferred_username": nil})
			},
			wantIsErr: ErrMissingRequiredClaim,
		},
		{
			name: "username from profile",
			setup: func(tp *TestProvider) {
				tp.SetCustomClaims(map[string]any{"preferred_username": nil})
			},
			opts: []Option{WithClaimsFromProfile()},
			check: func(t *testing.T, _ *TestProvider, r *RedeemedTokens) {
				assert.Equal(t, "alice", r.Display("preferred_username"))
			},
		},
		{
			name:      "verified claim missing",
			opts:      []Option{WithVerifiedClaim("email_verified")},
			wantIsErr: ErrMissingRequiredClaim,
		},
		{
			name: "verified claim false",
			setup: func(tp *TestProvider) {
				tp.SetCustomClaims(map[string]any{"email_verified": false})
			},
			opts:      []Option{WithVerifiedClaim("email_verified")},
			wantIsErr: ErrEmailNotVerified,
		},
		{
			name: "verified claim only in profile",
			setup: func(tp *TestProvider) {
				tp.SetUserInfo(map[string]any{"email_verified": true})
			},
			opts:      []Option{WithVerifiedClaim("email_verified"), WithClaimsFromProfile()},
			wantIsErr: ErrEmailNotVerified,
		},
		{
			name: "verified claim true",
			setup: func(tp *TestProvider) {
				tp.SetCustomClaims(map[string]any{"email_verified": true})
			},
			opts: []Option{WithVerifiedClaim("email_verified")},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			tp := StartTestProvider(t)
			if tt.setup != nil {
				tt.setup(tp)
			}
			c := TestClient(t, tp, tt.opts...)
			code := tt.code
			if code == "" {
				code = tp.ExpectedAuthCode()
			}
			r, err := c.RedeemCode(context.Background(), code, testRedirectURI)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			if tt.check != nil {
				tt.check(t, tp, r)
			}
		})
	}
}

func TestClient_RedeemRefresh(t *testing.T) {
	t.Parallel()

	t.Run("rotating", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := TestClient(t, tp)
		rt := tp.IssueRefreshToken()
		r, err := c.RedeemRefresh(context.Background(), rt)
		require.NoError(err)
		assert.NotEqual(RefreshToken(rt), r.RefreshToken)
		assert.Equal(1, tp.RefreshCount())

		_, err = c.RedeemRefresh(context.Background(), rt)
		require.Error(err, "rotated refresh token must not be accepted again")
		assert.True(errors.Is(err, ErrUpstreamUnavailable))
	})

	t.Run("not rotating keeps token", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetRefreshTokens(true, false)
		c := TestClient(t, tp)
		rt := tp.IssueRefreshToken()
		r, err := c.RedeemRefresh(context.Background(), rt)
		require.NoError(err)
		assert.Equal(RefreshToken(rt), r.RefreshToken)
	})

	t.Run("validates against rotated keys", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := TestClient(t, tp)
		tp.RotateKeys()
		_, err := c.RedeemRefresh(context.Background(), tp.IssueRefreshToken())
		require.Error(err)
		assert.True(errors.Is(err, jwt.ErrInvalidSignature))

		require.NoError(c.cache.Refresh(context.Background()))
		_, err = c.RedeemRefresh(context.Background(), tp.IssueRefreshToken())
		assert.NoError(err)
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()
		tp := StartTestProvider(t)
		c := TestClient(t, tp)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.RedeemRefresh(ctx, tp.IssueRefreshToken())
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("empty token", func(t *testing.T) {
		t.Parallel()
		tp := StartTestProvider(t)
		_, err := TestClient(t, tp).RedeemRefresh(context.Background(), "")
		assert.True(t, errors.Is(err, ErrInvalidParameter))
	})
}

func TestClient_ValidateIDToken_KeyRotation(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)
	c := TestClient(t, tp)

	oldKey := tp.KeyIDs()[0]
	signed := tp.SignIDToken(nil)
	_, err := c.ValidateIDToken(ctx, signed, "")
	require.NoError(err)

	newKey := tp.RotateKeys()
	require.NoError(c.cache.Refresh(ctx))
	require.Equal([]string{oldKey, newKey}, tp.KeyIDs())
	_, err = c.ValidateIDToken(ctx, signed, "")
	assert.NoError(err, "old key is still published")
	_, err = c.ValidateIDToken(ctx, tp.SignIDToken(nil), "")
	assert.NoError(err)

	tp.RemoveKey(oldKey)
	_, err = c.ValidateIDToken(ctx, signed, "")
	assert.NoError(err, "keys are only replaced on refresh")

	require.NoError(c.cache.Refresh(ctx))
	_, err = c.ValidateIDToken(ctx, signed, "")
	require.Error(err)
	assert.True(errors.Is(err, jwt.ErrInvalidSignature))
	_, err = c.ValidateIDToken(ctx, tp.SignIDToken(nil), "")
	assert.NoError(err)
}

func TestClient_ValidateLogoutToken(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	c := TestClient(t, tp)

	claims, err := c.ValidateLogoutToken(context.Background(), tp.SignLogoutToken(map[string]any{"sid": "sid-1"}))
	require.NoError(err)
	assert.Equal("sid-1", claims.SessionID)
	assert.True(claims.HasEvent(jwt.BackChannelLogoutEvent))

	_, err = c.ValidateLogoutToken(context.Background(), tp.SignIDToken(nil))
	assert.True(errors.Is(err, jwt.ErrInvalidType))

	_, err = c.ValidateLogoutToken(context.Background(), tp.SignLogoutToken(map[string]any{"iss": "https://other"}))
	assert.True(errors.Is(err, jwt.ErrInvalidIssuer))
}

func TestClient_NotLoaded(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	cfg := TestConfig(t, tp)
	cache, err := NewCache(cfg)
	require.NoError(t, err)
	c, err := NewClient(cfg, cache)
	require.NoError(t, err)
	_, err = c.RedeemCode(context.Background(), "code", testRedirectURI)
	assert.True(t, errors.Is(err, ErrNotLoaded))
	assert.Empty(t, c.Issuer())
}

func TestSeconds(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal(90*time.Second, seconds(float64(90)))
	assert.Equal(90*time.Second, seconds("90"))
	assert.Equal(time.Duration(0), seconds(nil))
	assert.Equal(time.Duration(0), seconds("soon"))
	assert.Equal(time.Duration(0), seconds(float64(-1)))
}

func TestRedeemedTokens_Display(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	r := &RedeemedTokens{
		Claims:  &jwt.Claims{Extra: map[string]any{"email": "a@example.com", "name": ""}},
		Profile: map[string]any{"name": "Alice", "email": "b@example.com", "age": float64(7)},
	}
	assert.Equal("a@example.com", r.Display("email"))
	assert.Equal("Alice", r.Display("name"))
	assert.Equal("7", r.Display("age"))
	assert.Empty(r.Display("picture"))
	var nilTokens *RedeemedTokens
	assert.Empty(nilTokens.Display("email"))
}
