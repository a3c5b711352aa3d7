// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/hashicorp/devicepass/jwt"
	sdkHttp "github.com/hashicorp/devicepass/sdk/http"
)

// Client redeems grants at the provider's token endpoint and validates the
// tokens it returns against the Cache's current snapshots.
type Client struct {
	cfg       *Config
	cache     *Cache
	validator *jwt.Validator
	logger    hclog.Logger
	now       func() time.Time
}

type clientOptions struct {
	withLogger hclog.Logger
	withNow    func() time.Time
	withLeeway *time.Duration
}

func clientDefaults() clientOptions {
	return clientOptions{
		withLogger: hclog.NewNullLogger(),
		withNow:    time.Now,
	}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewClient creates a Client.
// Supported options: WithLogger, WithNow, WithLeeway
func NewClient(cfg *Config, cache *Cache, opt ...Option) (*Client, error) {
	const op = "oidc.NewClient"
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case cache == nil:
		return nil, fmt.Errorf("%s: cache is nil: %w", op, ErrNilParameter)
	}
	opts := getClientOpts(opt...)
	vopts := []jwt.Option{jwt.WithNow(opts.withNow), jwt.WithLogger(opts.withLogger)}
	if opts.withLeeway != nil {
		vopts = append(vopts, jwt.WithLeeway(*opts.withLeeway))
	}
	return &Client{
		cfg:       cfg,
		cache:     cache,
		validator: jwt.NewValidator(vopts...),
		logger:    opts.withLogger,
		now:       opts.withNow,
	}, nil
}

// Config returns the relying party configuration.
func (c *Client) Config() *Config {
	return c.cfg
}

// ProviderConfig returns the current discovery snapshot.
func (c *Client) ProviderConfig() *ProviderConfig {
	return c.cache.Config()
}

// Issuer returns the provider's issuer from the current discovery snapshot.
func (c *Client) Issuer() string {
	if pc := c.cache.Config(); pc != nil {
		return pc.Issuer
	}
	return ""
}

// RedeemCode exchanges an authorization code for tokens.
func (c *Client) RedeemCode(ctx context.Context, code, redirectURI string) (*RedeemedTokens, error) {
	const op = "Client.RedeemCode"
	if code == "" {
		return nil, fmt.Errorf("%s: code is empty: %w", op, ErrInvalidParameter)
	}
	pc, err := c.snapshot()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	tok, err := c.oauth2Config(pc, redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: token request failed: %w", op, upstreamError(err))
	}
	r, err := c.redeemed(ctx, pc, tok)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// RedeemRefresh exchanges a refresh token for new tokens. When the provider
// doesn't rotate the refresh token the one passed in is returned again.
func (c *Client) RedeemRefresh(ctx context.Context, refreshToken string) (*RedeemedTokens, error) {
	const op = "Client.RedeemRefresh"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	pc, err := c.snapshot()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	tok, err := c.oauth2Config(pc, "").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s: refresh request failed: %w", op, upstreamError(err))
	}
	r, err := c.redeemed(ctx, pc, tok)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// ValidateIDToken validates an ID token issued to this client. accessToken is
// optional; when set and the token carries at_hash the two must match.
func (c *Client) ValidateIDToken(ctx context.Context, idToken, accessToken string) (*jwt.Claims, error) {
	return c.validate(ctx, idToken, jwt.TypeID, accessToken)
}

// ValidateLogoutToken validates the signature, issuer, audience, time claims
// and type of a back-channel logout token. The logout specific checks on its
// claims are left to the caller.
func (c *Client) ValidateLogoutToken(ctx context.Context, logoutToken string) (*jwt.Claims, error) {
	return c.validate(ctx, logoutToken, jwt.TypeLogout, "")
}

func (c *Client) validate(ctx context.Context, token, typ, accessToken string) (*jwt.Claims, error) {
	const op = "Client.validate"
	pc, err := c.snapshot()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, err := c.validator.Validate(ctx, token, jwt.Expected{
		Type:        typ,
		Audience:    c.cfg.ClientID,
		Issuer:      pc.Issuer,
		AccessToken: accessToken,
	}, c.cache.Keys())
	if err != nil {
		var keyErrs *jwt.KeyErrors
		if errors.As(err, &keyErrs) {
			c.logger.Warn("token signature not verified by any key", "type", typ, "kids", keyErrs.KeyIDs())
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Info("validated token", "type", claims.Type, "sub", claims.Subject)
	return claims, nil
}

func (c *Client) snapshot() (*ProviderConfig, error) {
	pc := c.cache.Config()
	if pc == nil || c.cache.Keys().Len() == 0 {
		return nil, ErrNotLoaded
	}
	return pc, nil
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = sdkHttp.OidcClientContext(ctx, c.cache.HTTPClient())
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// oauth2Config picks the client authentication shape: a public client sends
// only its id in the body, a confidential client uses HTTP basic unless the
// provider advertises client_secret_post.
func (c *Client) oauth2Config(pc *ProviderConfig, redirectURI string) *oauth2.Config {
	style := oauth2.AuthStyleInParams
	if c.cfg.ClientSecret != "" && !pc.SupportsAuthMethod("client_secret_post") {
		style = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: string(c.cfg.ClientSecret),
		RedirectURL:  redirectURI,
		Scopes:       c.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   pc.AuthorizationEndpoint,
			TokenURL:  pc.TokenEndpoint,
			AuthStyle: style,
		},
	}
}

func (c *Client) redeemed(ctx context.Context, pc *ProviderConfig, tok *oauth2.Token) (*RedeemedTokens, error) {
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, ErrMissingIDToken
	}
	claims, err := c.validate(ctx, idToken, jwt.TypeID, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	profile := map[string]any{}
	if tok.AccessToken != "" && pc.UserinfoEndpoint != "" {
		profile, err = c.userInfo(ctx, pc, tok)
		if err != nil {
			return nil, err
		}
	}
	if err := c.checkRequiredClaims(claims, profile); err != nil {
		return nil, err
	}

	return &RedeemedTokens{
		IDToken:          IDToken(idToken),
		ExpiresIn:        seconds(tok.Extra("expires_in")),
		RefreshToken:     RefreshToken(tok.RefreshToken),
		RefreshExpiresIn: seconds(tok.Extra("refresh_expires_in")),
		Claims:           claims,
		Profile:          profile,
	}, nil
}

func (c *Client) userInfo(ctx context.Context, pc *ProviderConfig, tok *oauth2.Token) (map[string]any, error) {
	const op = "Client.userInfo"
	provider := (&gooidc.ProviderConfig{
		IssuerURL:   pc.Issuer,
		AuthURL:     pc.AuthorizationEndpoint,
		TokenURL:    pc.TokenEndpoint,
		UserInfoURL: pc.UserinfoEndpoint,
		JWKSURL:     pc.JWKSURI,
	}).NewProvider(ctx)
	info, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
	}
	profile := map[string]any{}
	if err := info.Claims(&profile); err != nil {
		return nil, fmt.Errorf("%s: unable to decode profile: %w: %w", op, ErrUpstreamUnavailable, err)
	}
	return profile, nil
}

// checkRequiredClaims requires the registered claims and the configured
// email and username claims to be present with a non-empty value, in the ID
// token or, if allowed, in the profile. A configured verified claim must be
// present the same way and true in the ID token itself.
func (c *Client) checkRequiredClaims(claims *jwt.Claims, profile map[string]any) error {
	for _, name := range c.cfg.RequiredClaims() {
		if claims.Has(name) {
			continue
		}
		if c.cfg.ClaimsFromProfile && jwt.Truthy(profile[name]) {
			continue
		}
		return &MissingClaimError{Claim: name}
	}
	if v := c.cfg.ClaimVerified; v != "" {
		_, inToken := claims.Extra[v]
		_, inProfile := profile[v]
		if !inToken && !(c.cfg.ClaimsFromProfile && inProfile) {
			return &MissingClaimError{Claim: v}
		}
		if !claims.Has(v) {
			return ErrEmailNotVerified
		}
	}
	return nil
}

// upstreamError marks token endpoint failures, whether the request failed or
// the provider answered with an error, as ErrUpstreamUnavailable. Context
// errors stay reachable with errors.Is.
func upstreamError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return fmt.Errorf("%w: status %d: %w", ErrUpstreamUnavailable, re.Response.StatusCode, err)
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

// seconds reads a lifetime in seconds from a token response member, which
// providers send as a number or a numeric string.
func seconds(v any) time.Duration {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case int64:
		n = float64(t)
	case json.Number:
		n, _ = t.Float64()
	case string:
		n, _ = strconv.ParseFloat(t, 64)
	}
	if n <= 0 {
		return 0
	}
	return time.Duration(n * float64(time.Second))
}
