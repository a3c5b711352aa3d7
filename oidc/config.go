// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	sdkHttp "github.com/hashicorp/devicepass/sdk/http"
)

const (
	// DefaultRefreshInterval is how often the discovery document and keys are
	// reloaded.
	DefaultRefreshInterval = time.Hour

	// DefaultClaimEmail and DefaultClaimUsername are the claims read for the
	// user's email and username unless configured otherwise.
	DefaultClaimEmail    = "email"
	DefaultClaimUsername = "preferred_username"
)

// DefaultScopes are requested at login.
var DefaultScopes = []string{"openid", "email", "profile"}

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client
// secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config is the relying party's configuration for its single provider.
type Config struct {
	// DiscoveryURL is the provider's OpenID configuration document.
	DiscoveryURL string

	// ClientID is the relying party id.
	ClientID string

	// ClientSecret is the relying party secret. An empty secret makes this a
	// public client.
	ClientSecret ClientSecret

	// Scopes are requested at login; DefaultScopes unless overridden.
	Scopes []string

	// ProviderCA is an optional PEM encoded CA cert to use when sending
	// requests to the provider.
	ProviderCA string

	// StaticKeyFile, when set, replaces the provider's jwks_uri with a key
	// set loaded once from disk.
	StaticKeyFile string

	// Timeout bounds every request to the provider.
	Timeout time.Duration

	// RefreshInterval is the background reload period of the Cache.
	RefreshInterval time.Duration

	// ClaimEmail and ClaimUsername name the claims required to hold the
	// user's email and username.
	ClaimEmail    string
	ClaimUsername string

	// ClaimVerified optionally names a claim that must be true in the ID
	// token, typically "email_verified".
	ClaimVerified string

	// ClaimsFromProfile lets the userinfo profile provide required claims the
	// ID token lacks.
	ClaimsFromProfile bool
}

type configOptions struct {
	withScopes            []string
	withProviderCA        string
	withStaticKeyFile     string
	withTimeout           time.Duration
	withRefreshInterval   time.Duration
	withClaimEmail        string
	withClaimUsername     string
	withClaimVerified     string
	withClaimsFromProfile bool
}

func configDefaults() configOptions {
	return configOptions{
		withScopes:          DefaultScopes,
		withTimeout:         sdkHttp.DefaultTimeout,
		withRefreshInterval: DefaultRefreshInterval,
		withClaimEmail:      DefaultClaimEmail,
		withClaimUsername:   DefaultClaimUsername,
	}
}

func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewConfig composes a new config for the provider at discoveryURL.
// Supported options:
//
//	WithScopes
//	WithProviderCA
//	WithStaticKeyFile
//	WithTimeout
//	WithRefreshInterval
//	WithClaimNames
//	WithVerifiedClaim
//	WithClaimsFromProfile
func NewConfig(discoveryURL, clientID string, clientSecret ClientSecret, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		DiscoveryURL:      discoveryURL,
		ClientID:          clientID,
		ClientSecret:      clientSecret,
		Scopes:            opts.withScopes,
		ProviderCA:        opts.withProviderCA,
		StaticKeyFile:     opts.withStaticKeyFile,
		Timeout:           opts.withTimeout,
		RefreshInterval:   opts.withRefreshInterval,
		ClaimEmail:        opts.withClaimEmail,
		ClaimUsername:     opts.withClaimUsername,
		ClaimVerified:     opts.withClaimVerified,
		ClaimsFromProfile: opts.withClaimsFromProfile,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the configuration. It doesn't verify the discovery URL is
// reachable.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.DiscoveryURL == "" {
		return fmt.Errorf("%s: discovery URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.DiscoveryURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%s: discovery URL %q is not an http(s) URL: %w", op, c.DiscoveryURL, ErrInvalidParameter)
	}
	if c.ClaimEmail == "" || c.ClaimUsername == "" {
		return fmt.Errorf("%s: email and username claims are required: %w", op, ErrInvalidParameter)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%s: timeout must be positive: %w", op, ErrInvalidParameter)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("%s: refresh interval must be positive: %w", op, ErrInvalidParameter)
	}
	found := false
	for _, s := range c.Scopes {
		if s == "openid" {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%s: scopes must include openid: %w", op, ErrInvalidParameter)
	}
	if c.ProviderCA != "" {
		if _, err := c.HTTPClient(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// RequiredClaims are the claims every ID token must provide.
func (c *Config) RequiredClaims() []string {
	return []string{"exp", "iss", "sub", c.ClaimEmail, c.ClaimUsername}
}

// HTTPClient creates a new http client for talking to the provider.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	client, err := sdkHttp.NewClient(c.ProviderCA, c.Timeout)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value successfully: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

func (c *Config) scope() string {
	return strings.Join(c.Scopes, " ")
}
