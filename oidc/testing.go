// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestGenerateKey will generate a test ECDSA P-256 key.
func TestGenerateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return k
}

// TestSignJWT will bundle the provided claims into a test signed JWT using
// ES256 and the optional key id.
func TestSignJWT(t *testing.T, key *ecdsa.PrivateKey, keyID string, claims map[string]any) string {
	t.Helper()
	require := require.New(t)
	opts := (&jose.SignerOptions{}).WithType("JWT")
	if keyID != "" {
		opts = opts.WithHeader("kid", keyID)
	}
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, opts)
	require.NoError(err)

	raw, err := josejwt.Signed(sig).Claims(claims).Serialize()
	require.NoError(err)
	return raw
}

// TestConfig returns a Config for the test provider, trusting its CA and
// using its client credentials.
func TestConfig(t *testing.T, p *TestProvider, opt ...Option) *Config {
	t.Helper()
	clientID, clientSecret := p.ClientCreds()
	opt = append([]Option{WithProviderCA(p.CACert()), WithTimeout(5 * time.Second)}, opt...)
	cfg, err := NewConfig(p.DiscoveryURL(), clientID, ClientSecret(clientSecret), opt...)
	require.NoError(t, err)
	return cfg
}

// TestStartCache starts a Cache for cfg with a single startup attempt and
// stops it when the test ends.
func TestStartCache(t *testing.T, cfg *Config, opt ...Option) *Cache {
	t.Helper()
	opt = append([]Option{WithStartupBackoff(func() backoff.BackOff { return &backoff.StopBackOff{} })}, opt...)
	c, err := NewCache(cfg, opt...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return c
}

// TestClient starts a Cache for the test provider and returns a Client
// using it.
func TestClient(t *testing.T, p *TestProvider, opt ...Option) *Client {
	t.Helper()
	cfg := TestConfig(t, p, opt...)
	c, err := NewClient(cfg, TestStartCache(t, cfg, opt...), opt...)
	require.NoError(t, err)
	return c
}
