// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testKey struct {
	id   string
	alg  jose.SignatureAlgorithm
	priv crypto.Signer
}

func newTestKey(t *testing.T, id string, alg jose.SignatureAlgorithm) testKey {
	t.Helper()
	var (
		priv crypto.Signer
		err  error
	)
	switch alg {
	case jose.ES256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case jose.ES384:
		priv, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case jose.EdDSA:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
	default:
		priv, err = rsa.GenerateKey(rand.Reader, 2048)
	}
	require.NoError(t, err)
	return testKey{id: id, alg: alg, priv: priv}
}

func (k testKey) public() Key {
	return Key{ID: k.id, Algorithm: string(k.alg), PublicKey: k.priv.Public()}
}

func (k testKey) jwk(use string) map[string]any {
	raw, err := json.Marshal(jose.JSONWebKey{Key: k.priv.Public(), KeyID: k.id, Algorithm: string(k.alg), Use: use})
	if err != nil {
		panic(err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(err)
	}
	return m
}

func (k testKey) sign(t *testing.T, claims map[string]any) string {
	t.Helper()
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: k.alg, Key: k.priv},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", k.id),
	)
	require.NoError(t, err)
	raw, err := josejwt.Signed(sig).Claims(claims).Serialize()
	require.NoError(t, err)
	return raw
}

func testJWKS(t *testing.T, keys ...map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"keys": keys})
	require.NoError(t, err)
	return b
}

func TestParseJWKS(t *testing.T) {
	t.Parallel()
	sigKey := newTestKey(t, "sig", jose.RS256)
	ecKey := newTestKey(t, "ec", jose.ES256)
	edKey := newTestKey(t, "ed", jose.EdDSA)
	encKey := newTestKey(t, "enc", jose.RS256)

	withOps := func(m map[string]any, ops ...string) map[string]any {
		m["key_ops"] = ops
		return m
	}
	withAlg := func(m map[string]any, alg string) map[string]any {
		m["alg"] = alg
		return m
	}

	tests := []struct {
		name      string
		data      []byte
		wantIDs   []string
		wantErr   bool
		wantIsErr error
	}{
		{
			name:    "signature keys of every type",
			data:    testJWKS(t, sigKey.jwk("sig"), ecKey.jwk(""), edKey.jwk("sig")),
			wantIDs: []string{"sig", "ec", "ed"},
		},
		{
			name:    "encryption use excluded",
			data:    testJWKS(t, encKey.jwk("enc"), sigKey.jwk("sig")),
			wantIDs: []string{"sig"},
		},
		{
			name:    "rsa-oaep excluded",
			data:    testJWKS(t, withAlg(encKey.jwk(""), "RSA-OAEP"), sigKey.jwk("sig")),
			wantIDs: []string{"sig"},
		},
		{
			name:    "key_ops without verify excluded",
			data:    testJWKS(t, withOps(encKey.jwk(""), "encrypt"), withOps(sigKey.jwk(""), "sign", "verify")),
			wantIDs: []string{"sig"},
		},
		{
			name:      "only encryption keys",
			data:      testJWKS(t, encKey.jwk("enc")),
			wantErr:   true,
			wantIsErr: ErrNoKeys,
		},
		{
			name:      "empty set",
			data:      []byte(`{"keys":[]}`),
			wantErr:   true,
			wantIsErr: ErrNoKeys,
		},
		{
			name:    "undecodable key",
			data:    []byte(`{"keys":[{"kty":"RSA","kid":"bad","n":"%%%","e":"AQAB"}]}`),
			wantErr: true,
		},
		{
			name:    "not json",
			data:    []byte(`keys`),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			ks, err := ParseJWKS(tt.data)
			if tt.wantErr {
				require.Error(err)
				if tt.wantIsErr != nil {
					assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantIDs, ks.KeyIDs())
		})
	}
}

func TestParseKeyFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	rsaKey := newTestKey(t, "", jose.RS256)
	ecKey := newTestKey(t, "", jose.ES256)

	pkix := func(k testKey) []byte {
		der, err := x509.MarshalPKIXPublicKey(k.priv.Public())
		require.NoError(t, err)
		return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	}
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o600))
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantLen int
		wantErr bool
	}{
		{
			name:    "pem bundle",
			path:    write("bundle.pem", append(pkix(rsaKey), pkix(ecKey)...)),
			wantLen: 2,
		},
		{
			name:    "jwks",
			path:    write("keys.json", testJWKS(t, newTestKey(t, "k1", jose.ES256).jwk("sig"))),
			wantLen: 1,
		},
		{
			name:    "garbage",
			path:    write("garbage.pem", []byte("not a key")),
			wantErr: true,
		},
		{
			name:    "missing",
			path:    filepath.Join(dir, "missing"),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			ks, err := ParseKeyFile(tt.path)
			if tt.wantErr {
				require.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantLen, ks.Len())
		})
	}
}

func TestKeySet_Immutable(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	k := newTestKey(t, "a", jose.ES256).public()
	ks := NewKeySet(k)
	got := ks.Keys()
	got[0].ID = "changed"
	assert.Equal([]string{"a"}, ks.KeyIDs())

	var nilSet *KeySet
	assert.Equal(0, nilSet.Len())
	assert.Empty(nilSet.Keys())
}
