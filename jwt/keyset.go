// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-multierror"
)

// Key is a single signature verification key.
type Key struct {
	// ID is the key's "kid". It's only a hint and may be empty.
	ID string

	// Algorithm is the key's declared "alg", if any.
	Algorithm string

	// PublicKey is a *rsa.PublicKey, *ecdsa.PublicKey or ed25519.PublicKey.
	PublicKey crypto.PublicKey
}

// KeySet is an ordered, immutable set of verification keys. A KeySet is
// never modified after it's built; refreshes replace the whole value.
type KeySet struct {
	keys []Key
}

// NewKeySet returns a KeySet holding keys in the order given.
func NewKeySet(keys ...Key) *KeySet {
	ks := &KeySet{keys: make([]Key, len(keys))}
	copy(ks.keys, keys)
	return ks
}

// Keys returns a copy of the set's keys.
func (ks *KeySet) Keys() []Key {
	if ks == nil {
		return nil
	}
	keys := make([]Key, len(ks.keys))
	copy(keys, ks.keys)
	return keys
}

// Len is the number of keys in the set.
func (ks *KeySet) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.keys)
}

// KeyIDs returns the key ids in set order.
func (ks *KeySet) KeyIDs() []string {
	ids := make([]string, 0, ks.Len())
	for _, k := range ks.Keys() {
		ids = append(ids, k.ID)
	}
	return ids
}

// jwkHints are the JWK members used to decide whether a key may verify
// signatures. go-jose doesn't expose key_ops, so they're read separately.
type jwkHints struct {
	Use    string   `json:"use"`
	Alg    string   `json:"alg"`
	KeyOps []string `json:"key_ops"`
}

func (h jwkHints) verifies() bool {
	if h.Use != "" && h.Use != "sig" {
		return false
	}
	if isEncryptionAlg(h.Alg) {
		return false
	}
	if len(h.KeyOps) > 0 {
		for _, op := range h.KeyOps {
			if op == "verify" {
				return true
			}
		}
		return false
	}
	return true
}

func isEncryptionAlg(alg string) bool {
	switch {
	case strings.HasPrefix(alg, "RSA-OAEP"), alg == "RSA1_5",
		strings.HasPrefix(alg, "ECDH-ES"), strings.HasSuffix(alg, "KW"),
		alg == "dir":
		return true
	}
	return false
}

// ParseJWKS parses a JSON Web Key Set document and keeps only the keys usable
// for signature verification: encryption-only keys, keys whose "use" isn't
// "sig" and keys whose key_ops exclude "verify" are dropped. Keys that cannot
// be decoded are skipped; if no key survives, the decode errors are returned
// together.
func ParseJWKS(data []byte) (*KeySet, error) {
	const op = "jwt.ParseJWKS"
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: unable to decode key set: %w", op, err)
	}

	var keys []Key
	var merr *multierror.Error
	for i, raw := range doc.Keys {
		var hints jwkHints
		if err := json.Unmarshal(raw, &hints); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("key %d: %w", i, err))
			continue
		}
		if !hints.verifies() {
			continue
		}
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("key %d: %w", i, err))
			continue
		}
		k, err := keyFromJWK(jwk)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("key %d (%s): %w", i, jwk.KeyID, err))
			continue
		}
		keys = append(keys, k)
	}
	switch {
	case len(keys) == 0 && merr != nil:
		return nil, fmt.Errorf("%s: cannot decode any key: %w", op, merr.ErrorOrNil())
	case len(keys) == 0:
		return nil, fmt.Errorf("%s: %w", op, ErrNoKeys)
	}
	return NewKeySet(keys...), nil
}

func keyFromJWK(jwk jose.JSONWebKey) (Key, error) {
	if !jwk.Valid() {
		return Key{}, errors.New("invalid key material")
	}
	pub := jwk.Public()
	if !pub.Valid() {
		return Key{}, errors.New("not an asymmetric key")
	}
	switch pub.Key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
	default:
		return Key{}, fmt.Errorf("unsupported key type %T", pub.Key)
	}
	return Key{
		ID:        jwk.KeyID,
		Algorithm: jwk.Algorithm,
		PublicKey: pub.Key,
	}, nil
}

// ParseKeyFile loads a static key set from disk. The file may be a JSON Web
// Key Set or one or more PEM-encoded PKIX public keys or x509 certificates.
func ParseKeyFile(path string) (*KeySet, error) {
	const op = "jwt.ParseKeyFile"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return ParseJWKS(trimmed)
	}

	var keys []Key
	rest := trimmed
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		pub, err := parsePublicKeyBlock(block)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		keys = append(keys, Key{PublicKey: pub})
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoKeys)
	}
	return NewKeySet(keys...), nil
}

// parsePublicKeyBlock is used to parse RSA, ECDSA and Ed25519 public keys
// from a PEM block.
func parsePublicKeyBlock(block *pem.Block) (crypto.PublicKey, error) {
	rawKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, err
		}
		rawKey = cert.PublicKey
	}

	switch k := rawKey.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return k, nil
	}
	return nil, errors.New("data does not contain any valid RSA, ECDSA or Ed25519 public keys")
}
