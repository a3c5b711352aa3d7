// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-hclog"
)

// DefaultLeeway is the clock skew tolerated on time based claims.
const DefaultLeeway = 1 * time.Minute

// SupportedAlgorithms are the asymmetric signing algorithms a token may use.
var SupportedAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// Expected are the values a token's claims must match.
type Expected struct {
	// Type is the required "typ" claim; tokens without one are ID tokens.
	Type string

	// Audience must be one of the token's "aud" values.
	Audience string

	// Issuer must equal the token's "iss".
	Issuer string

	// AccessToken, when set, is checked against the token's "at_hash".
	AccessToken string
}

// Validator verifies signed tokens against a KeySet.
type Validator struct {
	leeway time.Duration
	now    func() time.Time
	logger hclog.Logger
}

// NewValidator creates a Validator.
// Supported options: WithLeeway, WithNow, WithLogger
func NewValidator(opt ...Option) *Validator {
	opts := getValidatorOpts(opt...)
	return &Validator{
		leeway: opts.withLeeway,
		now:    opts.withNow,
		logger: opts.withLogger,
	}
}

// Validate verifies token and returns its claims.
//
// Every key of keys is tried in order until one verifies the signature; the
// token's "kid" header is not used to select a key, which lets tokens signed
// with a key that's being rotated out keep validating for as long as the
// provider still publishes it. If no key verifies, the returned error is a
// *KeyErrors with one entry per key.
//
// Once the signature verifies the registered time claims, audience, issuer
// and, if exp.AccessToken is set, the access token hash are checked. The
// token type is checked last, so a type mismatch is reported as ErrInvalidType
// for any otherwise valid token.
func (v *Validator) Validate(ctx context.Context, token string, exp Expected, keys *KeySet) (*Claims, error) {
	const op = "jwt.(Validator).Validate"
	if token == "" {
		return nil, fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	if exp.Type == "" {
		return nil, fmt.Errorf("%s: expected type is empty: %w", op, ErrInvalidParameter)
	}
	if keys.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrKeyNotFound)
	}
	parsed, err := josejwt.ParseSigned(token, SupportedAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedToken, err)
	}
	if len(parsed.Headers) != 1 {
		return nil, fmt.Errorf("%s: %w: expected exactly one signature", op, ErrMalformedToken)
	}
	alg := parsed.Headers[0].Algorithm

	var (
		std      josejwt.Claims
		priv     privateClaims
		all      map[string]any
		verified *Key
		keyErrs  = &KeyErrors{}
	)
	for _, k := range keys.Keys() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		std, priv, all = josejwt.Claims{}, privateClaims{}, map[string]any{}
		if err := parsed.Claims(k.PublicKey, &std, &priv, &all); err != nil {
			keyErrs.Keys = append(keyErrs.Keys, &KeyError{KeyID: k.ID, Err: err})
			continue
		}
		k := k
		verified = &k
		break
	}
	if verified == nil {
		return nil, fmt.Errorf("%s: %w", op, keyErrs)
	}

	now := v.now()
	if std.Expiry == nil && exp.Type == TypeID {
		return nil, fmt.Errorf("%s: missing exp claim: %w", op, ErrExpired)
	}
	want := josejwt.Expected{Issuer: exp.Issuer, Time: now}
	if exp.Audience != "" {
		want.AnyAudience = josejwt.Audience{exp.Audience}
	}
	if err := std.ValidateWithLeeway(want, v.leeway); err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapClaimsError(err))
	}
	if exp.AccessToken != "" && priv.AccessTokenHash != "" {
		if err := verifyAccessTokenHash(alg, exp.AccessToken, priv.AccessTokenHash); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	claims := newClaims(std, priv, all)
	v.logger.Debug("verified token", "type", claims.Type, "sub", claims.Subject, "kid", verified.ID)

	if claims.Type != exp.Type {
		return nil, fmt.Errorf("%s: got %q, want %q: %w", op, claims.Type, exp.Type, ErrInvalidType)
	}
	return claims, nil
}

func mapClaimsError(err error) error {
	switch {
	case errors.Is(err, josejwt.ErrExpired):
		return ErrExpired
	case errors.Is(err, josejwt.ErrNotValidYet), errors.Is(err, josejwt.ErrIssuedInTheFuture):
		return ErrNotYetValid
	case errors.Is(err, josejwt.ErrInvalidAudience):
		return ErrInvalidAudience
	case errors.Is(err, josejwt.ErrInvalidIssuer):
		return ErrInvalidIssuer
	}
	return fmt.Errorf("%w: %w", ErrInvalidClaims, err)
}

// verifyAccessTokenHash checks the at_hash binding: the left-most half of the
// hash of the access token, using the hash function of the token's signing
// algorithm, base64url encoded.
func verifyAccessTokenHash(alg, accessToken, atHash string) error {
	want, err := AccessTokenHash(alg, accessToken)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(atHash)) != 1 {
		return ErrInvalidAccessTokenHash
	}
	return nil
}

// AccessTokenHash computes the at_hash value for an access token issued
// alongside a token signed with alg.
func AccessTokenHash(alg, accessToken string) (string, error) {
	var h hash.Hash
	switch jose.SignatureAlgorithm(alg) {
	case jose.RS256, jose.PS256, jose.ES256:
		h = sha256.New()
	case jose.RS384, jose.PS384, jose.ES384:
		h = sha512.New384()
	case jose.RS512, jose.PS512, jose.ES512, jose.EdDSA:
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported signing algorithm %q: %w", alg, ErrInvalidAccessTokenHash)
	}
	_, _ = h.Write([]byte(accessToken))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
