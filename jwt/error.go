// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrMalformedToken         = errors.New("malformed token")
	ErrKeyNotFound            = errors.New("no verification key found")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrInvalidClaims          = errors.New("invalid claims")
	ErrExpired                = fmt.Errorf("token is expired: %w", ErrInvalidClaims)
	ErrNotYetValid            = fmt.Errorf("token is not valid yet: %w", ErrInvalidClaims)
	ErrInvalidAudience        = fmt.Errorf("invalid audience: %w", ErrInvalidClaims)
	ErrInvalidIssuer          = fmt.Errorf("invalid issuer: %w", ErrInvalidClaims)
	ErrInvalidType            = fmt.Errorf("invalid token type: %w", ErrInvalidClaims)
	ErrInvalidAccessTokenHash = fmt.Errorf("invalid access token hash: %w", ErrInvalidClaims)
	ErrNoKeys                 = errors.New("no usable keys in key set")
)

// KeyError is the reason a single key failed to verify a token.
type KeyError struct {
	KeyID string
	Err   error
}

func (e *KeyError) Error() string {
	kid := e.KeyID
	if kid == "" {
		kid = "-"
	}
	return fmt.Sprintf("key %s: %s", kid, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// KeyErrors is returned when no key of a key set verified a token's
// signature. It holds one KeyError per key tried, in key set order. Callers
// decide whether the key ids are fit for their logs; the message returned to
// an end user should never include them.
type KeyErrors struct {
	Keys []*KeyError
}

func (e *KeyErrors) Error() string {
	var merr *multierror.Error
	for _, k := range e.Keys {
		merr = multierror.Append(merr, k)
	}
	merr.ErrorFormat = func(errs []error) string {
		points := make([]string, len(errs))
		for i, err := range errs {
			points[i] = err.Error()
		}
		return fmt.Sprintf("%s: %d key(s) tried: %s", ErrInvalidSignature, len(errs), strings.Join(points, "; "))
	}
	return merr.Error()
}

// Is reports KeyErrors as ErrInvalidSignature, or as ErrKeyNotFound when
// there was no key to try.
func (e *KeyErrors) Is(target error) bool {
	if len(e.Keys) == 0 {
		return target == ErrKeyNotFound
	}
	return target == ErrInvalidSignature
}

// Unwrap exposes every per-key failure to errors.Is and errors.As.
func (e *KeyErrors) Unwrap() []error {
	errs := make([]error, 0, len(e.Keys))
	for _, k := range e.Keys {
		errs = append(errs, k)
	}
	return errs
}

// KeyIDs returns the ids of every key tried.
func (e *KeyErrors) KeyIDs() []string {
	ids := make([]string, 0, len(e.Keys))
	for _, k := range e.Keys {
		ids = append(ids, k.KeyID)
	}
	return ids
}
