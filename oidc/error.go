// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNilParameter         = errors.New("nil parameter")
	ErrInvalidCACert        = errors.New("invalid CA certificate")
	ErrInvalidIssuer        = errors.New("invalid issuer")
	ErrInvalidDiscovery     = errors.New("invalid discovery document")
	ErrNotLoaded            = errors.New("provider configuration not loaded")
	ErrUpstreamUnavailable  = errors.New("identity provider unavailable")
	ErrMissingIDToken       = errors.New("id_token is missing")
	ErrMissingRequiredClaim = errors.New("missing required claim")
	ErrEmailNotVerified     = errors.New("email not verified")
)

// MissingClaimError names the required claim that neither the ID token nor,
// when allowed, the userinfo profile carried.
type MissingClaimError struct {
	Claim string
}

func (e *MissingClaimError) Error() string {
	return fmt.Sprintf("%s: %q", ErrMissingRequiredClaim, e.Claim)
}

// Is matches ErrMissingRequiredClaim.
func (e *MissingClaimError) Is(target error) bool {
	return target == ErrMissingRequiredClaim
}
