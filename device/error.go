// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package device

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrUnknownScheme    = errors.New("unknown password hash scheme")
	ErrMalformedHash    = errors.New("malformed password hash")
	ErrNotFound         = errors.New("credential not found")
	ErrLoginTaken       = errors.New("login already taken")
	ErrLoginExhausted   = errors.New("cannot create unique login")
)
