// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import "errors"

var (
	ErrInvalidParameter        = errors.New("invalid parameter")
	ErrNilParameter            = errors.New("nil parameter")
	ErrCSRFMismatch            = errors.New("anti-forgery token mismatch")
	ErrMissingCode             = errors.New("authorization code is missing")
	ErrSessionRevoked          = errors.New("session revoked")
	ErrSessionNotFound         = errors.New("session not found")
	ErrSubjectMismatch         = errors.New("refreshed token is for another subject")
	ErrInvalidLogoutToken      = errors.New("invalid logout token")
	ErrFrontChannelUnsupported = errors.New("front-channel logout not supported")
	ErrMissingSession          = errors.New("missing iss or sid")
	ErrInvalidIssuer           = errors.New("invalid issuer")

	// Store errors.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("session changed concurrently")
)
