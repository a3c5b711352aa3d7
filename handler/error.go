// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"errors"
	"net/http"

	"github.com/hashicorp/devicepass/device"
	"github.com/hashicorp/devicepass/jwt"
	"github.com/hashicorp/devicepass/oidc"
	"github.com/hashicorp/devicepass/session"
)

var ErrInvalidParameter = errors.New("invalid parameter")

// StatusCode maps an error of the session, oidc, jwt or device packages to
// the HTTP status returned for it.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, oidc.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrCSRFMismatch),
		errors.Is(err, session.ErrSessionRevoked),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, oidc.ErrMissingRequiredClaim),
		errors.Is(err, oidc.ErrEmailNotVerified):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidParameter),
		errors.Is(err, session.ErrMissingCode),
		errors.Is(err, session.ErrInvalidLogoutToken),
		errors.Is(err, session.ErrFrontChannelUnsupported),
		errors.Is(err, session.ErrMissingSession),
		errors.Is(err, session.ErrInvalidIssuer),
		errors.Is(err, session.ErrSubjectMismatch),
		errors.Is(err, oidc.ErrMissingIDToken),
		errors.Is(err, jwt.ErrMalformedToken),
		errors.Is(err, jwt.ErrInvalidSignature),
		errors.Is(err, jwt.ErrKeyNotFound),
		errors.Is(err, jwt.ErrInvalidClaims),
		errors.Is(err, device.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, device.ErrLoginExhausted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
