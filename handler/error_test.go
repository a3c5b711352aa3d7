// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hashicorp/devicepass/device"
	"github.com/hashicorp/devicepass/jwt"
	"github.com/hashicorp/devicepass/oidc"
	"github.com/hashicorp/devicepass/session"
)

func TestStatusCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{oidc.ErrUpstreamUnavailable, http.StatusBadGateway},
		{fmt.Errorf("Manager.CompleteLogin: %w", oidc.ErrUpstreamUnavailable), http.StatusBadGateway},
		{session.ErrCSRFMismatch, http.StatusForbidden},
		{&oidc.MissingClaimError{Claim: "email"}, http.StatusForbidden},
		{oidc.ErrEmailNotVerified, http.StatusForbidden},
		{session.ErrSessionRevoked, http.StatusForbidden},
		{session.ErrMissingCode, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", session.ErrInvalidLogoutToken, jwt.ErrExpired), http.StatusBadRequest},
		{&jwt.KeyErrors{Keys: []*jwt.KeyError{{KeyID: "a", Err: jwt.ErrInvalidSignature}}}, http.StatusBadRequest},
		{jwt.ErrInvalidAudience, http.StatusBadRequest},
		{session.ErrFrontChannelUnsupported, http.StatusBadRequest},
		{session.ErrInvalidIssuer, http.StatusBadRequest},
		{device.ErrInvalidParameter, http.StatusBadRequest},
		{device.ErrNotFound, http.StatusNotFound},
		{device.ErrLoginExhausted, http.StatusConflict},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		assert.Equal(t, tt.want, StatusCode(tt.err), name)
	}
}
