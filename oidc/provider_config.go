// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/strutil"
)

// ProviderConfig is a snapshot of the provider's discovery document. A
// snapshot is never modified once the Cache publishes it.
type ProviderConfig struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri"`

	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ResponseModesSupported            []string `json:"response_modes_supported,omitempty"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`

	FrontchannelLogoutSupported        bool `json:"frontchannel_logout_supported,omitempty"`
	FrontchannelLogoutSessionSupported bool `json:"frontchannel_logout_session_supported,omitempty"`
	HTTPLogoutSupported                bool `json:"http_logout_supported,omitempty"`
	LogoutSessionSupported             bool `json:"logout_session_supported,omitempty"`
	BackchannelLogoutSupported         bool `json:"backchannel_logout_supported,omitempty"`
	BackchannelLogoutSessionSupported  bool `json:"backchannel_logout_session_supported,omitempty"`
}

// ParseProviderConfig decodes and validates a discovery document.
func ParseProviderConfig(data []byte) (*ProviderConfig, error) {
	const op = "oidc.ParseProviderConfig"
	var pc ProviderConfig
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidDiscovery, err)
	}
	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &pc, nil
}

// Validate checks the endpoints every relying party needs are present.
func (pc *ProviderConfig) Validate() error {
	const op = "ProviderConfig.Validate"
	if pc == nil {
		return fmt.Errorf("%s: %w", op, ErrNilParameter)
	}
	missing := func(field string) error {
		return fmt.Errorf("%s: %s is missing: %w", op, field, ErrInvalidDiscovery)
	}
	switch {
	case pc.Issuer == "":
		return missing("issuer")
	case pc.AuthorizationEndpoint == "":
		return missing("authorization_endpoint")
	case pc.TokenEndpoint == "":
		return missing("token_endpoint")
	case pc.JWKSURI == "":
		return missing("jwks_uri")
	}
	return nil
}

// SupportsAuthMethod reports whether the token endpoint advertises the
// client authentication method.
func (pc *ProviderConfig) SupportsAuthMethod(method string) bool {
	return strutil.StrListContains(pc.TokenEndpointAuthMethodsSupported, method)
}

// SupportsResponseMode reports whether the authorization endpoint advertises
// the response mode.
func (pc *ProviderConfig) SupportsResponseMode(mode string) bool {
	return strutil.StrListContains(pc.ResponseModesSupported, mode)
}

// SupportsFrontChannelLogout reports whether the provider performs
// front-channel logout, under either of its advertised names.
func (pc *ProviderConfig) SupportsFrontChannelLogout() bool {
	return pc.FrontchannelLogoutSupported || pc.HTTPLogoutSupported
}

// FrontChannelSessionRequired reports whether front-channel logout requests
// carry iss and sid.
func (pc *ProviderConfig) FrontChannelSessionRequired() bool {
	return pc.FrontchannelLogoutSessionSupported || pc.LogoutSessionSupported
}
