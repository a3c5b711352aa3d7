// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
)

// AuthURL returns the provider login redirect for state. The response is
// posted back as a form when the provider supports form_post, otherwise it
// arrives in the query. Query parameters already present on the
// authorization endpoint are kept.
func (c *Client) AuthURL(state, redirectURI string) (string, error) {
	const op = "Client.AuthURL"
	switch {
	case state == "":
		return "", fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	case redirectURI == "":
		return "", fmt.Errorf("%s: redirect URI is empty: %w", op, ErrInvalidParameter)
	}
	pc := c.cache.Config()
	if pc == nil {
		return "", fmt.Errorf("%s: %w", op, ErrNotLoaded)
	}
	var opts []oauth2.AuthCodeOption
	if pc.SupportsResponseMode("form_post") {
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", "form_post"))
	}
	return c.oauth2Config(pc, redirectURI).AuthCodeURL(state, opts...), nil
}

// LogoutURL returns the provider's end-session redirect with the ID token
// and email as hints. ok is false when the provider has no end_session
// endpoint, in which case the caller should redirect to postLogout
// directly.
func (c *Client) LogoutURL(idToken, email, postLogout string) (_ string, ok bool, _ error) {
	const op = "Client.LogoutURL"
	pc := c.cache.Config()
	if pc == nil {
		return "", false, fmt.Errorf("%s: %w", op, ErrNotLoaded)
	}
	if pc.EndSessionEndpoint == "" {
		return "", false, nil
	}
	u, err := url.Parse(pc.EndSessionEndpoint)
	if err != nil {
		return "", false, fmt.Errorf("%s: invalid end_session_endpoint: %w", op, err)
	}
	q := u.Query()
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	if email != "" {
		q.Set("logout_hint", email)
	}
	q.Set("client_id", c.cfg.ClientID)
	if postLogout != "" {
		q.Set("post_logout_redirect_uri", postLogout)
	}
	u.RawQuery = q.Encode()
	return u.String(), true, nil
}
