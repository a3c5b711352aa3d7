// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/devicepass/sdk/id"
)

const hstsValue = "max-age=63072000"

// securityHeaders sets the content security policy and related headers.
// Framing is allowed for the provider origin only when the provider embeds
// front-channel logout iframes.
func (h *Handler) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nonce, err := id.New("")
		if err != nil {
			h.logger.Error("unable to generate CSP nonce", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		csp := fmt.Sprintf("default-src 'none'; script-src 'nonce-%s'; style-src 'self'; "+
			"img-src 'self' data: https:; connect-src 'self'; base-uri 'self'", nonce)

		hdr := w.Header()
		hdr.Set("X-Content-Type-Options", "nosniff")
		if origin := h.frameAncestor(); origin != "" {
			csp += "; frame-ancestors " + origin
		} else {
			csp += "; frame-ancestors 'none'"
			hdr.Set("X-Frame-Options", "DENY")
		}
		hdr.Set("Content-Security-Policy", csp)
		if h.hsts {
			hdr.Set("Strict-Transport-Security", hstsValue)
		}
		next.ServeHTTP(w, r)
	})
}

// frameAncestor returns the provider origin when it supports front-channel
// logout. The provider is assumed to serve everything from one origin.
func (h *Handler) frameAncestor() string {
	provider := h.sessions.Provider()
	pc := provider.ProviderConfig()
	if pc == nil || !pc.SupportsFrontChannelLogout() {
		return ""
	}
	u, err := url.Parse(provider.Config().DiscoveryURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
