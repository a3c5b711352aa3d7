// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package http builds the HTTP client used for every request to the
// identity provider.
package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
)

// DefaultTimeout bounds provider requests when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// UserAgent is sent with every provider request.
const UserAgent = "devicepass"

var ErrInvalidCertificatePem = errors.New("invalid certificate PEM")

// NewClient returns a pooled client for provider requests. caPEM, when set,
// replaces the system roots; a timeout of zero or less means DefaultTimeout.
func NewClient(caPEM string, timeout time.Duration) (*http.Client, error) {
	const op = "http.NewClient"
	tr := cleanhttp.DefaultPooledTransport()
	tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	if caPEM != "" {
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM([]byte(caPEM)) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCertificatePem)
		}
		tr.TLSClientConfig.RootCAs = roots
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Transport: &userAgent{next: tr},
		Timeout:   timeout,
	}, nil
}

type userAgent struct {
	next http.RoundTripper
}

func (u *userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", UserAgent)
	return u.next.RoundTrip(r)
}

// OidcClientContext returns ctx carrying client under the key go-oidc and
// golang.org/x/oauth2 look up, so both send their requests with it.
func OidcClientContext(ctx context.Context, client *http.Client) context.Context {
	return oidc.ClientContext(ctx, client)
}
