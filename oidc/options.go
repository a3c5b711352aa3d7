// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger for: Cache, Client
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *cacheOptions:
			v.withLogger = l
		case *clientOptions:
			v.withLogger = l
		}
	}
}

// WithNow provides an optional time source for: Client
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok && now != nil {
			v.withNow = now
		}
	}
}

// WithLeeway provides the clock skew tolerated on token time claims for:
// Client
func WithLeeway(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok {
			v.withLeeway = &d
		}
	}
}

// WithStartupBackoff replaces the backoff policy the Cache uses while
// loading the provider configuration at startup.
func WithStartupBackoff(fn func() backoff.BackOff) Option {
	return func(o interface{}) {
		if v, ok := o.(*cacheOptions); ok && fn != nil {
			v.withStartupBackoff = fn
		}
	}
}

// WithRefreshObserver registers a func called after every background refresh
// attempt of the Cache, with the kind ("config" or "keys") and the attempt's
// error, nil on success.
func WithRefreshObserver(fn func(kind string, err error)) Option {
	return func(o interface{}) {
		if v, ok := o.(*cacheOptions); ok {
			v.withRefreshObserver = fn
		}
	}
}

// WithScopes provides an optional list of scopes for: Config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withScopes = scopes
		}
	}
}

// WithProviderCA provides an optional PEM encoded CA cert used when talking to
// the provider for: Config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withProviderCA = cert
		}
	}
}

// WithStaticKeyFile loads the verification keys from a JWKS or PEM file
// instead of the provider's jwks_uri for: Config
func WithStaticKeyFile(path string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withStaticKeyFile = path
		}
	}
}

// WithTimeout bounds every request to the provider for: Config
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withTimeout = d
		}
	}
}

// WithRefreshInterval sets how often the Cache reloads the discovery
// document and keys for: Config
func WithRefreshInterval(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withRefreshInterval = d
		}
	}
}

// WithClaimNames overrides the claims holding the user's email and username
// for: Config. Empty names keep the defaults.
func WithClaimNames(email, username string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			if email != "" {
				v.withClaimEmail = email
			}
			if username != "" {
				v.withClaimUsername = username
			}
		}
	}
}

// WithVerifiedClaim names a claim that must be true in the ID token for:
// Config
func WithVerifiedClaim(name string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withClaimVerified = name
		}
	}
}

// WithClaimsFromProfile lets required claims be satisfied by the userinfo
// profile when the ID token lacks them for: Config
func WithClaimsFromProfile() Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withClaimsFromProfile = true
		}
	}
}
