// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type validatorOptions struct {
	withLeeway time.Duration
	withNow    func() time.Time
	withLogger hclog.Logger
}

func validatorDefaults() validatorOptions {
	return validatorOptions{
		withLeeway: DefaultLeeway,
		withNow:    time.Now,
		withLogger: hclog.NewNullLogger(),
	}
}

// getValidatorOpts gets the defaults and applies the opt overrides passed
// in.
func getValidatorOpts(opt ...Option) validatorOptions {
	opts := validatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

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

// WithLeeway sets the clock skew tolerated when checking exp, nbf and iat.
func WithLeeway(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*validatorOptions); ok {
			v.withLeeway = d
		}
	}
}

// WithNow provides a time source for validation.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*validatorOptions); ok && now != nil {
			v.withNow = now
		}
	}
}

// WithLogger provides a logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*validatorOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}
