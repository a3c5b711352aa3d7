// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package device

import (
	"io"
	"time"

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

// WithRandReader provides an optional source of randomness for: Generator,
// Service, NewHasher
func WithRandReader(r io.Reader) Option {
	return func(o interface{}) {
		if r == nil {
			return
		}
		switch v := o.(type) {
		case *generatorOptions:
			v.withRand = r
		case *serviceOptions:
			v.withRand = r
		case *hasherOptions:
			v.withRand = r
		}
	}
}

// WithDigits sets the length of the numeric suffix for: Generator
func WithDigits(n int) Option {
	return func(o interface{}) {
		if v, ok := o.(*generatorOptions); ok {
			v.withDigits = n
		}
	}
}

// WithEntropy sets the minimum entropy in bits of a password for: Generator
func WithEntropy(bits int) Option {
	return func(o interface{}) {
		if v, ok := o.(*generatorOptions); ok {
			v.withEntropy = bits
		}
	}
}

// WithLogger provides an optional logger for: Service
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithNow provides an optional time source for: Service
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok && now != nil {
			v.withNow = now
		}
	}
}

// WithMaxExpirationDays caps how far in the future a credential may expire
// for: Service. Zero, the default, allows credentials that never expire.
func WithMaxExpirationDays(days int) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok && days >= 0 {
			v.withMaxDays = days
		}
	}
}
