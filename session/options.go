// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultRefreshGrace is how long before the ID token expires a request
// already triggers a refresh.
const DefaultRefreshGrace = 30 * time.Second

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

type managerOptions struct {
	withLogger    hclog.Logger
	withNow       func() time.Time
	withGrace     time.Duration
	withObserver  func(event string)
	withRetention time.Duration
}

func managerDefaults() managerOptions {
	return managerOptions{
		withLogger:   hclog.NewNullLogger(),
		withNow:      time.Now,
		withGrace:    DefaultRefreshGrace,
		withObserver: func(string) {},
	}
}

func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for: Manager
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}

// WithNow provides an optional time source for: Manager
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok && now != nil {
			v.withNow = now
		}
	}
}

// WithRefreshGrace replaces DefaultRefreshGrace for: Manager
func WithRefreshGrace(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok && d >= 0 {
			v.withGrace = d
		}
	}
}

// WithObserver is called with the name of every session event for: Manager
func WithObserver(fn func(event string)) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok && fn != nil {
			v.withObserver = fn
		}
	}
}

// WithRevocationRetention makes Manager.PurgeRevoked forget revocations
// older than d. Zero, the default, keeps them forever.
func WithRevocationRetention(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok && d >= 0 {
			v.withRetention = d
		}
	}
}
