// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hashicorp/devicepass/metrics"
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

type handlerOptions struct {
	withLogger   hclog.Logger
	withHSTS     bool
	withMetrics  *metrics.Metrics
	withGatherer prometheus.Gatherer
}

func handlerDefaults() handlerOptions {
	return handlerOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withLogger = l
		}
	}
}

// WithHSTS adds a Strict-Transport-Security header to every response.
func WithHSTS(enabled bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withHSTS = enabled
		}
	}
}

// WithMetrics instruments the routes with m and serves g at /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withMetrics = m
			o.withGatherer = g
		}
	}
}
