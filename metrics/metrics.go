// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "devicepass"

// Metrics provides observability for sessions, the provider cache, device
// credentials and the HTTP surface.
type Metrics struct {
	SessionEvents      *prometheus.CounterVec
	CacheRefreshes     *prometheus.CounterVec
	CredentialsCreated prometheus.Counter
	CredentialsDeleted prometheus.Counter
	RequestDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by kind",
		}, []string{"event"}),
		CacheRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_cache_refreshes_total",
			Help:      "Background refreshes of the provider configuration and keys",
		}, []string{"kind", "result"}),
		CredentialsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_credentials_created_total",
			Help:      "Device credentials issued",
		}),
		CredentialsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_credentials_deleted_total",
			Help:      "Device credentials deleted by their owner",
		}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests by route",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "code"}),
	}
}

// ObserveSessionEvent counts a session event. It's meant to be passed to
// session.WithObserver.
func (m *Metrics) ObserveSessionEvent(event string) {
	m.SessionEvents.WithLabelValues(event).Inc()
}

// ObserveCacheRefresh counts a background refresh of kind. It's meant to be
// passed to oidc.WithRefreshObserver.
func (m *Metrics) ObserveCacheRefresh(kind string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.CacheRefreshes.WithLabelValues(kind, result).Inc()
}

// IncrementCredentialsCreated records an issued device credential.
func (m *Metrics) IncrementCredentialsCreated() {
	m.CredentialsCreated.Inc()
}

// IncrementCredentialsDeleted records a deleted device credential.
func (m *Metrics) IncrementCredentialsDeleted() {
	m.CredentialsDeleted.Inc()
}

// Middleware records the duration of every request, labelled with the chi
// route pattern so path parameters don't explode the label space.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
