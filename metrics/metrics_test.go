// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observers(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	m := New(prometheus.NewRegistry())

	m.ObserveSessionEvent("login")
	m.ObserveSessionEvent("login")
	m.ObserveSessionEvent("refresh")
	assert.Equal(2.0, testutil.ToFloat64(m.SessionEvents.WithLabelValues("login")))
	assert.Equal(1.0, testutil.ToFloat64(m.SessionEvents.WithLabelValues("refresh")))

	m.ObserveCacheRefresh("keys", nil)
	m.ObserveCacheRefresh("keys", errors.New("boom"))
	m.ObserveCacheRefresh("config", nil)
	assert.Equal(1.0, testutil.ToFloat64(m.CacheRefreshes.WithLabelValues("keys", "success")))
	assert.Equal(1.0, testutil.ToFloat64(m.CacheRefreshes.WithLabelValues("keys", "failure")))
	assert.Equal(1.0, testutil.ToFloat64(m.CacheRefreshes.WithLabelValues("config", "success")))

	m.IncrementCredentialsCreated()
	m.IncrementCredentialsDeleted()
	assert.Equal(1.0, testutil.ToFloat64(m.CredentialsCreated))
	assert.Equal(1.0, testutil.ToFloat64(m.CredentialsDeleted))
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestMetrics_Middleware(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	reg := prometheus.NewRegistry()
	m := New(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/tokens/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/api/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"pong":true}`))
	})

	for _, path := range []string{"/api/tokens/a", "/api/tokens/b", "/api/ping", "/nope"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(3, testutil.CollectAndCount(m.RequestDuration))
	families, err := reg.Gather()
	require.NoError(err)
	var found bool
	for _, f := range families {
		if f.GetName() != "devicepass_http_request_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["route"] == "/api/tokens/{id}" {
				found = true
				require.Equal("404", labels["code"])
				require.Equal(uint64(2), metric.GetHistogram().GetSampleCount())
			}
		}
	}
	require.True(found)
}
