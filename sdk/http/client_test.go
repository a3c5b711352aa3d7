// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"bytes"
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewClient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		caPEM       string
		timeout     time.Duration
		wantTimeout time.Duration
		wantErr     error
	}{
		{name: "default timeout", wantTimeout: DefaultTimeout},
		{name: "negative timeout", timeout: -1, wantTimeout: DefaultTimeout},
		{name: "custom timeout", timeout: 2 * time.Second, wantTimeout: 2 * time.Second},
		{name: "invalid ca", caPEM: "not a pem", wantErr: ErrInvalidCertificatePem},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewClient(tt.caPEM, tt.timeout)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTimeout, c.Timeout)
		})
	}
}

func TestNewClient_TrustsCA(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	var gotAgent string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	require.NoError(pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}))

	untrusting, err := NewClient("", time.Second)
	require.NoError(err)
	_, err = untrusting.Get(srv.URL)
	require.Error(err, "the test server's certificate isn't in the system roots")

	c, err := NewClient(buf.String(), time.Second)
	require.NoError(err)
	res, err := c.Get(srv.URL)
	require.NoError(err)
	res.Body.Close()
	assert.Equal(t, UserAgent, gotAgent)
}

func TestOidcClientContext(t *testing.T) {
	t.Parallel()
	c := &http.Client{}
	ctx := OidcClientContext(context.Background(), c)
	got, ok := ctx.Value(oauth2.HTTPClient).(*http.Client)
	require.True(t, ok)
	assert.Same(t, c, got)
}
