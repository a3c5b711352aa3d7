// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "csrf", want: `^csrf_[0-9A-Za-z]{20}$`},
		{prefix: "st", want: `^st_[0-9A-Za-z]{20}$`},
		{prefix: "", want: `^[0-9A-Za-z]{20}$`},
	}
	for _, tt := range tests {
		got, err := New(tt.prefix)
		require.NoError(t, err)
		assert.Regexp(t, tt.want, got)
	}

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		got, err := New("st")
		require.NoError(t, err)
		require.False(t, seen[got], "duplicate id %s", got)
		seen[got] = true
	}
}
