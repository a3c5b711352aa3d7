// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokens_Redacted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		token fmt.Stringer
		want  string
	}{
		{name: "id token", token: IDToken("eyJ.secret.sig"), want: RedactedIDToken},
		{name: "refresh token", token: RefreshToken("refresh-secret"), want: RedactedRefreshToken},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			assert.Equal(tt.want, tt.token.String())
			b, err := json.Marshal(tt.token)
			assert.NoError(err)
			assert.Equal(fmt.Sprintf("%q", tt.want), string(b))
		})
	}
}

func TestRedeemedTokens_RefreshExpiry(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	now := time.Now()
	assert.True((&RedeemedTokens{}).RefreshExpiry(now).IsZero())
	assert.Equal(now.Add(time.Minute), (&RedeemedTokens{RefreshExpiresIn: time.Minute}).RefreshExpiry(now))
}
