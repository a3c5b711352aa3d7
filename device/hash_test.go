// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasher(t *testing.T) {
	t.Parallel()
	for _, scheme := range Schemes() {
		h, err := NewHasher(scheme)
		require.NoError(t, err, scheme)
		assert.Equal(t, scheme, h.Scheme())
	}

	_, err := NewHasher("md5_crypt")
	require.ErrorIs(t, err, ErrUnknownScheme)
	assert.Contains(t, err.Error(), "dovecot_scram_sha256")
}

func TestHasher_RoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		scheme     string
		wantPrefix string
	}{
		{scheme: "plaintext", wantPrefix: "correct-horse"},
		{scheme: "hex_sha256"},
		{scheme: "hex_sha512"},
		{scheme: "ldap_salted_sha256", wantPrefix: "{SSHA256}"},
		{scheme: "ldap_salted_sha512", wantPrefix: "{SSHA512}"},
		{scheme: "bcrypt", wantPrefix: "$2a$12$"},
		{scheme: "scrypt", wantPrefix: "$scrypt$ln=16,r=8,p=1$"},
		{scheme: "argon2", wantPrefix: "$argon2id$v=19$m=65536,t=3,p=4$"},
		{scheme: "dovecot_scram_sha1", wantPrefix: "{SCRAM-SHA-1}200000,"},
		{scheme: "dovecot_scram_sha256", wantPrefix: "{SCRAM-SHA-256}200000,"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.scheme, func(t *testing.T) {
			t.Parallel()
			require := require.New(t)
			h, err := NewHasher(tt.scheme)
			require.NoError(err)

			const password = "correct-horse-battery-staple-12345"
			encoded, err := h.Hash(password)
			require.NoError(err)
			require.True(strings.HasPrefix(encoded, tt.wantPrefix), encoded)

			ok, err := h.Verify(password, encoded)
			require.NoError(err)
			require.True(ok)

			ok, err = h.Verify("wrong-password", encoded)
			require.NoError(err)
			require.False(ok)
		})
	}
}

func TestHasher_Salted(t *testing.T) {
	t.Parallel()
	for _, scheme := range []string{"ldap_salted_sha512", "argon2", "dovecot_scram_sha256"} {
		h, err := NewHasher(scheme)
		require.NoError(t, err)
		a, err := h.Hash("password")
		require.NoError(t, err)
		b, err := h.Hash("password")
		require.NoError(t, err)
		assert.NotEqual(t, a, b, scheme)
	}
}

func TestHasher_KnownValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		scheme   string
		password string
		encoded  string
	}{
		{
			scheme:   "hex_sha256",
			password: "password",
			encoded:  "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8",
		},
		{
			scheme:   "dovecot_scram_sha1",
			password: "IeDahgai",
			encoded:  "{SCRAM-SHA-1}4096,YLq6hzinvC13hpOtiYrY6w==,U2vQpW46v6506Zsab9NTlPv/jbk=,cJxnNAQ5EeLhLAk6IB8ymube7TU=",
		},
		{
			scheme:   "dovecot_scram_sha256",
			password: "maiPeeja",
			encoded: "{SCRAM-SHA-256}4096,2LdpQgqFUFMdV63SS9XgnQ==," +
				"1lqxQc6gqLHXXuycpPlLyvb8AUSuxBfmZlqaJGzFDOI=," +
				"j+dSYp5a1uwOD6HLuzKvnJSmGeKJuJCLQmN80MCEeS0=",
		},
	}
	for _, tt := range tests {
		h, err := NewHasher(tt.scheme)
		require.NoError(t, err)
		ok, err := h.Verify(tt.password, tt.encoded)
		require.NoError(t, err, tt.scheme)
		assert.True(t, ok, tt.scheme)
	}
}

func TestHasher_Malformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		scheme  string
		encoded string
	}{
		{scheme: "ldap_salted_sha512", encoded: "{SSHA256}abcd"},
		{scheme: "ldap_salted_sha512", encoded: "{SSHA512}not base64"},
		{scheme: "scrypt", encoded: "$scrypt$ln=x$a$b"},
		{scheme: "argon2", encoded: "$argon2i$v=19$m=1,t=1,p=1$a$b"},
		{scheme: "argon2", encoded: "$argon2id$v=16$m=1,t=1,p=1$YQ$Yg"},
		{scheme: "dovecot_scram_sha256", encoded: "{SCRAM-SHA-1}4096,a,b,c"},
		{scheme: "dovecot_scram_sha256", encoded: "{SCRAM-SHA-256}many,a,b,c"},
		{scheme: "bcrypt", encoded: "not-bcrypt"},
	}
	for _, tt := range tests {
		h, err := NewHasher(tt.scheme)
		require.NoError(t, err)
		ok, err := h.Verify("password", tt.encoded)
		assert.ErrorIs(t, err, ErrMalformedHash, "%s %s", tt.scheme, tt.encoded)
		assert.False(t, ok)
	}
}
