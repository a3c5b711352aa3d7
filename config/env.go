// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"strconv"
	"time"
)

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func str(field func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func boolean(field func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func integer(field func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

// duration accepts Go durations and, like the token endpoint, plain
// seconds.
func duration(field func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		if n, err := strconv.Atoi(v); err == nil {
			*field(c) = time.Duration(n) * time.Second
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

var envVars = []envVar{
	{"ADDR", str(func(c *Config) *string { return &c.Addr })},
	{"PUBLIC_URL", str(func(c *Config) *string { return &c.PublicURL })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"HSTS", boolean(func(c *Config) *bool { return &c.HSTS })},
	{"SESSION_KEY", str(func(c *Config) *string { return &c.SessionKey })},
	{"SESSION_REFRESH_GRACE", duration(func(c *Config) *time.Duration { return &c.SessionRefreshGrace })},
	{"REVOCATION_RETENTION", duration(func(c *Config) *time.Duration { return &c.RevocationRetention })},
	{"STORE", str(func(c *Config) *string { return &c.Store })},
	{"REDIS_URL", str(func(c *Config) *string { return &c.RedisURL })},
	{"DATABASE_URL", str(func(c *Config) *string { return &c.DatabaseURL })},

	{"OIDC_DISCOVERY_URL", str(func(c *Config) *string { return &c.OIDC.DiscoveryURL })},
	{"OIDC_CLIENT_ID", str(func(c *Config) *string { return &c.OIDC.ClientID })},
	{"OIDC_CLIENT_SECRET", str(func(c *Config) *string { return &c.OIDC.ClientSecret })},
	{"OIDC_SCOPE", str(func(c *Config) *string { return &c.OIDC.Scope })},
	{"OIDC_CERTS", str(func(c *Config) *string { return &c.OIDC.Certs })},
	{"OIDC_CA", str(func(c *Config) *string { return &c.OIDC.CA })},
	{"OIDC_CLAIM_EMAIL", str(func(c *Config) *string { return &c.OIDC.ClaimEmail })},
	{"OIDC_CLAIM_USERNAME", str(func(c *Config) *string { return &c.OIDC.ClaimUsername })},
	{"OIDC_CLAIM_VERIFIED", str(func(c *Config) *string { return &c.OIDC.ClaimVerified })},
	{"OIDC_CLAIMS_FROM_PROFILE", boolean(func(c *Config) *bool { return &c.OIDC.ClaimsFromProfile })},
	{"OIDC_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.OIDC.Timeout })},
	{"OIDC_REFRESH_INTERVAL", duration(func(c *Config) *time.Duration { return &c.OIDC.RefreshInterval })},

	{"PASSWORD_HASH", str(func(c *Config) *string { return &c.Password.Hash })},
	{"PASSWORD_ENTROPY", integer(func(c *Config) *int { return &c.Password.Entropy })},
	{"PASSWORD_MAX_EXPIRATION_DAYS", integer(func(c *Config) *int { return &c.Password.MaxExpirationDays })},
	{"WORDLIST", str(func(c *Config) *string { return &c.Password.Wordlist })},
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		if err := ev.set(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, ev.name, err)
		}
	}
	return nil
}
