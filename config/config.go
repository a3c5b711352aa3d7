// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package config loads the service configuration from an optional YAML
// file, optional .env files and DP_ prefixed environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hashicorp/devicepass/device"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "DP_"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config is the service configuration.
type Config struct {
	Addr      string `yaml:"addr" validate:"required"`
	PublicURL string `yaml:"public_url" validate:"required,url"`
	LogLevel  string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	HSTS      bool   `yaml:"hsts"`

	// SessionKey authenticates and encrypts the session cookie.
	SessionKey          string        `yaml:"session_key" validate:"required,min=32"`
	SessionRefreshGrace time.Duration `yaml:"session_refresh_grace" validate:"min=0"`
	RevocationRetention time.Duration `yaml:"revocation_retention" validate:"min=0"`

	Store       string `yaml:"store" validate:"oneof=memory redis postgres"`
	RedisURL    string `yaml:"redis_url" validate:"required_if=Store redis"`
	DatabaseURL string `yaml:"database_url" validate:"required_if=Store postgres"`

	OIDC     OIDC     `yaml:"oidc"`
	Password Password `yaml:"password"`
}

// OIDC configures the relying party.
type OIDC struct {
	DiscoveryURL string `yaml:"discovery_url" validate:"required,url"`
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret"`
	Scope        string `yaml:"scope" validate:"required"`

	// Certs is a JWKS or PEM file used instead of the provider's jwks_uri.
	Certs string `yaml:"certs" validate:"omitempty,file"`

	// CA is a PEM file with the CA certificates trusted for the provider.
	CA string `yaml:"ca" validate:"omitempty,file"`

	ClaimEmail        string        `yaml:"claim_email" validate:"required"`
	ClaimUsername     string        `yaml:"claim_username" validate:"required"`
	ClaimVerified     string        `yaml:"claim_verified"`
	ClaimsFromProfile bool          `yaml:"claims_from_profile"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RefreshInterval   time.Duration `yaml:"refresh_interval" validate:"gt=0"`
}

// Password configures device credentials.
type Password struct {
	Hash              string `yaml:"hash" validate:"hashscheme"`
	Entropy           int    `yaml:"entropy" validate:"min=1"`
	MaxExpirationDays int    `yaml:"max_expiration_days" validate:"min=0"`

	// Wordlist is a line separated word list; the built-in list is used
	// when empty.
	Wordlist string `yaml:"wordlist" validate:"omitempty,file"`
}

// Default returns the configuration used for everything not set
// explicitly.
func Default() *Config {
	return &Config{
		Addr:                ":8080",
		PublicURL:           "http://localhost:8080",
		LogLevel:            "info",
		SessionRefreshGrace: 30 * time.Second,
		Store:               StoreMemory,
		OIDC: OIDC{
			Scope:           "openid email profile",
			ClaimEmail:      "email",
			ClaimUsername:   "preferred_username",
			Timeout:         10 * time.Second,
			RefreshInterval: time.Hour,
		},
		Password: Password{
			Hash:    "plaintext",
			Entropy: device.DefaultEntropy,
		},
	}
}

// Load reads the .env files that exist, then builds the configuration from
// the process environment. Variables already set win over .env entries.
func Load(dotenvFiles ...string) (*Config, error) {
	const op = "config.Load"
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the configuration from defaults, the YAML file named by
// DP_CONFIG_FILE if any, and the DP_ variables lookup returns.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	const op = "config.FromEnv"
	cfg := Default()
	if path, ok := lookup(EnvPrefix + "CONFIG_FILE"); ok && path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("unmarshal config file %s: %w", path, err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("hashscheme", func(fl validator.FieldLevel) bool {
		_, err := device.NewHasher(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the configuration is complete and consistent.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// Level returns the hclog level of LogLevel.
func (c *Config) Level() hclog.Level {
	return hclog.LevelFromString(c.LogLevel)
}

// Scopes splits the space separated Scope.
func (o *OIDC) Scopes() []string {
	return strings.Fields(o.Scope)
}
