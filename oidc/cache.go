// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/devicepass/jwt"
)

const (
	// StartupAttempts is how many times the initial load is tried.
	StartupAttempts = 5

	// StartupInitialDelay is the delay before the first retry; it doubles on
	// every further attempt.
	StartupInitialDelay = time.Second

	// maxDocumentSize caps discovery and key set responses.
	maxDocumentSize = 1 << 20
)

// Cache holds the provider's discovery document and verification keys. Both
// are immutable snapshots swapped atomically, so readers never see a partial
// update and always get the last snapshot that loaded successfully.
type Cache struct {
	cfg    *Config
	client *http.Client
	logger hclog.Logger

	newBackoff func() backoff.BackOff
	observe    func(kind string, err error)

	config atomic.Pointer[ProviderConfig]
	keys   atomic.Pointer[jwt.KeySet]
	static *jwt.KeySet

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type cacheOptions struct {
	withLogger          hclog.Logger
	withStartupBackoff  func() backoff.BackOff
	withRefreshObserver func(kind string, err error)
}

func cacheDefaults() cacheOptions {
	return cacheOptions{
		withLogger:         hclog.NewNullLogger(),
		withStartupBackoff: defaultStartupBackoff,
	}
}

func getCacheOpts(opt ...Option) cacheOptions {
	opts := cacheDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// defaultStartupBackoff waits 1s, 2s, 4s and 8s between the five attempts.
func defaultStartupBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = StartupInitialDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 16 * StartupInitialDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, StartupAttempts-1)
}

// NewCache creates a Cache for cfg. A configured static key file is loaded
// here, once; the cache then never fetches keys from the provider.
// Supported options: WithLogger, WithStartupBackoff, WithRefreshObserver
func NewCache(cfg *Config, opt ...Option) (*Cache, error) {
	const op = "oidc.NewCache"
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client, err := cfg.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getCacheOpts(opt...)
	c := &Cache{
		cfg:        cfg,
		client:     client,
		logger:     opts.withLogger,
		newBackoff: opts.withStartupBackoff,
		observe:    opts.withRefreshObserver,
	}
	if cfg.StaticKeyFile != "" {
		ks, err := jwt.ParseKeyFile(cfg.StaticKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to load static keys: %w", op, err)
		}
		c.static = ks
		c.keys.Store(ks)
		c.logger.Info("using static verification keys", "path", cfg.StaticKeyFile, "count", ks.Len())
	}
	return c, nil
}

// Config returns the current discovery snapshot, nil before the first
// successful load.
func (c *Cache) Config() *ProviderConfig {
	return c.config.Load()
}

// Keys returns the current key set snapshot, nil before the first successful
// load.
func (c *Cache) Keys() *jwt.KeySet {
	return c.keys.Load()
}

// HTTPClient returns the client used for every request to the provider.
func (c *Cache) HTTPClient() *http.Client {
	return c.client
}

// RefreshConfig fetches the discovery document and publishes it. On failure
// the previous snapshot stays in place.
func (c *Cache) RefreshConfig(ctx context.Context) (*ProviderConfig, error) {
	const op = "Cache.RefreshConfig"
	data, err := c.fetch(ctx, c.cfg.DiscoveryURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pc, err := ParseProviderConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.config.Store(pc)
	return pc, nil
}

// RefreshKeys fetches the key set from pc's jwks_uri and publishes it. With a
// static key file configured it returns the static set without any request.
func (c *Cache) RefreshKeys(ctx context.Context, pc *ProviderConfig) (*jwt.KeySet, error) {
	const op = "Cache.RefreshKeys"
	if c.static != nil {
		return c.static, nil
	}
	if pc == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	data, err := c.fetch(ctx, pc.JWKSURI)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ks, err := jwt.ParseJWKS(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.keys.Store(ks)
	return ks, nil
}

// Refresh reloads the discovery document and then the keys it points at.
func (c *Cache) Refresh(ctx context.Context) error {
	pc, err := c.RefreshConfig(ctx)
	if err != nil {
		return err
	}
	_, err = c.RefreshKeys(ctx, pc)
	return err
}

// Start loads the discovery document and keys, retrying with exponential
// backoff, and then starts the background refresh. The error returned once
// every attempt failed is meant to be fatal: traffic must not be served
// without a configuration. Calling Start again after it succeeded does
// nothing.
func (c *Cache) Start(ctx context.Context) error {
	const op = "Cache.Start"
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			return c.Refresh(ctx)
		},
		backoff.WithContext(c.newBackoff(), ctx),
		func(err error, next time.Duration) {
			c.logger.Warn("unable to load provider configuration", "attempt", attempt, "retry_in", next, "error", err)
		},
	)
	if err != nil {
		return fmt.Errorf("%s: giving up after %d attempt(s): %w", op, attempt, err)
	}
	c.logger.Info("provider configuration loaded", "issuer", c.Config().Issuer, "keys", c.Keys().Len())

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	go c.run(loopCtx, c.done)
	return nil
}

// Stop ends the background refresh and waits for it to exit.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.cancel()
	<-c.done
	c.started = false
}

func (c *Cache) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshInBackground(ctx)
		}
	}
}

// refreshInBackground reloads config and keys independently: a failed
// discovery fetch still lets the keys refresh against the last good
// configuration. Failures are logged and the previous snapshots keep
// serving.
func (c *Cache) refreshInBackground(ctx context.Context) {
	pc, err := c.RefreshConfig(ctx)
	c.report("config", err)
	if err != nil {
		pc = c.Config()
	}
	_, err = c.RefreshKeys(ctx, pc)
	c.report("keys", err)
}

func (c *Cache) report(kind string, err error) {
	if err != nil {
		c.logger.Error("background refresh failed", "kind", kind, "error", err)
	}
	if c.observe != nil {
		c.observe(kind, err)
	}
}

func (c *Cache) fetch(ctx context.Context, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read response: %w", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrUpstreamUnavailable, u, resp.Status)
	}
	return body, nil
}
