// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Command devicepass runs the device credential service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hashicorp/devicepass/config"
	"github.com/hashicorp/devicepass/device"
	"github.com/hashicorp/devicepass/handler"
	"github.com/hashicorp/devicepass/metrics"
	"github.com/hashicorp/devicepass/oidc"
	"github.com/hashicorp/devicepass/session"
)

const (
	shutdownTimeout = 10 * time.Second
	purgeInterval   = time.Hour
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "devicepass",
		Level: cfg.Level(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("devicepass stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger hclog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	client, cache, err := newProvider(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer cache.Stop()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		if pool, err = pgxpool.New(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
	}

	store, err := newSessionStore(ctx, cfg, pool)
	if err != nil {
		return err
	}
	mgr, err := session.NewManager(client, store,
		session.WithLogger(logger.Named("session")),
		session.WithRefreshGrace(cfg.SessionRefreshGrace),
		session.WithRevocationRetention(cfg.RevocationRetention),
		session.WithObserver(m.ObserveSessionEvent),
	)
	if err != nil {
		return err
	}

	devices, err := newDeviceService(ctx, cfg, pool, logger.Named("device"))
	if err != nil {
		return err
	}

	cookies, err := handler.NewCookieStore(cfg.SessionKey, strings.HasPrefix(cfg.PublicURL, "https://"))
	if err != nil {
		return err
	}
	h, err := handler.New(mgr, devices, cookies, cfg.PublicURL,
		handler.WithLogger(logger.Named("http")),
		handler.WithHSTS(cfg.HSTS),
		handler.WithMetrics(m, reg),
	)
	if err != nil {
		return err
	}

	if cfg.RevocationRetention > 0 {
		go purgeRevoked(ctx, mgr, logger)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "public_url", cfg.PublicURL)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newProvider loads the provider configuration and keys, retrying with
// backoff; the service doesn't start without them.
func newProvider(ctx context.Context, cfg *config.Config, logger hclog.Logger, m *metrics.Metrics) (*oidc.Client, *oidc.Cache, error) {
	opts := []oidc.Option{
		oidc.WithScopes(cfg.OIDC.Scopes()...),
		oidc.WithTimeout(cfg.OIDC.Timeout),
		oidc.WithRefreshInterval(cfg.OIDC.RefreshInterval),
		oidc.WithClaimNames(cfg.OIDC.ClaimEmail, cfg.OIDC.ClaimUsername),
		oidc.WithVerifiedClaim(cfg.OIDC.ClaimVerified),
		oidc.WithStaticKeyFile(cfg.OIDC.Certs),
	}
	if cfg.OIDC.ClaimsFromProfile {
		opts = append(opts, oidc.WithClaimsFromProfile())
	}
	if cfg.OIDC.CA != "" {
		pem, err := os.ReadFile(cfg.OIDC.CA)
		if err != nil {
			return nil, nil, fmt.Errorf("read provider CA: %w", err)
		}
		opts = append(opts, oidc.WithProviderCA(string(pem)))
	}
	oc, err := oidc.NewConfig(cfg.OIDC.DiscoveryURL, cfg.OIDC.ClientID, oidc.ClientSecret(cfg.OIDC.ClientSecret), opts...)
	if err != nil {
		return nil, nil, err
	}

	cache, err := oidc.NewCache(oc,
		oidc.WithLogger(logger.Named("oidc")),
		oidc.WithRefreshObserver(m.ObserveCacheRefresh),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := cache.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("load provider configuration: %w", err)
	}
	client, err := oidc.NewClient(oc, cache, oidc.WithLogger(logger.Named("oidc")))
	if err != nil {
		cache.Stop()
		return nil, nil, err
	}
	return client, cache, nil
}

func newSessionStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (session.Store, error) {
	switch cfg.Store {
	case config.StoreRedis:
		rc, err := session.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return session.NewRedisStore(rc), nil
	case config.StorePostgres:
		s := session.NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// newDeviceService keeps credentials in the database when one is configured,
// in memory otherwise.
func newDeviceService(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger hclog.Logger) (*device.Service, error) {
	words := device.DefaultWords()
	if cfg.Password.Wordlist != "" {
		var err error
		if words, err = device.LoadWords(cfg.Password.Wordlist); err != nil {
			return nil, err
		}
	}
	gen, err := device.NewGenerator(words, device.WithEntropy(cfg.Password.Entropy))
	if err != nil {
		return nil, err
	}
	hasher, err := device.NewHasher(cfg.Password.Hash)
	if err != nil {
		return nil, err
	}

	var store device.Store = device.NewMemoryStore()
	if pool != nil {
		ps := device.NewPostgresStore(pool)
		if err := ps.Migrate(ctx); err != nil {
			return nil, err
		}
		store = ps
	} else {
		logger.Warn("no database configured, device credentials are kept in memory")
	}
	logger.Info("password generator ready", "words", gen.WordCount(), "hash", hasher.Scheme())
	return device.NewService(store, gen, hasher,
		device.WithLogger(logger),
		device.WithMaxExpirationDays(cfg.Password.MaxExpirationDays),
	)
}

func purgeRevoked(ctx context.Context, mgr *session.Manager, logger hclog.Logger) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := mgr.PurgeRevoked(ctx)
			if err != nil {
				logger.Warn("unable to purge revocations", "error", err)
				continue
			}
			logger.Debug("purged revocations", "count", n)
		}
	}
}
