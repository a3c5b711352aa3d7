// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is the relying party side of devicepass: it keeps the
provider's discovery document and signing keys fresh, redeems authorization
codes and refresh tokens at the token endpoint, validates ID and logout
tokens and builds the login and logout redirects.

A Cache owns the discovery and key snapshots. It's started once, retries the
initial load with exponential backoff and then refreshes in the background:

	cfg, err := oidc.NewConfig(discoveryURL, clientID, clientSecret)
	cache, err := oidc.NewCache(cfg, oidc.WithLogger(logger))
	if err := cache.Start(ctx); err != nil {
		// provider unreachable after every startup attempt
	}
	defer cache.Stop()

	client, err := oidc.NewClient(cfg, cache)
	redeemed, err := client.RedeemCode(ctx, code, redirectURI)

TestProvider is a local OIDC provider meant for tests of this package and
its callers.
*/
package oidc
