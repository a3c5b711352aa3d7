// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// devicepass issues long-lived device credentials to users authenticated by
// a single OpenID Connect provider, and keeps their browser sessions in step
// with the provider: silent refresh, explicit logout and provider initiated
// front-channel and back-channel logout.
//
// The packages are:
//
//	oidc     discovery and key cache, token endpoint client
//	jwt      signature and claims validation of ID and logout tokens
//	session  session state machine and its stores (memory, Redis, Postgres)
//	device   password generator, hash schemes and credential stores
//	handler  the HTTP surface
//	config   file and environment configuration
//	metrics  Prometheus collectors
//
// cmd/devicepass wires them into a server.
package devicepass
