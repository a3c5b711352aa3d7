// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package devicepass_test

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/devicepass/oidc"
	"github.com/hashicorp/devicepass/session"
)

func Example_session() {
	ctx := context.Background()

	// Describe the provider and load its configuration and keys.
	cfg, err := oidc.NewConfig(
		"https://your-issuer.com/.well-known/openid-configuration",
		"your_client_id",
		"your_client_secret",
	)
	if err != nil {
		// handle error
	}
	cache, err := oidc.NewCache(cfg)
	if err != nil {
		// handle error
	}
	if err := cache.Start(ctx); err != nil {
		// the provider is unreachable
	}
	defer cache.Stop()

	client, err := oidc.NewClient(cfg, cache)
	if err != nil {
		// handle error
	}

	// The Manager keeps sessions in a Store shared by every replica.
	mgr, err := session.NewManager(client, session.NewMemoryStore())
	if err != nil {
		// handle error
	}

	// Each browser carries a session.Local, typically in a cookie.
	local := &session.Local{}
	authURL, err := mgr.BeginLogin(local, "https://your-rp.com/login")
	if err != nil {
		// handle error
	}
	fmt.Println("open url to kick-off authentication: ", authURL)

	http.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		err := mgr.CompleteLogin(r.Context(), local, r.FormValue("state"), r.FormValue("code"), "https://your-rp.com/login")
		if err != nil {
			// handle error
		}
	})

	// Every later request checks, and if needed refreshes, the session.
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		state, err := mgr.Check(r.Context(), local)
		if state != session.Authenticated {
			// log in again; err tells why the session ended
			_ = err
			return
		}
		fmt.Fprintf(w, "hello %s", local.Display.Name)
	})
}
