// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package device issues device credentials: long-lived passwords a user creates
for mail clients, calendars and other devices that can't take part in an
OIDC login. Only a hash of each password is kept, in a scheme chosen so the
consuming service can verify it.

	gen, _ := device.NewGenerator(device.DefaultWords())
	hasher, _ := device.NewHasher("argon2")
	svc, _ := device.NewService(device.NewMemoryStore(), gen, hasher)

	issued, _ := svc.Create(ctx, "alice-sub", "alice", "laptop", time.Time{})
	// issued.Login is alice#NNN and issued.Secret is shown to the user once.
*/
package device
