// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

// User is the identity credentials belong to, refreshed on every login so
// consuming services can resolve a login to a current username and email.
type User struct {
	Subject  string
	Username string
	Email    string
}

// Credential is a stored device credential. Hash never leaves the service
// boundary; the password itself is shown once, at creation.
type Credential struct {
	ID      string
	Subject string
	Name    string

	// Login is the username the device authenticates with.
	Login string
	Hash  string

	// Expires is the last day the credential is valid, zero when it never
	// expires.
	Expires   time.Time
	CreatedAt time.Time
}

// Store persists users and their credentials. Logins are unique across all
// users.
type Store interface {
	UpsertUser(ctx context.Context, u *User) error

	// List returns the credentials of sub, oldest first.
	List(ctx context.Context, sub string) ([]*Credential, error)

	// Create returns ErrLoginTaken when the login is in use.
	Create(ctx context.Context, c *Credential) error

	LoginExists(ctx context.Context, login string) (bool, error)

	// Delete removes the credential only if it belongs to sub and returns
	// it, or ErrNotFound.
	Delete(ctx context.Context, sub, id string) (*Credential, error)
}

// MemoryStore is a Store for a single process.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]User
	credentials map[string]Credential
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       map[string]User{},
		credentials: map[string]Credential{},
	}
}

func (m *MemoryStore) UpsertUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.Subject] = *u
	return nil
}

func (m *MemoryStore) List(_ context.Context, sub string) ([]*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Credential
	for _, c := range m.credentials {
		if c.Subject == sub {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) Create(_ context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.credentials {
		if existing.Login == c.Login {
			return ErrLoginTaken
		}
	}
	m.credentials[c.ID] = *c
	return nil
}

func (m *MemoryStore) LoginExists(_ context.Context, login string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.credentials {
		if c.Login == login {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) Delete(_ context.Context, sub, id string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok || c.Subject != sub {
		return nil, ErrNotFound
	}
	delete(m.credentials, id)
	return &c, nil
}
