// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store persists sessions and revocations. Every mutation is atomic per
// session id. A revoked session id is never un-revoked; PurgeRevoked only
// forgets revocations old enough that no token for them can still be valid.
type Store interface {
	// Get returns ErrNotFound when no session has id.
	Get(ctx context.Context, id string) (*Session, error)

	// Upsert creates or replaces the session.
	Upsert(ctx context.Context, s *Session) error

	// Swap replaces the session only if its stored refresh token still
	// equals prevRefreshToken, and returns ErrConflict otherwise. It returns
	// ErrNotFound when the session is gone.
	Swap(ctx context.Context, s *Session, prevRefreshToken string) error

	// Delete removes the session; deleting a missing session isn't an error.
	Delete(ctx context.Context, id string) error

	// DeleteAllForSubject removes every session of sub and returns their ids.
	DeleteAllForSubject(ctx context.Context, sub string) ([]string, error)

	IsRevoked(ctx context.Context, id string) (bool, error)
	MarkRevoked(ctx context.Context, id string) error

	// PurgeRevoked forgets revocations recorded before the given time and
	// returns how many were removed.
	PurgeRevoked(ctx context.Context, before time.Time) (int, error)
}

// MemoryStore is a Store for a single process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	revoked  map[string]time.Time
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]Session{},
		revoked:  map[string]time.Time{},
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) Upsert(_ context.Context, s *Session) error {
	const op = "MemoryStore.Upsert"
	if err := validateSession(s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) Swap(_ context.Context, s *Session, prevRefreshToken string) error {
	const op = "MemoryStore.Swap"
	if err := validateSession(s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	switch {
	case !ok:
		return ErrNotFound
	case cur.RefreshToken != prevRefreshToken:
		return ErrConflict
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) DeleteAllForSubject(_ context.Context, sub string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if s.Subject == sub {
			ids = append(ids, id)
			delete(m.sessions, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.revoked[id]
	return ok, nil
}

func (m *MemoryStore) MarkRevoked(_ context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("MemoryStore.MarkRevoked: id is empty: %w", ErrInvalidParameter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.revoked[id]; !ok {
		m.revoked[id] = m.now()
	}
	return nil
}

func (m *MemoryStore) PurgeRevoked(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, at := range m.revoked {
		if at.Before(before) {
			delete(m.revoked, id)
			n++
		}
	}
	return n, nil
}

func validateSession(s *Session) error {
	switch {
	case s == nil:
		return fmt.Errorf("session is nil: %w", ErrNilParameter)
	case s.ID == "":
		return fmt.Errorf("session id is empty: %w", ErrInvalidParameter)
	case s.Subject == "":
		return fmt.Errorf("session subject is empty: %w", ErrInvalidParameter)
	}
	return nil
}
