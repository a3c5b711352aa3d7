// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package device

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	// loginAttempts bounds the search for an unused login.
	loginAttempts = 128
	loginDigits   = 3
)

// Issued is a newly created credential together with its password.
type Issued struct {
	*Credential
	Secret string
}

// Service manages the device credentials of authenticated users.
type Service struct {
	store   Store
	gen     *Generator
	hasher  Hasher
	logger  hclog.Logger
	now     func() time.Time
	maxDays int
	rand    io.Reader
}

type serviceOptions struct {
	withLogger  hclog.Logger
	withNow     func() time.Time
	withMaxDays int
	withRand    io.Reader
}

func serviceDefaults() serviceOptions {
	return serviceOptions{
		withLogger: hclog.NewNullLogger(),
		withNow:    time.Now,
		withRand:   rand.Reader,
	}
}

// NewService creates a Service.
// Supported options: WithLogger, WithNow, WithMaxExpirationDays,
// WithRandReader
func NewService(store Store, gen *Generator, hasher Hasher, opt ...Option) (*Service, error) {
	const op = "device.NewService"
	switch {
	case store == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	case gen == nil:
		return nil, fmt.Errorf("%s: generator is nil: %w", op, ErrNilParameter)
	case hasher == nil:
		return nil, fmt.Errorf("%s: hasher is nil: %w", op, ErrNilParameter)
	}
	opts := serviceDefaults()
	ApplyOpts(&opts, opt...)
	return &Service{
		store:   store,
		gen:     gen,
		hasher:  hasher,
		logger:  opts.withLogger,
		now:     opts.withNow,
		maxDays: opts.withMaxDays,
		rand:    opts.withRand,
	}, nil
}

// RegisterUser records the current username and email of sub.
func (s *Service) RegisterUser(ctx context.Context, sub, username, email string) error {
	const op = "Service.RegisterUser"
	if sub == "" {
		return fmt.Errorf("%s: subject is empty: %w", op, ErrInvalidParameter)
	}
	if err := s.store.UpsertUser(ctx, &User{Subject: sub, Username: username, Email: email}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// List returns the credentials of sub.
func (s *Service) List(ctx context.Context, sub string) ([]*Credential, error) {
	const op = "Service.List"
	if sub == "" {
		return nil, fmt.Errorf("%s: subject is empty: %w", op, ErrInvalidParameter)
	}
	creds, err := s.store.List(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return creds, nil
}

// Create issues a credential named name for sub. Its login is
// username#NNN, with username in NFC so devices typing a composed character
// match. expires is the last valid day, zero for none; it's clamped to the
// configured maximum.
func (s *Service) Create(ctx context.Context, sub, username, name string, expires time.Time) (*Issued, error) {
	const op = "Service.Create"
	username = norm.NFC.String(strings.TrimSpace(username))
	name = strings.TrimSpace(name)
	switch {
	case sub == "":
		return nil, fmt.Errorf("%s: subject is empty: %w", op, ErrInvalidParameter)
	case username == "":
		return nil, fmt.Errorf("%s: username is empty: %w", op, ErrInvalidParameter)
	case name == "":
		return nil, fmt.Errorf("%s: name is empty: %w", op, ErrInvalidParameter)
	}

	secret, err := s.gen.Generate()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to hash password: %w", op, err)
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c := &Credential{
		ID:        id,
		Subject:   sub,
		Name:      name,
		Hash:      hash,
		Expires:   s.clampExpiry(expires),
		CreatedAt: s.now().UTC(),
	}

	for i := 0; i < loginAttempts; i++ {
		digits, err := randomDigits(s.rand, loginDigits)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.Login = username + "#" + digits
		exists, err := s.store.LoginExists(ctx, c.Login)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if exists {
			continue
		}
		err = s.store.Create(ctx, c)
		if errors.Is(err, ErrLoginTaken) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.logger.Info("device credential created", "sub", sub, "login", c.Login, "name", name)
		return &Issued{Credential: c, Secret: secret}, nil
	}
	return nil, fmt.Errorf("%s: %s: %w", op, username, ErrLoginExhausted)
}

// Delete removes the credential id of sub.
func (s *Service) Delete(ctx context.Context, sub, id string) (*Credential, error) {
	const op = "Service.Delete"
	if sub == "" || id == "" {
		return nil, fmt.Errorf("%s: subject and id are required: %w", op, ErrInvalidParameter)
	}
	if _, err := uuid.ParseUUID(id); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidParameter, err)
	}
	c, err := s.store.Delete(ctx, sub, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Info("device credential deleted", "sub", sub, "login", c.Login)
	return c, nil
}

// MaxExpiry returns the latest expiry a new credential can have, zero when
// there's no limit.
func (s *Service) MaxExpiry() time.Time {
	if s.maxDays <= 0 {
		return time.Time{}
	}
	return date(s.now()).AddDate(0, 0, s.maxDays)
}

func (s *Service) clampExpiry(expires time.Time) time.Time {
	if !expires.IsZero() {
		expires = date(expires)
	}
	limit := s.MaxExpiry()
	if limit.IsZero() {
		return expires
	}
	if expires.IsZero() || expires.After(limit) {
		return limit
	}
	return expires
}

// date truncates t to midnight UTC of its calendar day.
func date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
