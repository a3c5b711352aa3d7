// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

//go:build integration

package device

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type PostgresStoreSuite struct {
	suite.Suite
	pool  *pgxpool.Pool
	store *PostgresStore
	ctx   context.Context
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("devicepass"),
		tcpostgres.WithUsername("devicepass"),
		tcpostgres.WithPassword("devicepass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgresStore(pool)
	require.NoError(t, store.Migrate(ctx))
	suite.Run(t, &PostgresStoreSuite{pool: pool, store: store, ctx: ctx})
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE tokens, users`)
	s.Require().NoError(err)
	s.Require().NoError(s.store.UpsertUser(s.ctx, &User{Subject: "sub-alice", Username: "alice", Email: "alice@example.com"}))
}

func (s *PostgresStoreSuite) TestCreateListDelete() {
	created := time.Now().UTC().Truncate(time.Second)
	c := &Credential{
		ID:        "6f1c7b38-53a5-4c4e-9f0c-8c7ad1b8f3b1",
		Subject:   "sub-alice",
		Name:      "laptop",
		Login:     "alice#042",
		Hash:      "hash",
		Expires:   time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC),
		CreatedAt: created,
	}
	s.Require().NoError(s.store.Create(s.ctx, c))

	exists, err := s.store.LoginExists(s.ctx, "alice#042")
	s.Require().NoError(err)
	s.True(exists)

	list, err := s.store.List(s.ctx, "sub-alice")
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("alice#042", list[0].Login)
	s.True(c.Expires.Equal(list[0].Expires))
	s.True(created.Equal(list[0].CreatedAt))

	dup := *c
	dup.ID = "7d8c1bd9-8e1c-46e5-a8d4-5d2f6f0b0c55"
	s.ErrorIs(s.store.Create(s.ctx, &dup), ErrLoginTaken)

	_, err = s.store.Delete(s.ctx, "sub-bob", c.ID)
	s.ErrorIs(err, ErrNotFound)
	deleted, err := s.store.Delete(s.ctx, "sub-alice", c.ID)
	s.Require().NoError(err)
	s.Equal("laptop", deleted.Name)
}

func (s *PostgresStoreSuite) TestNoExpiry() {
	c := &Credential{
		ID:        "0b5e0f43-5a5e-4b7b-9a55-6f8e2cbb4b6a",
		Subject:   "sub-alice",
		Name:      "phone",
		Login:     "alice#007",
		Hash:      "hash",
		CreatedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.store.Create(s.ctx, c))
	list, err := s.store.List(s.ctx, "sub-alice")
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.True(list[0].Expires.IsZero())
}

func (s *PostgresStoreSuite) TestServiceOnPostgres() {
	gen, err := NewGenerator(DefaultWords())
	s.Require().NoError(err)
	hasher, err := NewHasher("argon2")
	s.Require().NoError(err)
	svc, err := NewService(s.store, gen, hasher)
	s.Require().NoError(err)

	issued, err := svc.Create(s.ctx, "sub-alice", "alice", "laptop", time.Time{})
	s.Require().NoError(err)
	ok, err := hasher.Verify(issued.Secret, issued.Hash)
	s.Require().NoError(err)
	s.True(ok)
}
