// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	sub      TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	email    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
	id         TEXT PRIMARY KEY,
	sub        TEXT NOT NULL REFERENCES users (sub) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	login      TEXT NOT NULL UNIQUE,
	token      TEXT NOT NULL,
	expires    DATE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tokens_sub_idx ON tokens (sub);
`

const uniqueViolation = "23505"

// PostgresStore is a Store backed by PostgreSQL. Consuming services read
// the tokens table directly, joined to users by sub.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore using pool. Call Migrate before
// first use.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("device.PostgresStore.Migrate: %w", err)
	}
	return nil
}

func (p *PostgresStore) UpsertUser(ctx context.Context, u *User) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO users (sub, username, email) VALUES ($1, $2, $3)
		ON CONFLICT (sub) DO UPDATE SET username = EXCLUDED.username, email = EXCLUDED.email`,
		u.Subject, u.Username, u.Email)
	if err != nil {
		return fmt.Errorf("PostgresStore.UpsertUser: %w", err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, sub string) ([]*Credential, error) {
	const op = "PostgresStore.List"
	rows, err := p.pool.Query(ctx, `
		SELECT id, sub, name, login, token, expires, created_at
		FROM tokens WHERE sub = $1 ORDER BY created_at, id`, sub)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Credential, error) {
		var (
			c       Credential
			expires *time.Time
		)
		if err := row.Scan(&c.ID, &c.Subject, &c.Name, &c.Login, &c.Hash, &expires, &c.CreatedAt); err != nil {
			return nil, err
		}
		if expires != nil {
			c.Expires = *expires
		}
		return &c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (p *PostgresStore) Create(ctx context.Context, c *Credential) error {
	const op = "PostgresStore.Create"
	var expires *time.Time
	if !c.Expires.IsZero() {
		expires = &c.Expires
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO tokens (id, sub, name, login, token, expires, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Subject, c.Name, c.Login, c.Hash, expires, c.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "tokens_login_key" {
		return ErrLoginTaken
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *PostgresStore) LoginExists(ctx context.Context, login string) (bool, error) {
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tokens WHERE login = $1)`, login).Scan(&exists); err != nil {
		return false, fmt.Errorf("PostgresStore.LoginExists: %w", err)
	}
	return exists, nil
}

func (p *PostgresStore) Delete(ctx context.Context, sub, id string) (*Credential, error) {
	const op = "PostgresStore.Delete"
	var (
		c       Credential
		expires *time.Time
	)
	err := p.pool.QueryRow(ctx, `
		DELETE FROM tokens WHERE sub = $1 AND id = $2
		RETURNING id, sub, name, login, token, expires, created_at`, sub, id,
	).Scan(&c.ID, &c.Subject, &c.Name, &c.Login, &c.Hash, &expires, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if expires != nil {
		c.Expires = *expires
	}
	return &c, nil
}
