// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	sid                TEXT PRIMARY KEY,
	sub                TEXT NOT NULL,
	iss                TEXT NOT NULL DEFAULT '',
	expires_at         TIMESTAMPTZ NOT NULL,
	id_token           TEXT NOT NULL,
	refresh_token      TEXT,
	refresh_expires_at TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_sub_idx ON sessions (sub);
CREATE TABLE IF NOT EXISTS revoked_sessions (
	sid        TEXT PRIMARY KEY,
	revoked_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresClock sets the clock used for revocation times.
func WithPostgresClock(now func() time.Time) PostgresOption {
	return func(p *PostgresStore) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPostgresStore creates a PostgresStore using pool. Call Migrate before
// first use.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	p := &PostgresStore{pool: pool, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Migrate creates the tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("PostgresStore.Migrate: %w", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	const op = "PostgresStore.Get"
	var (
		s             Session
		refreshToken  *string
		refreshExpiry *time.Time
	)
	err := p.pool.QueryRow(ctx, `
		SELECT sid, sub, iss, expires_at, id_token, refresh_token, refresh_expires_at, updated_at
		FROM sessions WHERE sid = $1`, id,
	).Scan(&s.ID, &s.Subject, &s.Issuer, &s.Expiry, &s.IDToken, &refreshToken, &refreshExpiry, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if refreshToken != nil {
		s.RefreshToken = *refreshToken
	}
	if refreshExpiry != nil {
		s.RefreshExpiry = *refreshExpiry
	}
	return &s, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, s *Session) error {
	const op = "PostgresStore.Upsert"
	if err := validateSession(s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (sid, sub, iss, expires_at, id_token, refresh_token, refresh_expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sid) DO UPDATE SET
			sub = EXCLUDED.sub,
			iss = EXCLUDED.iss,
			expires_at = EXCLUDED.expires_at,
			id_token = EXCLUDED.id_token,
			refresh_token = EXCLUDED.refresh_token,
			refresh_expires_at = EXCLUDED.refresh_expires_at,
			updated_at = EXCLUDED.updated_at`,
		s.ID, s.Subject, s.Issuer, s.Expiry, s.IDToken, nullString(s.RefreshToken), nullTime(s.RefreshExpiry), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *PostgresStore) Swap(ctx context.Context, s *Session, prevRefreshToken string) error {
	const op = "PostgresStore.Swap"
	if err := validateSession(s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE sessions SET
			sub = $2, iss = $3, expires_at = $4, id_token = $5,
			refresh_token = $6, refresh_expires_at = $7, updated_at = $8
		WHERE sid = $1 AND COALESCE(refresh_token, '') = $9`,
		s.ID, s.Subject, s.Issuer, s.Expiry, s.IDToken, nullString(s.RefreshToken), nullTime(s.RefreshExpiry), s.UpdatedAt,
		prevRefreshToken,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE sid = $1)`, s.ID).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE sid = $1`, id); err != nil {
		return fmt.Errorf("PostgresStore.Delete: %w", err)
	}
	return nil
}

func (p *PostgresStore) DeleteAllForSubject(ctx context.Context, sub string) ([]string, error) {
	const op = "PostgresStore.DeleteAllForSubject"
	rows, err := p.pool.Query(ctx, `DELETE FROM sessions WHERE sub = $1 RETURNING sid`, sub)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

func (p *PostgresStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	var revoked bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM revoked_sessions WHERE sid = $1)`, id).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("PostgresStore.IsRevoked: %w", err)
	}
	return revoked, nil
}

func (p *PostgresStore) MarkRevoked(ctx context.Context, id string) error {
	const op = "PostgresStore.MarkRevoked"
	if id == "" {
		return fmt.Errorf("%s: id is empty: %w", op, ErrInvalidParameter)
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO revoked_sessions (sid, revoked_at) VALUES ($1, $2)
		ON CONFLICT (sid) DO NOTHING`, id, p.now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *PostgresStore) PurgeRevoked(ctx context.Context, before time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM revoked_sessions WHERE revoked_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("PostgresStore.PurgeRevoked: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
