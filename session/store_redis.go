// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix namespaces every key the RedisStore writes.
	DefaultRedisPrefix = "devicepass:"

	// sessionGrace keeps a session key around for a while after its tokens
	// expired so a late request is answered as terminated, not as unknown.
	sessionGrace = time.Hour

	// minSessionTTL is the expiry of a session whose tokens are long dead.
	minSessionTTL = time.Second
)

// RedisStore is a Store backed by Redis. A session is a JSON value under
// session:<sid>, the sids of a subject are a set under subject:<sub> and a
// revocation is revoked:<sid> holding the unix time it was recorded at.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix replaces DefaultRedisPrefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// WithRedisClock sets the clock used for key expiry and revocation times.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisStore) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRedisStore creates a RedisStore using client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	r := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// NewRedisClient parses a redis:// URL and checks the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	const op = "session.NewRedisClient"
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%s: parse redis URL: %w", op, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: redis ping failed: %w", op, err)
	}
	return client, nil
}

type redisSession struct {
	ID            string    `json:"sid"`
	Subject       string    `json:"sub"`
	Issuer        string    `json:"iss,omitempty"`
	Expiry        time.Time `json:"exp"`
	IDToken       string    `json:"id_token"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	RefreshExpiry time.Time `json:"refresh_exp,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toRedis(s *Session) redisSession {
	return redisSession(*s)
}

func (r *RedisStore) sessionKey(id string) string  { return r.prefix + "session:" + id }
func (r *RedisStore) subjectKey(sub string) string { return r.prefix + "subject:" + sub }
func (r *RedisStore) revokedKey(id string) string  { return r.prefix + "revoked:" + id }

// ttl keeps a session until neither its ID token nor its refresh token can
// be used any more. Sessions with a refresh token of unknown lifetime are
// kept until deleted.
func (r *RedisStore) ttl(s *Session) time.Duration {
	if s.RefreshToken != "" && s.RefreshExpiry.IsZero() {
		return 0
	}
	until := s.Expiry
	if s.RefreshExpiry.After(until) {
		until = s.RefreshExpiry
	}
	// A non-positive expiration would keep the key forever.
	if ttl := until.Sub(r.now()) + sessionGrace; ttl > minSessionTTL {
		return ttl
	}
	return minSessionTTL
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	const op = "RedisStore.Get"
	s, err := r.get(ctx, r.client, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func (r *RedisStore) get(ctx context.Context, c redis.Cmdable, id string) (*Session, error) {
	raw, err := c.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rs redisSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	s := Session(rs)
	return &s, nil
}

func (r *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, s *Session, prevSubject string) error {
	data, err := json.Marshal(toRedis(s))
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	pipe.Set(ctx, r.sessionKey(s.ID), data, r.ttl(s))
	pipe.SAdd(ctx, r.subjectKey(s.Subject), s.ID)
	if prevSubject != "" && prevSubject != s.Subject {
		pipe.SRem(ctx, r.subjectKey(prevSubject), s.ID)
	}
	return nil
}

func (r *RedisStore) Upsert(ctx context.Context, s *Session) error {
	const op = "RedisStore.Upsert"
	if err := validateSession(s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	key := r.sessionKey(s.ID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		prev := ""
		cur, err := r.get(ctx, tx, s.ID)
		switch {
		case err == nil:
			prev = cur.Subject
		case !errors.Is(err, ErrNotFound):
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.write(ctx, pipe, s, prev)
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RedisStore) Swap(ctx context.Context, s *Session, prevRefreshToken string) error {
	const op = "RedisStore.Swap"
	if err := validateSession(s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.get(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		if cur.RefreshToken != prevRefreshToken {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.write(ctx, pipe, s, cur.Subject)
		})
		return err
	}, r.sessionKey(s.ID))
	if errors.Is(err, redis.TxFailedErr) {
		err = ErrConflict
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	const op = "RedisStore.Delete"
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.get(ctx, tx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.sessionKey(id))
			pipe.SRem(ctx, r.subjectKey(cur.Subject), id)
			return nil
		})
		return err
	}, r.sessionKey(id))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RedisStore) DeleteAllForSubject(ctx context.Context, sub string) ([]string, error) {
	const op = "RedisStore.DeleteAllForSubject"
	var ids []string
	key := r.subjectKey(sub)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		members, err := tx.SMembers(ctx, key).Result()
		if err != nil {
			return err
		}
		ids = members
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range members {
				pipe.Del(ctx, r.sessionKey(id))
			}
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

func (r *RedisStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	const op = "RedisStore.IsRevoked"
	n, err := r.client.Exists(ctx, r.revokedKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func (r *RedisStore) MarkRevoked(ctx context.Context, id string) error {
	const op = "RedisStore.MarkRevoked"
	if id == "" {
		return fmt.Errorf("%s: id is empty: %w", op, ErrInvalidParameter)
	}
	// The first revocation time wins so retention is measured from it.
	if err := r.client.SetNX(ctx, r.revokedKey(id), r.now().Unix(), 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RedisStore) PurgeRevoked(ctx context.Context, before time.Time) (int, error) {
	const op = "RedisStore.PurgeRevoked"
	n := 0
	iter := r.client.Scan(ctx, 0, r.revokedKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		v, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("%s: %w", op, err)
		}
		at, err := strconv.ParseInt(v, 10, 64)
		if err != nil || !time.Unix(at, 0).Before(before) {
			continue
		}
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return n, fmt.Errorf("%s: %w", op, err)
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
