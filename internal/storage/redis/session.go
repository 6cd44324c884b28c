// Package redis stores checkout sessions in Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/cravekart/internal/domain/checkout"
)

const keyPrefix = "checkout:session:"

var _ checkout.Store = (*SessionStore)(nil)

// NewClient connects to the Redis server at url and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}

// SessionStore implements checkout.Store. Every write refreshes the key TTL,
// so abandoned checkouts expire on their own.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStore returns a SessionStore over rdb. A zero ttl keeps sessions
// forever.
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func (s *SessionStore) Get(ctx context.Context, id string) (*checkout.Session, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, checkout.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %q: %w", id, err)
	}
	var sess checkout.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %q: %w", id, err)
	}
	return &sess, nil
}

// Save writes sess under WATCH so a concurrent writer aborts the transaction.
func (s *SessionStore) Save(ctx context.Context, sess *checkout.Session) error {
	key := keyPrefix + sess.ID
	next := *sess
	next.Version++
	body, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encoding session %q: %w", sess.ID, err)
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != sess.Version {
			return checkout.ErrSessionConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, body, s.ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return checkout.ErrSessionConflict
	case errors.Is(err, checkout.ErrSessionConflict):
		return err
	case err != nil:
		return fmt.Errorf("saving session %q: %w", sess.ID, err)
	}

	sess.Version = next.Version
	return nil
}

func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, errors.Wrap(err, "decode stored version")
	}
	return v.Version, nil
}
