package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultUpdateRetries = 8

var (
	// ErrAbort may be returned from an UpdateFunc to leave the key untouched.
	ErrAbort = errors.New("store: update aborted")
	// ErrConflict is returned when an optimistic update lost every retry.
	ErrConflict = errors.New("store: too many concurrent writers")
)

// UpdateFunc receives the current raw value (nil when absent) and returns the
// value to write.
type UpdateFunc func(current []byte) ([]byte, error)

// Guard is checked against another key inside the same optimistic
// transaction as an Update. A write to the guard key between the read and
// the commit restarts the update.
type Guard struct {
	Key   string
	Check func(current []byte) error
}

// RedisStore is the shared state store. Every instance reads and writes
// session state through it; nothing is cached in-process.
type RedisStore struct {
	client  *redis.Client
	retries int
	logger  zerolog.Logger
}

// New creates a store backed by Redis.
func New(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client:  client,
		retries: defaultUpdateRetries,
		logger:  logger.With().Str("component", "state_store").Logger(),
	}
}

// Client exposes the underlying Redis client for components sharing the pool.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Get decodes the JSON value at key into dst. It reports false when the key
// does not exist.
func (s *RedisStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Set writes v as JSON with the given expiry.
func (s *RedisStore) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent writes v only when key is not present.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, v any, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", key, err)
	}
	ok, err := s.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// MultiGet reads all keys in one round trip. The result is aligned with keys;
// a nil entry means the key was absent.
func (s *RedisStore) MultiGet(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	out := make([]json.RawMessage, len(keys))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		out[i] = json.RawMessage(str)
	}
	return out, nil
}

// Update performs an optimistic read-modify-write of key. fn may run more
// than once; it must not have side effects. Errors returned by fn or by a
// guard are passed through unchanged and nothing is written.
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc, guards ...Guard) error {
	watched := make([]string, 0, len(guards)+1)
	watched = append(watched, key)
	for _, g := range guards {
		watched = append(watched, g.Key)
	}

	txf := func(tx *redis.Tx) error {
		for _, g := range guards {
			raw, err := tx.Get(ctx, g.Key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("get guard %s: %w", g.Key, err)
			}
			if err := g.Check(raw); err != nil {
				return err
			}
		}

		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			current = nil
		} else if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.client.Watch(ctx, txf, watched...)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug().Str("key", key).Int("attempt", attempt+1).Msg("optimistic update conflict")
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: %w", key, ErrConflict)
}

// AddToSet adds a member and reports whether it was newly added.
func (s *RedisStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) (bool, error) {
	var added *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, key, member)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("sadd %s: %w", key, err)
	}
	return added.Val() == 1, nil
}

// RemoveFromSet removes a member from a set.
func (s *RedisStore) RemoveFromSet(ctx context.Context, key, member string) error {
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", key, err)
	}
	return nil
}

// IsMember checks set membership.
func (s *RedisStore) IsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", key, err)
	}
	return ok, nil
}

// Members lists the members of a set.
func (s *RedisStore) Members(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return members, nil
}

// Expire refreshes the TTL of every key. Missing keys are ignored.
func (s *RedisStore) Expire(ctx context.Context, ttl time.Duration, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("expire: %w", err)
	}
	return nil
}

// Delete removes keys.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}
