package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is held by someone else.
var ErrNotAcquired = errors.New("lock: not acquired")

// releaseScript only deletes the key when it still carries our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Key builds a lock key scoped to a session.
func Key(pin, resource string, parts ...string) string {
	var b strings.Builder
	b.WriteString("lock:")
	b.WriteString(pin)
	b.WriteString(":")
	b.WriteString(resource)
	for _, p := range parts {
		b.WriteString(":")
		b.WriteString(p)
	}
	return b.String()
}

// Manager hands out short-lived advisory locks.
type Manager struct {
	client   *redis.Client
	attempts int
	delay    time.Duration
}

// NewManager creates a lock manager with a bounded retry budget.
func NewManager(client *redis.Client, attempts int, delay time.Duration) *Manager {
	if attempts < 1 {
		attempts = 1
	}
	return &Manager{client: client, attempts: attempts, delay: delay}
}

// Lease is a held lock.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Key returns the lock key.
func (l *Lease) Key() string {
	return l.key
}

// TryAcquire makes a single attempt and never waits.
func (m *Manager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{client: m.client, key: key, token: token}, nil
}

// Acquire retries TryAcquire up to the configured budget. It blocks at most
// attempts*delay.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	var lastErr error
	for i := 0; i < m.attempts; i++ {
		lease, err := m.TryAcquire(ctx, key, ttl)
		if err == nil {
			return lease, nil
		}
		lastErr = err
		if !errors.Is(err, ErrNotAcquired) || i == m.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	return nil, lastErr
}

// Release deletes the lock if it is still ours. Safe to call on a nil lease.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
