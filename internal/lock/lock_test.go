package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, attempts int) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(client, attempts, 5*time.Millisecond), mr
}

func TestKey(t *testing.T) {
	assert.Equal(t, "lock:123456:startQuiz", Key("123456", "startQuiz"))
	assert.Equal(t, "lock:123456:submit:s1:q2", Key("123456", "submit", "s1", "q2"))
}

func TestTryAcquireIsExclusive(t *testing.T) {
	m, mr := newTestManager(t, 1)
	ctx := context.Background()

	lease, err := m.TryAcquire(ctx, "lock:1:a", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, mr.TTL("lock:1:a"))

	_, err = m.TryAcquire(ctx, "lock:1:a", 3*time.Second)
	assert.True(t, errors.Is(err, ErrNotAcquired))

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("lock:1:a"))

	_, err = m.TryAcquire(ctx, "lock:1:a", 3*time.Second)
	assert.NoError(t, err)
}

func TestReleaseOnlyDeletesOwnToken(t *testing.T) {
	m, mr := newTestManager(t, 1)
	ctx := context.Background()

	lease, err := m.TryAcquire(ctx, "lock:1:b", time.Second)
	require.NoError(t, err)

	// Lease expired and somebody else took the lock.
	mr.FastForward(2 * time.Second)
	other, err := m.TryAcquire(ctx, "lock:1:b", time.Second)
	require.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	assert.True(t, mr.Exists("lock:1:b"), "stale release must not drop the new holder")

	require.NoError(t, other.Release(ctx))
	assert.False(t, mr.Exists("lock:1:b"))
}

func TestAcquireGivesUpAfterBudget(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()

	_, err := m.TryAcquire(ctx, "lock:1:c", time.Minute)
	require.NoError(t, err)

	start := time.Now()
	_, err = m.Acquire(ctx, "lock:1:c", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNilLeaseRelease(t *testing.T) {
	var lease *Lease
	assert.NoError(t, lease.Release(context.Background()))
}
