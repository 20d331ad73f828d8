package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	V     int    `json:"v"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, zerolog.Nop()), mr
}

func TestGetSet(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	var got record
	found, err := s.Get(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "k", record{V: 1, Name: "a"}, time.Minute))
	found, err = s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, time.Minute, mr.TTL("k"))
}

func TestSetIfAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.SetIfAbsent(ctx, "session:123456", record{Name: "first"}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetIfAbsent(ctx, "session:123456", record{Name: "second"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	var got record
	_, err = s.Get(ctx, "session:123456", &got)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
}

func TestMultiGetPreservesOrderAndMarksAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", record{Name: "a"}, time.Minute))
	require.NoError(t, s.Set(ctx, "c", record{Name: "c"}, time.Minute))

	vals, err := s.MultiGet(ctx, []string{"c", "b", "a"})
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.Nil(t, vals[1])

	var first, last record
	require.NoError(t, json.Unmarshal(vals[0], &first))
	require.NoError(t, json.Unmarshal(vals[2], &last))
	assert.Equal(t, "c", first.Name)
	assert.Equal(t, "a", last.Name)
}

func TestUpdateConcurrentIncrements(t *testing.T) {
	s, _ := newTestStore(t)
	s.retries = 100
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "counter", record{V: 1}, time.Minute))

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "counter", time.Minute, func(cur []byte) ([]byte, error) {
				var r record
				if err := json.Unmarshal(cur, &r); err != nil {
					return nil, err
				}
				r.Count++
				return json.Marshal(r)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var got record
	_, err := s.Get(ctx, "counter", &got)
	require.NoError(t, err)
	assert.Equal(t, writers, got.Count)
}

func TestUpdateAbortLeavesValue(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", record{Name: "keep"}, time.Minute))

	err := s.Update(ctx, "k", time.Minute, func(cur []byte) ([]byte, error) {
		return nil, ErrAbort
	})
	assert.True(t, errors.Is(err, ErrAbort))

	var got record
	_, err = s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.Name)
}

func TestUpdateGuardRejects(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "gate", record{Name: "closed"}, time.Minute))

	errClosed := errors.New("closed")
	guard := Guard{Key: "gate", Check: func(cur []byte) error {
		var r record
		if err := json.Unmarshal(cur, &r); err != nil {
			return err
		}
		if r.Name == "closed" {
			return errClosed
		}
		return nil
	}}

	err := s.Update(ctx, "target", time.Minute, func(cur []byte) ([]byte, error) {
		return json.Marshal(record{Name: "written"})
	}, guard)
	assert.ErrorIs(t, err, errClosed)

	var got record
	found, err := s.Get(ctx, "target", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetsAndExpire(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	added, err := s.AddToSet(ctx, TakenCharactersKey("111111"), "3", time.Minute)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddToSet(ctx, TakenCharactersKey("111111"), "3", time.Minute)
	require.NoError(t, err)
	assert.False(t, added, "second claim of the same member")

	member, err := s.IsMember(ctx, TakenCharactersKey("111111"), "3")
	require.NoError(t, err)
	assert.True(t, member)

	require.NoError(t, s.RemoveFromSet(ctx, TakenCharactersKey("111111"), "3"))
	members, err := s.Members(ctx, TakenCharactersKey("111111"))
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, s.Set(ctx, SessionKey("111111"), record{}, time.Second))
	require.NoError(t, s.Expire(ctx, time.Hour, SessionKey("111111"), "absent"))
	assert.Equal(t, time.Hour, mr.TTL(SessionKey("111111")))

	require.NoError(t, s.Delete(ctx, SessionKeys("111111", []string{"s1"})...))
	assert.False(t, mr.Exists(SessionKey("111111")))
}
