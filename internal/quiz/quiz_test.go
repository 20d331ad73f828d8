package quiz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokatarajesh/live-quiz/internal/db/queries"
)

type countingLoader struct {
	calls atomic.Int32
	delay time.Duration
	quiz  Quiz
	err   error
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (Quiz, error) {
	l.calls.Add(1)
	time.Sleep(l.delay)
	if l.err != nil {
		return Quiz{}, l.err
	}
	return l.quiz, nil
}

type stubRepo struct {
	row queries.Quiz
	err error
}

func (s stubRepo) Get(ctx context.Context, quizID string) (queries.Quiz, error) {
	return s.row, s.err
}

func sampleQuiz() Quiz {
	return Quiz{
		ID:    "quiz-1",
		Title: "Capitals",
		Questions: []Question{
			{ID: "q1", Text: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectIndex: 0, TimeLimit: 20},
		},
	}
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	loader := &countingLoader{quiz: sampleQuiz(), delay: 50 * time.Millisecond}
	cache := NewCache(client, loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := cache.LoadQuiz(context.Background(), "quiz-1")
			assert.NoError(t, err)
			assert.Equal(t, "Capitals", q.Title)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loader.calls.Load())
	assert.True(t, mr.Exists("quiz:quiz-1:content"))

	_, err := cache.LoadQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), loader.calls.Load(), "served from redis")
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewCache(client, &countingLoader{err: ErrNotFound}, time.Minute)
	_, err := cache.LoadQuiz(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists("quiz:missing:content"))
}

func TestPostgresLoader(t *testing.T) {
	loader := NewPostgresLoader(stubRepo{row: queries.Quiz{
		ID:        "quiz-1",
		Title:     "Capitals",
		Questions: []byte(`[{"id":"q1","text":"?","options":["a","b"],"correctIndex":1}]`),
	}})

	q, err := loader.LoadQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	require.Len(t, q.Questions, 1)
	assert.Equal(t, 1, q.Questions[0].CorrectIndex)
	assert.Equal(t, 30, q.Questions[0].TimeLimit, "default time limit")
}

func TestPostgresLoaderNotFound(t *testing.T) {
	loader := NewPostgresLoader(stubRepo{err: pgx.ErrNoRows})
	_, err := loader.LoadQuiz(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}
