package quiz

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const defaultCacheTTL = 5 * time.Minute

// Cache keeps loaded quizzes in Redis and coalesces concurrent misses so a
// burst of session creations for the same quiz hits Postgres once.
type Cache struct {
	client *redis.Client
	loader Loader
	ttl    time.Duration
	sf     singleflight.Group
}

var _ Loader = (*Cache)(nil)

func NewCache(client *redis.Client, loader Loader, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, loader: loader, ttl: ttl}
}

func (c *Cache) key(quizID string) string {
	return "quiz:" + quizID + ":content"
}

func (c *Cache) LoadQuiz(ctx context.Context, quizID string) (Quiz, error) {
	if q, ok := c.get(ctx, quizID); ok {
		return q, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if q, ok := c.get(ctx, quizID); ok {
			return q, nil
		}

		q, err := c.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return Quiz{}, err
		}
		if data, err := json.Marshal(q); err == nil {
			_ = c.client.Set(ctx, c.key(quizID), data, c.ttl).Err()
		}
		return q, nil
	})
	if err != nil {
		return Quiz{}, err
	}
	return result.(Quiz), nil
}

// Invalidate drops a cached quiz.
func (c *Cache) Invalidate(ctx context.Context, quizID string) error {
	return c.client.Del(ctx, c.key(quizID)).Err()
}

func (c *Cache) get(ctx context.Context, quizID string) (Quiz, bool) {
	data, err := c.client.Get(ctx, c.key(quizID)).Bytes()
	if err != nil {
		return Quiz{}, false
	}
	var q Quiz
	if err := json.Unmarshal(data, &q); err != nil {
		return Quiz{}, false
	}
	return q, true
}
