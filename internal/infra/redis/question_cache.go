package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionCache caches question listings in Redis and falls back to the source on a miss.
// Listings are stored as JSON: SET questions:{subject}:{topic} [...]
type QuestionCache struct {
	client *redis.Client
	source app.QuestionSource
	ttl    time.Duration
	logger *slog.Logger
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

var _ app.ListingCache = (*QuestionCache)(nil)

func NewQuestionCache(client *redis.Client, source app.QuestionSource, ttl time.Duration, logger *slog.Logger) *QuestionCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionCache{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	key := listKey(filter)
	if questions, ok := c.get(ctx, key); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another caller filled it.
		if questions, ok := c.get(ctx, key); ok {
			return questions, nil
		}
		questions, err := c.source.ListQuestions(ctx, filter)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(questions); err == nil {
			if err := c.client.Set(ctx, key, payload, c.ttlWithJitter()).Err(); err != nil {
				c.logger.Warn("cache question listing", "key", key, "error", err)
			}
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Invalidate removes every cached listing.
func (c *QuestionCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "questions:*", 100).Iterator()
	pipe := c.client.Pipeline()
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	_, err := pipe.Exec(ctx)
	if err == redis.Nil {
		return nil
	}
	return err
}

func (c *QuestionCache) get(ctx context.Context, key string) ([]domain.Question, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("read cached questions", "key", key, "error", err)
		}
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal(payload, &questions); err != nil {
		return nil, false
	}
	return questions, true
}

func listKey(filter domain.QuestionFilter) string {
	return "questions:" + filter.Subject + ":" + filter.Topic
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
