package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CachedSource caches question listings per filter with a TTL to avoid
// repeated remote reads. Used when no Redis cache is configured.
type CachedSource struct {
	source app.QuestionSource
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[domain.QuestionFilter]cachedQuestions
}

var _ app.ListingCache = (*CachedSource)(nil)

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewCachedSource(source app.QuestionSource, ttl time.Duration) *CachedSource {
	return &CachedSource{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[domain.QuestionFilter]cachedQuestions),
	}
}

func (c *CachedSource) ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	if questions, ok := c.lookup(filter); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(filter.Subject+"\x00"+filter.Topic, func() (interface{}, error) {
		if questions, ok := c.lookup(filter); ok {
			return questions, nil
		}
		questions, err := c.source.ListQuestions(ctx, filter)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			expiresAt := c.clock().Add(c.ttlWithJitter())
			c.mu.Lock()
			c.cache[filter] = cachedQuestions{questions: questions, expiresAt: expiresAt}
			c.mu.Unlock()
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(result.([]domain.Question)), nil
}

// Invalidate drops every cached listing.
func (c *CachedSource) Invalidate(context.Context) error {
	c.mu.Lock()
	c.cache = make(map[domain.QuestionFilter]cachedQuestions)
	c.mu.Unlock()
	return nil
}

func (c *CachedSource) lookup(filter domain.QuestionFilter) ([]domain.Question, bool) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[filter]
	if !ok || !entry.expiresAt.After(now) {
		return nil, false
	}
	return clone(entry.questions), true
}

func (c *CachedSource) ttlWithJitter() time.Duration {
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func clone(questions []domain.Question) []domain.Question {
	out := make([]domain.Question, len(questions))
	copy(out, questions)
	return out
}
