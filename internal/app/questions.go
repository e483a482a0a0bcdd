package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"exam-prep-sync/internal/domain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultSessionType is used when a fetch does not name one.
const DefaultSessionType = "practice"

// FetchRequest selects questions. Empty Subject/Topic match everything.
type FetchRequest struct {
	Subject     string
	Topic       string
	ExcludeUsed bool
	SessionType string
}

func (r FetchRequest) normalized() FetchRequest {
	if r.SessionType == "" {
		r.SessionType = DefaultSessionType
	}
	return r
}

func (r FetchRequest) key() string {
	return fmt.Sprintf("%s|%s|%t|%s", r.Subject, r.Topic, r.ExcludeUsed, r.SessionType)
}

func (r FetchRequest) filter() domain.QuestionFilter {
	return domain.QuestionFilter{Subject: r.Subject, Topic: r.Topic}
}

// QuestionSet is a fetch result. FromCache is set when the remote store was unreachable.
type QuestionSet struct {
	Questions []domain.Question
	FromCache bool
}

// QuestionService fetches questions with used-question exclusion and offline fallback.
type QuestionService struct {
	source   QuestionSource
	usage    UsageStore
	cache    QuestionCache
	queue    SyncQueue
	identity Identity
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
	sf       singleflight.Group
}

func NewQuestionService(source QuestionSource, usage UsageStore, cache QuestionCache, queue SyncQueue, identity Identity, timeout time.Duration, logger *slog.Logger) *QuestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionService{
		source:   source,
		usage:    usage,
		cache:    cache,
		queue:    queue,
		identity: identity,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Fetch returns the questions matching req. Concurrent identical fetches share one remote round trip.
// When the remote store fails the local cache is served with the same subject/topic filters;
// if that fails too the error wraps domain.ErrContentUnavailable.
func (s *QuestionService) Fetch(ctx context.Context, req FetchRequest) (QuestionSet, error) {
	req = req.normalized()
	result, err, _ := s.sf.Do(req.key(), func() (interface{}, error) {
		return s.fetch(ctx, req)
	})
	if err != nil {
		return QuestionSet{}, err
	}
	return result.(QuestionSet), nil
}

func (s *QuestionService) fetch(ctx context.Context, req FetchRequest) (QuestionSet, error) {
	questions, remoteErr := s.fetchRemote(ctx, req)
	if remoteErr == nil {
		if err := s.cache.SaveQuestions(ctx, questions); err != nil {
			s.logger.Warn("cache questions", "count", len(questions), "error", err)
		}
		return QuestionSet{Questions: questions}, nil
	}

	s.logger.Warn("fetch questions from remote, falling back to cache",
		"subject", req.Subject, "topic", req.Topic, "error", remoteErr)

	cached, err := s.cache.Questions(ctx)
	if err != nil {
		return QuestionSet{}, fmt.Errorf("%w: remote: %v; cache: %v", domain.ErrContentUnavailable, remoteErr, err)
	}
	filter := req.filter()
	filtered := make([]domain.Question, 0, len(cached))
	for _, q := range cached {
		if filter.Matches(q) {
			filtered = append(filtered, q)
		}
	}
	return QuestionSet{Questions: filtered, FromCache: true}, nil
}

func (s *QuestionService) fetchRemote(ctx context.Context, req FetchRequest) ([]domain.Question, error) {
	rctx, cancel := remoteContext(ctx, s.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(rctx)

	var used map[string]struct{}
	if req.ExcludeUsed {
		deviceID := s.identity.DeviceID()
		g.Go(func() error {
			ids, err := s.usage.UsedQuestionIDs(gctx, deviceID, req.SessionType)
			if err != nil {
				return fmt.Errorf("used questions: %w", err)
			}
			used = make(map[string]struct{}, len(ids))
			for _, id := range ids {
				used[id] = struct{}{}
			}
			return nil
		})
	}

	var questions []domain.Question
	g.Go(func() error {
		qs, err := s.source.ListQuestions(gctx, req.filter())
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
		questions = qs
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, remoteError("fetch questions", err)
	}

	if len(used) == 0 {
		return questions, nil
	}
	fresh := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		if _, ok := used[q.ID]; !ok {
			fresh = append(fresh, q)
		}
	}
	return fresh, nil
}

// MarkUsed records that questionID was shown in sessionType. Remote failures are
// non-fatal: the mark is logged and queued for replay, and nil is returned.
func (s *QuestionService) MarkUsed(ctx context.Context, questionID, sessionType string) error {
	if questionID == "" {
		return fmt.Errorf("%w: question id is required", domain.ErrValidation)
	}
	if sessionType == "" {
		sessionType = DefaultSessionType
	}
	mark := domain.UsedQuestionMark{
		DeviceID:    s.identity.DeviceID(),
		QuestionID:  questionID,
		SessionType: sessionType,
		UsedAt:      s.now(),
	}

	rctx, cancel := remoteContext(ctx, s.timeout)
	defer cancel()
	err := s.usage.MarkUsed(rctx, mark)
	if err == nil {
		return nil
	}

	s.logger.Warn("mark question used, queueing for retry", "questionId", questionID, "sessionType", sessionType, "error", err)
	data, err := json.Marshal(mark)
	if err != nil {
		s.logger.Error("encode used mark", "questionId", questionID, "error", err)
		return nil
	}
	if _, err := s.queue.Enqueue(ctx, domain.SyncInsert, domain.TableUsedQuestions, data); err != nil {
		s.logger.Error("queue used mark", "questionId", questionID, "error", err)
	}
	return nil
}

// ResetUsed clears this device's marks for the session type and fetches again,
// bypassing any listing cache so questions added remotely show up.
func (s *QuestionService) ResetUsed(ctx context.Context, req FetchRequest) (QuestionSet, error) {
	req = req.normalized()

	rctx, cancel := remoteContext(ctx, s.timeout)
	err := s.usage.ResetUsed(rctx, s.identity.DeviceID(), req.SessionType)
	cancel()
	if err != nil {
		s.logger.Warn("reset used questions", "sessionType", req.SessionType, "error", err)
		return QuestionSet{}, remoteError("reset used", err)
	}

	if lc, ok := s.source.(ListingCache); ok {
		if err := lc.Invalidate(ctx); err != nil {
			s.logger.Warn("invalidate question listings", "error", err)
		}
	}
	// An in-flight fetch may predate the reset.
	s.sf.Forget(req.key())
	return s.Fetch(ctx, req)
}
