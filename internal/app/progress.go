package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"exam-prep-sync/internal/domain"
)

// DefaultGoalTarget applies to days without a saved goal.
const DefaultGoalTarget = 10

// Progress is today's goal state and the derived streak.
type Progress struct {
	Goal       domain.DailyGoal `json:"goal"`
	Streak     domain.Streak    `json:"streak"`
	TodayCount int              `json:"todayCount"`
	Percent    int              `json:"percent"`
}

// ProgressService derives daily goal progress and streaks from the local cache.
type ProgressService struct {
	cache    ProgressCache
	remote   AttemptStore
	identity Identity
	loc      *time.Location
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewProgressService(cache ProgressCache, remote AttemptStore, identity Identity, loc *time.Location, timeout time.Duration, logger *slog.Logger) *ProgressService {
	return NewProgressServiceWithClock(cache, remote, identity, loc, timeout, logger, time.Now)
}

// NewProgressServiceWithClock is used by tests to pin "today".
func NewProgressServiceWithClock(cache ProgressCache, remote AttemptStore, identity Identity, loc *time.Location, timeout time.Duration, logger *slog.Logger, now func() time.Time) *ProgressService {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressService{
		cache:    cache,
		remote:   remote,
		identity: identity,
		loc:      loc,
		timeout:  timeout,
		logger:   logger,
		now:      now,
	}
}

// DeriveStreak applies the day-boundary rules. prev/hasPrev is the stored streak,
// today and yesterday are DateLayout keys, count is today's attempt count.
func DeriveStreak(prev domain.Streak, hasPrev bool, today, yesterday string, count int) domain.Streak {
	next := domain.Streak{ID: domain.StreakID, LastActiveDate: prev.LastActiveDate}
	if count > 0 {
		next.LastActiveDate = today
	}

	switch {
	case hasPrev && prev.LastActiveDate == today:
		next.CurrentStreak = prev.CurrentStreak
		next.LongestStreak = prev.LongestStreak
	case hasPrev && prev.LastActiveDate == yesterday:
		if count > 0 {
			next.CurrentStreak = prev.CurrentStreak + 1
		} else {
			next.CurrentStreak = 0
		}
		next.LongestStreak = max(prev.LongestStreak, next.CurrentStreak)
	default:
		if count > 0 {
			next.CurrentStreak = 1
		}
		next.LongestStreak = max(prev.LongestStreak, next.CurrentStreak)
	}
	return next
}

type day struct {
	date      string
	yesterday string
	start     time.Time
	end       time.Time
}

func (s *ProgressService) today() day {
	now := s.now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return day{
		date:      start.Format(domain.DateLayout),
		yesterday: start.AddDate(0, 0, -1).Format(domain.DateLayout),
		start:     start,
		end:       start.AddDate(0, 0, 1),
	}
}

// Load computes today's progress. When there was activity today the derived
// streak is persisted so continuation survives into the next day.
func (s *ProgressService) Load(ctx context.Context) (Progress, error) {
	d := s.today()
	p, prev, hasPrev, err := s.derive(ctx, d)
	if err != nil {
		return Progress{}, err
	}
	if p.TodayCount > 0 && (!hasPrev || prev != p.Streak) {
		if err := s.cache.SaveStreak(ctx, p.Streak); err != nil {
			s.logger.Warn("persist streak", "date", d.date, "error", err)
		}
	}
	return p, nil
}

// SaveGoal stores today's target. With activity today it also persists the streak,
// counting today as at least one day.
func (s *ProgressService) SaveGoal(ctx context.Context, target int) (Progress, error) {
	if target < 1 {
		return Progress{}, fmt.Errorf("%w: goal target must be at least 1, got %d", domain.ErrValidation, target)
	}
	d := s.today()
	p, _, _, err := s.derive(ctx, d)
	if err != nil {
		return Progress{}, err
	}

	p.Goal = domain.DailyGoal{
		ID:        d.date,
		Date:      d.date,
		Target:    target,
		Completed: p.TodayCount,
		Type:      domain.GoalTypeQuestions,
	}
	if err := s.cache.SaveDailyGoal(ctx, p.Goal); err != nil {
		return Progress{}, fmt.Errorf("save goal: %w", err)
	}

	if p.TodayCount > 0 {
		p.Streak.CurrentStreak = max(p.Streak.CurrentStreak, 1)
		p.Streak.LongestStreak = max(p.Streak.LongestStreak, p.Streak.CurrentStreak)
		p.Streak.LastActiveDate = d.date
		if err := s.cache.SaveStreak(ctx, p.Streak); err != nil {
			return Progress{}, fmt.Errorf("save streak: %w", err)
		}
	}
	p.Percent = percent(p.Goal.Completed, p.Goal.Target)
	return p, nil
}

func (s *ProgressService) derive(ctx context.Context, d day) (Progress, domain.Streak, bool, error) {
	count, err := s.todayCount(ctx, d)
	if err != nil {
		return Progress{}, domain.Streak{}, false, err
	}

	goal, ok, err := s.cache.DailyGoal(ctx, d.date)
	if err != nil {
		return Progress{}, domain.Streak{}, false, fmt.Errorf("load goal: %w", err)
	}
	if !ok {
		goal = domain.DailyGoal{ID: d.date, Date: d.date, Target: DefaultGoalTarget, Type: domain.GoalTypeQuestions}
	}
	// completed is always recomputed from attempts.
	goal.Completed = count

	prev, hasPrev, err := s.cache.Streak(ctx)
	if err != nil {
		return Progress{}, domain.Streak{}, false, fmt.Errorf("load streak: %w", err)
	}

	return Progress{
		Goal:       goal,
		Streak:     DeriveStreak(prev, hasPrev, d.date, d.yesterday, count),
		TodayCount: count,
		Percent:    percent(goal.Completed, goal.Target),
	}, prev, hasPrev, nil
}

func (s *ProgressService) todayCount(ctx context.Context, d day) (int, error) {
	count, err := s.cache.CountAttemptsBetween(ctx, d.start, d.end)
	if err == nil {
		return count, nil
	}
	s.logger.Warn("count local attempts, trying remote", "date", d.date, "error", err)

	rctx, cancel := remoteContext(ctx, s.timeout)
	defer cancel()
	count, rerr := s.remote.CountAttempts(rctx, s.identity.DeviceID(), d.start, d.end)
	if rerr != nil {
		return 0, fmt.Errorf("count today's attempts: local: %v: %w", err, remoteError("count attempts", rerr))
	}
	return count, nil
}

func percent(completed, target int) int {
	if target <= 0 {
		return 0
	}
	return min(completed*100/target, 100)
}
