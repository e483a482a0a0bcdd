package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"exam-prep-sync/internal/domain"
	"github.com/google/uuid"
)

var errMalformedEntry = errors.New("malformed sync entry")

// AttemptService records attempts locally first and reconciles them with the remote store.
type AttemptService struct {
	remote   AttemptStore
	usage    UsageStore
	cache    AttemptCache
	identity Identity
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	drainMu sync.Mutex
}

func NewAttemptService(remote AttemptStore, usage UsageStore, cache AttemptCache, identity Identity, timeout time.Duration, logger *slog.Logger) *AttemptService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptService{
		remote:   remote,
		usage:    usage,
		cache:    cache,
		identity: identity,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Record persists the attempt locally with synced=false, then tries the remote write.
// A failed remote write is queued for Drain. Only local persistence failures are returned.
func (s *AttemptService) Record(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	if strings.TrimSpace(attempt.QuestionID) == "" {
		return domain.Attempt{}, fmt.Errorf("%w: attempt needs a question id", domain.ErrValidation)
	}
	if attempt.TimeTakenSeconds != nil && *attempt.TimeTakenSeconds < 0 {
		return domain.Attempt{}, fmt.Errorf("%w: negative time taken", domain.ErrValidation)
	}
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.now()
	}
	attempt.DeviceID = s.identity.DeviceID()
	attempt.Synced = false

	if err := s.cache.SaveAttempt(ctx, attempt); err != nil {
		return domain.Attempt{}, fmt.Errorf("record attempt: %w", err)
	}

	if err := s.pushAttempt(ctx, attempt); err != nil {
		s.logger.Warn("sync attempt, queueing for retry", "attemptId", attempt.ID, "error", err)
		data, err := json.Marshal(attempt)
		if err != nil {
			return attempt, fmt.Errorf("encode attempt %s: %w", attempt.ID, err)
		}
		if _, err := s.cache.Enqueue(ctx, domain.SyncInsert, domain.TableAttempts, data); err != nil {
			return attempt, fmt.Errorf("queue attempt %s: %w", attempt.ID, err)
		}
		return attempt, nil
	}
	attempt.Synced = true
	return attempt, nil
}

func (s *AttemptService) pushAttempt(ctx context.Context, attempt domain.Attempt) error {
	rctx, cancel := remoteContext(ctx, s.timeout)
	defer cancel()
	if err := s.remote.UpsertAttempt(rctx, attempt); err != nil {
		return remoteError("upsert attempt", err)
	}
	// synced flips only after the remote write is acknowledged.
	return s.cache.MarkAttemptSynced(ctx, attempt.ID)
}

// DrainReport summarizes one pass over the sync queue.
type DrainReport struct {
	Delivered int
	Dropped   int
	Remaining int
}

// Drain replays queued entries in insertion order. It stops at the first delivery
// failure and leaves that entry and the rest queued. Delivery is at-least-once.
func (s *AttemptService) Drain(ctx context.Context) (DrainReport, error) {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	var report DrainReport
	entries, err := s.cache.SyncQueue(ctx)
	if err != nil {
		return report, fmt.Errorf("load sync queue: %w", err)
	}

	for i, entry := range entries {
		err := s.replay(ctx, entry)
		switch {
		case err == nil:
			report.Delivered++
		case errors.Is(err, errMalformedEntry):
			s.logger.Error("dropping sync entry", "entryId", entry.ID, "table", entry.Table, "action", entry.Action, "error", err)
			report.Dropped++
		default:
			if terr := s.cache.TouchSyncEntry(ctx, entry.ID); terr != nil {
				s.logger.Warn("record sync retry", "entryId", entry.ID, "error", terr)
			}
			report.Remaining = len(entries) - i
			return report, fmt.Errorf("replay %s %s: %w", entry.Action, entry.Table, err)
		}
		if err := s.cache.DeleteSyncEntry(ctx, entry.ID); err != nil {
			report.Remaining = len(entries) - i
			return report, err
		}
	}
	return report, nil
}

func (s *AttemptService) replay(ctx context.Context, entry domain.SyncEntry) error {
	if entry.Action != domain.SyncInsert {
		return fmt.Errorf("%w: unsupported action %q", errMalformedEntry, entry.Action)
	}
	switch entry.Table {
	case domain.TableAttempts:
		var attempt domain.Attempt
		if err := json.Unmarshal(entry.Data, &attempt); err != nil || attempt.ID == "" {
			return fmt.Errorf("%w: attempt payload", errMalformedEntry)
		}
		return s.pushAttempt(ctx, attempt)
	case domain.TableUsedQuestions:
		var mark domain.UsedQuestionMark
		if err := json.Unmarshal(entry.Data, &mark); err != nil || mark.QuestionID == "" {
			return fmt.Errorf("%w: used mark payload", errMalformedEntry)
		}
		rctx, cancel := remoteContext(ctx, s.timeout)
		defer cancel()
		if err := s.usage.MarkUsed(rctx, mark); err != nil {
			return remoteError("mark used", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown table %q", errMalformedEntry, entry.Table)
	}
}
