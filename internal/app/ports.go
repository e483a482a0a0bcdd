package app

import (
	"context"
	"fmt"
	"time"

	"exam-prep-sync/internal/domain"
)

// DefaultRemoteTimeout bounds every remote call when no timeout is configured.
const DefaultRemoteTimeout = 10 * time.Second

// Identity supplies the device id and nickname used to tag remote writes.
type Identity interface {
	DeviceID() string
	Nickname() string
}

// QuestionSource reads questions from the remote store. Options must already be normalized.
type QuestionSource interface {
	ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// ListingCache is a QuestionSource that keeps listings in front of the remote store.
type ListingCache interface {
	Invalidate(ctx context.Context) error
}

// UsageStore keeps used-question marks remotely. Marks have set semantics.
type UsageStore interface {
	UsedQuestionIDs(ctx context.Context, deviceID, sessionType string) ([]string, error)
	MarkUsed(ctx context.Context, mark domain.UsedQuestionMark) error
	ResetUsed(ctx context.Context, deviceID, sessionType string) error
}

// AttemptStore writes attempts remotely. UpsertAttempt must be idempotent on attempt id.
type AttemptStore interface {
	UpsertAttempt(ctx context.Context, attempt domain.Attempt) error
	CountAttempts(ctx context.Context, deviceID string, from, to time.Time) (int, error)
}

// PodStore is the remote home of pods and their members.
// Stores assign ids and timestamps on insert.
type PodStore interface {
	// CreatePod returns domain.ErrRoomCodeTaken when an active pod already uses the code.
	CreatePod(ctx context.Context, pod domain.Pod) (domain.Pod, error)
	// FindActivePodByCode returns domain.ErrRoomNotFound for unknown or inactive codes.
	FindActivePodByCode(ctx context.Context, roomCode string) (domain.Pod, error)
	GetPod(ctx context.Context, podID string) (domain.Pod, error)
	ListActivePods(ctx context.Context) ([]domain.Pod, error)
	DeactivatePod(ctx context.Context, podID string) error
	SetCurrentQuestion(ctx context.Context, podID, questionID string) (domain.Pod, error)

	FindMember(ctx context.Context, podID, deviceID string) (domain.PodMember, bool, error)
	// InsertMember is a no-op when the (pod, device) row already exists.
	InsertMember(ctx context.Context, member domain.PodMember) error
	RemoveMember(ctx context.Context, podID, deviceID string) error
	// ListMembers orders by score descending.
	ListMembers(ctx context.Context, podID string) ([]domain.PodMember, error)
	// IncrementScore adds delta server-side and returns the new score,
	// or domain.ErrMemberNotFound.
	IncrementScore(ctx context.Context, podID, deviceID string, delta int) (int, error)
}

// Subscription delivers realtime events for one pod until closed.
// Close is idempotent.
type Subscription interface {
	Events() <-chan domain.PodEvent
	Close() error
}

// Realtime opens pod-scoped subscriptions on the notification channel.
type Realtime interface {
	Subscribe(ctx context.Context, podID string) (Subscription, error)
}

// ChangePublisher emits change notifications after pod writes.
type ChangePublisher interface {
	Publish(ctx context.Context, event domain.PodEvent) error
}

// QuestionCache is the local question collection.
type QuestionCache interface {
	SaveQuestions(ctx context.Context, questions []domain.Question) error
	Questions(ctx context.Context) ([]domain.Question, error)
}

// SyncQueue is the durable outbound queue.
type SyncQueue interface {
	Enqueue(ctx context.Context, action domain.SyncAction, table string, data []byte) (domain.SyncEntry, error)
	SyncQueue(ctx context.Context) ([]domain.SyncEntry, error)
	DeleteSyncEntry(ctx context.Context, id string) error
	TouchSyncEntry(ctx context.Context, id string) error
}

// AttemptCache is the local attempts collection plus the sync queue.
type AttemptCache interface {
	SyncQueue
	SaveAttempt(ctx context.Context, attempt domain.Attempt) error
	MarkAttemptSynced(ctx context.Context, id string) error
}

// ProgressCache is what the streak and goal tracker reads and writes locally.
type ProgressCache interface {
	CountAttemptsBetween(ctx context.Context, from, to time.Time) (int, error)
	DailyGoal(ctx context.Context, date string) (domain.DailyGoal, bool, error)
	SaveDailyGoal(ctx context.Context, goal domain.DailyGoal) error
	Streak(ctx context.Context) (domain.Streak, bool, error)
	SaveStreak(ctx context.Context, streak domain.Streak) error
}

func remoteContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func remoteError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrRemoteUnavailable, err)
}
