package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/domain"
	"github.com/google/uuid"
)

// ErrUnavailable is returned by every RemoteStore call while it is marked offline.
var ErrUnavailable = errors.New("memory remote store offline")

// QuestionRow is a question as stored remotely. Options may be a list or a
// JSON-encoded string and are normalized on read.
type QuestionRow struct {
	ID            string
	Subject       string
	Topic         string
	QuestionText  string
	QuestionType  string
	Options       any
	CorrectAnswer string
	Explanation   *string
	Difficulty    int
	SVGData       *string
}

// RemoteStore is an in-process stand-in for the hosted database. It backs
// demos and tests, and can be switched offline to exercise fallback paths.
type RemoteStore struct {
	publisher app.ChangePublisher
	logger    *slog.Logger
	clock     func() time.Time

	mu        sync.RWMutex
	offline   bool
	questions []QuestionRow
	used      map[usageKey]domain.UsedQuestionMark
	attempts  map[string]domain.Attempt
	pods      map[string]domain.Pod
	members   map[string]map[string]domain.PodMember // pod id -> device id -> member
}

type usageKey struct {
	deviceID    string
	questionID  string
	sessionType string
}

func NewRemoteStore(publisher app.ChangePublisher, logger *slog.Logger, questions ...QuestionRow) *RemoteStore {
	if logger == nil {
		logger = slog.Default()
	}
	rows := make([]QuestionRow, len(questions))
	copy(rows, questions)
	return &RemoteStore{
		publisher: publisher,
		logger:    logger,
		clock:     time.Now,
		questions: rows,
		used:      make(map[usageKey]domain.UsedQuestionMark),
		attempts:  make(map[string]domain.Attempt),
		pods:      make(map[string]domain.Pod),
		members:   make(map[string]map[string]domain.PodMember),
	}
}

// SetAvailable toggles simulated connectivity.
func (s *RemoteStore) SetAvailable(available bool) {
	s.mu.Lock()
	s.offline = !available
	s.mu.Unlock()
}

// AddQuestions appends rows to the question table.
func (s *RemoteStore) AddQuestions(rows ...QuestionRow) {
	s.mu.Lock()
	s.questions = append(s.questions, rows...)
	s.mu.Unlock()
}

func (s *RemoteStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.offline {
		return ErrUnavailable
	}
	return nil
}

func (s *RemoteStore) ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.Question, 0, len(s.questions))
	for _, row := range s.questions {
		options, err := domain.NormalizeOptions(row.Options)
		if err != nil {
			return nil, fmt.Errorf("question %s: %w", row.ID, err)
		}
		q := domain.Question{
			ID:            row.ID,
			Subject:       row.Subject,
			Topic:         row.Topic,
			QuestionText:  row.QuestionText,
			QuestionType:  row.QuestionType,
			Options:       options,
			CorrectAnswer: row.CorrectAnswer,
			Explanation:   row.Explanation,
			Difficulty:    row.Difficulty,
			SVGData:       row.SVGData,
		}
		if filter.Matches(q) {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *RemoteStore) UsedQuestionIDs(ctx context.Context, deviceID, sessionType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var ids []string
	for key := range s.used {
		if key.deviceID == deviceID && key.sessionType == sessionType {
			ids = append(ids, key.questionID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RemoteStore) MarkUsed(ctx context.Context, mark domain.UsedQuestionMark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	key := usageKey{deviceID: mark.DeviceID, questionID: mark.QuestionID, sessionType: mark.SessionType}
	if _, ok := s.used[key]; !ok {
		s.used[key] = mark
	}
	return nil
}

func (s *RemoteStore) ResetUsed(ctx context.Context, deviceID, sessionType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for key := range s.used {
		if key.deviceID == deviceID && key.sessionType == sessionType {
			delete(s.used, key)
		}
	}
	return nil
}

func (s *RemoteStore) UpsertAttempt(ctx context.Context, attempt domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.attempts[attempt.ID]; ok {
		return nil
	}
	attempt.Synced = true
	s.attempts[attempt.ID] = attempt
	return nil
}

func (s *RemoteStore) CountAttempts(ctx context.Context, deviceID string, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, a := range s.attempts {
		if a.DeviceID == deviceID && !a.CreatedAt.Before(from) && a.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

// Attempt returns a stored attempt, for assertions.
func (s *RemoteStore) Attempt(id string) (domain.Attempt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	return a, ok
}

func (s *RemoteStore) CreatePod(ctx context.Context, pod domain.Pod) (domain.Pod, error) {
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return domain.Pod{}, err
	}
	for _, existing := range s.pods {
		if existing.IsActive && existing.RoomCode == pod.RoomCode {
			s.mu.Unlock()
			return domain.Pod{}, domain.ErrRoomCodeTaken
		}
	}
	pod.ID = uuid.NewString()
	pod.IsActive = true
	pod.CreatedAt = s.clock()
	s.pods[pod.ID] = pod
	s.members[pod.ID] = make(map[string]domain.PodMember)
	s.mu.Unlock()
	return pod, nil
}

func (s *RemoteStore) FindActivePodByCode(ctx context.Context, roomCode string) (domain.Pod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return domain.Pod{}, err
	}
	for _, pod := range s.pods {
		if pod.IsActive && pod.RoomCode == roomCode {
			return pod, nil
		}
	}
	return domain.Pod{}, domain.ErrRoomNotFound
}

func (s *RemoteStore) GetPod(ctx context.Context, podID string) (domain.Pod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return domain.Pod{}, err
	}
	pod, ok := s.pods[podID]
	if !ok {
		return domain.Pod{}, domain.ErrRoomNotFound
	}
	return pod, nil
}

func (s *RemoteStore) ListActivePods(ctx context.Context) ([]domain.Pod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var pods []domain.Pod
	for _, pod := range s.pods {
		if pod.IsActive {
			pods = append(pods, pod)
		}
	}
	sort.Slice(pods, func(i, j int) bool { return pods[i].CreatedAt.After(pods[j].CreatedAt) })
	return pods, nil
}

func (s *RemoteStore) DeactivatePod(ctx context.Context, podID string) error {
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	pod, ok := s.pods[podID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	pod.IsActive = false
	s.pods[podID] = pod
	s.mu.Unlock()
	s.publish(ctx, podID, domain.EventPodUpdate)
	return nil
}

func (s *RemoteStore) SetCurrentQuestion(ctx context.Context, podID, questionID string) (domain.Pod, error) {
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return domain.Pod{}, err
	}
	pod, ok := s.pods[podID]
	if !ok || !pod.IsActive {
		s.mu.Unlock()
		return domain.Pod{}, domain.ErrRoomNotFound
	}
	qid := questionID
	pod.CurrentQuestionID = &qid
	s.pods[podID] = pod
	s.mu.Unlock()
	s.publish(ctx, podID, domain.EventPodUpdate)
	return pod, nil
}

func (s *RemoteStore) FindMember(ctx context.Context, podID, deviceID string) (domain.PodMember, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return domain.PodMember{}, false, err
	}
	m, ok := s.members[podID][deviceID]
	return m, ok, nil
}

func (s *RemoteStore) InsertMember(ctx context.Context, member domain.PodMember) error {
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	members, ok := s.members[member.PodID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	if _, exists := members[member.DeviceID]; exists {
		s.mu.Unlock()
		return nil
	}
	member.ID = uuid.NewString()
	member.JoinedAt = s.clock()
	members[member.DeviceID] = member
	s.mu.Unlock()
	s.publish(ctx, member.PodID, domain.EventMemberChange)
	return nil
}

func (s *RemoteStore) RemoveMember(ctx context.Context, podID, deviceID string) error {
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	_, existed := s.members[podID][deviceID]
	delete(s.members[podID], deviceID)
	s.mu.Unlock()
	if existed {
		s.publish(ctx, podID, domain.EventMemberChange)
	}
	return nil
}

func (s *RemoteStore) ListMembers(ctx context.Context, podID string) ([]domain.PodMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.PodMember, 0, len(s.members[podID]))
	for _, m := range s.members[podID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (s *RemoteStore) IncrementScore(ctx context.Context, podID, deviceID string, delta int) (int, error) {
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	m, ok := s.members[podID][deviceID]
	if !ok {
		s.mu.Unlock()
		return 0, domain.ErrMemberNotFound
	}
	m.Score += delta
	s.members[podID][deviceID] = m
	s.mu.Unlock()
	s.publish(ctx, podID, domain.EventMemberChange)
	return m.Score, nil
}

// MemberCount reports how many member rows the pod has.
func (s *RemoteStore) MemberCount(podID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members[podID])
}

func (s *RemoteStore) publish(ctx context.Context, podID string, kind domain.PodEventKind) {
	if s.publisher == nil {
		return
	}
	// the write already happened
	if err := s.publisher.Publish(ctx, domain.PodEvent{PodID: podID, Kind: kind}); err != nil {
		s.logger.Warn("publish pod event", "podId", podID, "kind", kind, "error", err)
	}
}
