package localstore

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"exam-prep-sync/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.SetPreference(ctx, "device_id", "dev-1"); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	store.Close()

	again, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()

	v, err := again.Version(ctx)
	if err != nil || v != SchemaVersion() {
		t.Fatalf("expected version %d, got %d (%v)", SchemaVersion(), v, err)
	}
	got, ok, err := again.Preference(ctx, "device_id")
	if err != nil || !ok || got != "dev-1" {
		t.Fatalf("expected persisted preference, got %q ok=%v err=%v", got, ok, err)
	}
}

func TestUpgradeFromVersionOneKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	old, err := openVersion(ctx, path, 1)
	if err != nil {
		t.Fatalf("open v1: %v", err)
	}
	if v, _ := old.Version(ctx); v != 1 {
		t.Fatalf("expected v1, got %d", v)
	}
	attempt := sampleAttempt("a1", time.Now())
	if err := old.SaveAttempt(ctx, attempt); err != nil {
		t.Fatalf("save attempt: %v", err)
	}
	old.Close()

	upgraded, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	defer upgraded.Close()

	attempts, err := upgraded.Attempts(ctx)
	if err != nil || len(attempts) != 1 || attempts[0].ID != "a1" {
		t.Fatalf("expected attempt to survive upgrade, got %+v (%v)", attempts, err)
	}
	if err := upgraded.SaveStreak(ctx, domain.Streak{CurrentStreak: 1, LongestStreak: 1, LastActiveDate: "2024-01-01"}); err != nil {
		t.Fatalf("v2 collection missing after upgrade: %v", err)
	}
}

func TestAttemptSyncedNeverReverts(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	a := sampleAttempt("a1", time.Now())
	if err := store.SaveAttempt(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}
	unsynced, _ := store.UnsyncedAttempts(ctx)
	if len(unsynced) != 1 {
		t.Fatalf("expected one unsynced attempt, got %d", len(unsynced))
	}

	if err := store.MarkAttemptSynced(ctx, "a1"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	// Re-saving the unsynced copy must not flip the flag back.
	if err := store.SaveAttempt(ctx, a); err != nil {
		t.Fatalf("resave: %v", err)
	}
	unsynced, _ = store.UnsyncedAttempts(ctx)
	if len(unsynced) != 0 {
		t.Fatalf("synced flag reverted")
	}

	byQuestion, err := store.AttemptsByQuestion(ctx, a.QuestionID)
	if err != nil || len(byQuestion) != 1 || !byQuestion[0].Synced {
		t.Fatalf("expected synced attempt by question, got %+v (%v)", byQuestion, err)
	}
	if byQuestion[0].TimeTakenSeconds == nil || *byQuestion[0].TimeTakenSeconds != 12 {
		t.Fatalf("expected time taken to round-trip")
	}
}

func TestCountAttemptsBetween(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	_ = store.SaveAttempt(ctx, sampleAttempt("yesterday", day.Add(-time.Hour)))
	_ = store.SaveAttempt(ctx, sampleAttempt("morning", day.Add(9*time.Hour)))
	_ = store.SaveAttempt(ctx, sampleAttempt("night", day.Add(23*time.Hour)))
	_ = store.SaveAttempt(ctx, sampleAttempt("tomorrow", day.Add(24*time.Hour)))

	n, err := store.CountAttemptsBetween(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 attempts today, got %d", n)
	}
}

func TestQuestionsReplaceWholeRow(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	explanation := "because"
	q := domain.Question{
		ID: "q1", Subject: "math", Topic: "add", QuestionText: "2+2?", QuestionType: "mcq",
		Options: []string{"3", "4"}, CorrectAnswer: "4", Explanation: &explanation, Difficulty: 1,
	}
	if err := store.SaveQuestions(ctx, []domain.Question{q}); err != nil {
		t.Fatalf("save: %v", err)
	}

	q.Options = []string{"4", "5", "6"}
	q.Explanation = nil
	if err := store.SaveQuestions(ctx, []domain.Question{q}); err != nil {
		t.Fatalf("resave: %v", err)
	}

	got, err := store.Questions(ctx)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 question, got %d", len(got))
	}
	if !reflect.DeepEqual(got[0].Options, []string{"4", "5", "6"}) || got[0].Explanation != nil {
		t.Fatalf("expected full replace, got %+v", got[0])
	}
}

func TestSyncQueueOrder(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first, err := store.Enqueue(ctx, domain.SyncInsert, domain.TableAttempts, []byte(`{"id":"a1"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, _ := store.Enqueue(ctx, domain.SyncInsert, domain.TableUsedQuestions, []byte(`{"questionId":"q1"}`))

	if err := store.TouchSyncEntry(ctx, first.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	entries, err := store.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != first.ID || entries[1].ID != second.ID {
		t.Fatalf("expected insertion order, got %+v", entries)
	}
	if entries[0].Retries != 1 || string(entries[0].Data) != `{"id":"a1"}` {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}

	if err := store.DeleteSyncEntry(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, _ = store.SyncQueue(ctx)
	if len(entries) != 1 || entries[0].ID != second.ID {
		t.Fatalf("expected only second entry, got %+v", entries)
	}

	if err := store.ClearSyncQueue(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	entries, _ = store.SyncQueue(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected empty queue")
	}
}

func TestDailyGoalAndStreak(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, ok, err := store.DailyGoal(ctx, "2024-03-10"); ok || err != nil {
		t.Fatalf("expected no goal, ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.Streak(ctx); ok || err != nil {
		t.Fatalf("expected no streak, ok=%v err=%v", ok, err)
	}

	goal := domain.DailyGoal{ID: "2024-03-10", Date: "2024-03-10", Target: 10, Completed: 3, Type: domain.GoalTypeQuestions}
	if err := store.SaveDailyGoal(ctx, goal); err != nil {
		t.Fatalf("save goal: %v", err)
	}
	got, ok, err := store.DailyGoal(ctx, "2024-03-10")
	if err != nil || !ok || got != goal {
		t.Fatalf("goal round trip: %+v ok=%v err=%v", got, ok, err)
	}

	streak := domain.Streak{CurrentStreak: 2, LongestStreak: 4, LastActiveDate: "2024-03-10"}
	if err := store.SaveStreak(ctx, streak); err != nil {
		t.Fatalf("save streak: %v", err)
	}
	st, ok, err := store.Streak(ctx)
	if err != nil || !ok || st.ID != domain.StreakID || st.LongestStreak != 4 {
		t.Fatalf("streak round trip: %+v ok=%v err=%v", st, ok, err)
	}
}

func sampleAttempt(id string, at time.Time) domain.Attempt {
	taken := 12
	return domain.Attempt{
		ID:               id,
		DeviceID:         "dev-1",
		QuestionID:       "q-" + id,
		SelectedAnswer:   "4",
		IsCorrect:        true,
		TimeTakenSeconds: &taken,
		CreatedAt:        at,
	}
}
