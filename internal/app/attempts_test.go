package app_test

import (
	"context"
	"errors"
	"testing"

	"exam-prep-sync/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestRecordSyncsWhenOnline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	got, err := f.attempts.Record(ctx, domain.Attempt{QuestionID: "q1", SelectedAnswer: "2", IsCorrect: true, TimeTakenSeconds: intPtr(9)})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !got.Synced || got.ID == "" || got.DeviceID != f.identity.id {
		t.Fatalf("unexpected attempt %+v", got)
	}
	if _, ok := f.remote.Attempt(got.ID); !ok {
		t.Fatalf("expected attempt stored remotely")
	}
	unsynced, err := f.cache.UnsyncedAttempts(ctx)
	if err != nil {
		t.Fatalf("unsynced: %v", err)
	}
	if len(unsynced) != 0 {
		t.Fatalf("expected local copy flagged synced, got %d unsynced", len(unsynced))
	}
}

func TestRecordQueuesWhenOfflineAndDrainDelivers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.SetAvailable(false)

	got, err := f.attempts.Record(ctx, domain.Attempt{QuestionID: "q2", SelectedAnswer: "1"})
	if err != nil {
		t.Fatalf("record offline: %v", err)
	}
	if got.Synced {
		t.Fatalf("expected unsynced attempt")
	}
	local, err := f.cache.AttemptsByQuestion(ctx, "q2")
	if err != nil || len(local) != 1 || local[0].Synced {
		t.Fatalf("expected one unsynced local attempt, got %+v err=%v", local, err)
	}
	entries, err := f.cache.SyncQueue(ctx)
	if err != nil || len(entries) != 1 || entries[0].Table != domain.TableAttempts {
		t.Fatalf("expected one queued attempt, got %+v err=%v", entries, err)
	}

	f.remote.SetAvailable(true)
	report, err := f.attempts.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Delivered != 1 || report.Remaining != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, ok := f.remote.Attempt(got.ID); !ok {
		t.Fatalf("expected attempt delivered")
	}
	local, _ = f.cache.AttemptsByQuestion(ctx, "q2")
	if len(local) != 1 || !local[0].Synced {
		t.Fatalf("expected local attempt synced after drain, got %+v", local)
	}
	if entries, _ := f.cache.SyncQueue(ctx); len(entries) != 0 {
		t.Fatalf("expected empty queue, got %d", len(entries))
	}

	// replaying an already delivered attempt is harmless
	if _, err := f.attempts.Drain(ctx); err != nil {
		t.Fatalf("second drain: %v", err)
	}
}

func TestDrainStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.SetAvailable(false)

	for _, q := range []string{"q1", "q2", "q3"} {
		if _, err := f.attempts.Record(ctx, domain.Attempt{QuestionID: q}); err != nil {
			t.Fatalf("record %s: %v", q, err)
		}
	}

	report, err := f.attempts.Drain(ctx)
	if !errors.Is(err, domain.ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
	if report.Delivered != 0 || report.Remaining != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	entries, err := f.cache.SyncQueue(ctx)
	if err != nil || len(entries) != 3 {
		t.Fatalf("expected queue untouched, got %d err=%v", len(entries), err)
	}
	if entries[0].Retries != 1 || entries[1].Retries != 0 {
		t.Fatalf("expected only the head retried, got %d/%d", entries[0].Retries, entries[1].Retries)
	}
}

func TestDrainDropsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.cache.Enqueue(ctx, domain.SyncInsert, domain.TableAttempts, []byte("{not json")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := f.cache.Enqueue(ctx, domain.SyncInsert, "leaderboard", []byte(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := f.cache.Enqueue(ctx, domain.SyncDelete, domain.TableAttempts, []byte(`{"id":"x"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	report, err := f.attempts.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if report.Dropped != 3 || report.Delivered != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if entries, _ := f.cache.SyncQueue(ctx); len(entries) != 0 {
		t.Fatalf("expected malformed entries removed, got %d", len(entries))
	}
}

func TestRecordValidates(t *testing.T) {
	f := newFixture(t)
	if _, err := f.attempts.Record(context.Background(), domain.Attempt{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing question, got %v", err)
	}
	if _, err := f.attempts.Record(context.Background(), domain.Attempt{QuestionID: "q1", TimeTakenSeconds: intPtr(-1)}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for negative time, got %v", err)
	}
}
