package app_test

import (
	"context"
	"testing"
	"time"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/domain"
)

func TestSyncWorkerDrainsQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remote.SetAvailable(false)

	got, err := f.attempts.Record(ctx, domain.Attempt{QuestionID: "q4"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	f.remote.SetAvailable(true)

	worker := app.NewSyncWorker(f.attempts, 10*time.Millisecond, discardLogger())
	worker.Start(ctx)
	defer worker.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := f.remote.Attempt(got.ID); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("attempt never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSyncWorkerStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	worker := app.NewSyncWorker(f.attempts, time.Hour, discardLogger())

	worker.Stop()
	worker.Start(context.Background())
	worker.Stop()

	started := app.NewSyncWorker(f.attempts, time.Hour, discardLogger())
	started.Start(context.Background())
	started.Stop()
	started.Stop()
}
