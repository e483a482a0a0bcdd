package app_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/domain"
	"exam-prep-sync/internal/infra/memory"
	"exam-prep-sync/internal/localstore"
)

type staticIdentity struct {
	id       string
	nickname string
}

func (i staticIdentity) DeviceID() string { return i.id }
func (i staticIdentity) Nickname() string { return i.nickname }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openCache(t *testing.T) *localstore.Store {
	t.Helper()
	store, err := localstore.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleQuestions() []memory.QuestionRow {
	return []memory.QuestionRow{
		{ID: "q1", Subject: "math", Topic: "algebra", QuestionText: "2x = 4", QuestionType: "mcq", Options: []string{"1", "2", "3"}, CorrectAnswer: "2", Difficulty: 1},
		{ID: "q2", Subject: "math", Topic: "algebra", QuestionText: "x + 1 = 3", QuestionType: "mcq", Options: `["1","2","3"]`, CorrectAnswer: "2", Difficulty: 2},
		{ID: "q3", Subject: "math", Topic: "geometry", QuestionText: "angles in a triangle", QuestionType: "mcq", Options: []any{"90", "180", "360"}, CorrectAnswer: "180", Difficulty: 2},
		{ID: "q4", Subject: "physics", Topic: "motion", QuestionText: "units of velocity", QuestionType: "mcq", Options: []string{"m/s", "m"}, CorrectAnswer: "m/s", Difficulty: 3},
	}
}

type fixture struct {
	remote    *memory.RemoteStore
	cache     *localstore.Store
	identity  staticIdentity
	questions *app.QuestionService
	attempts  *app.AttemptService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	remote := memory.NewRemoteStore(nil, discardLogger(), sampleQuestions()...)
	cache := openCache(t)
	id := staticIdentity{id: "device-a", nickname: "Ana"}
	logger := discardLogger()
	return &fixture{
		remote:    remote,
		cache:     cache,
		identity:  id,
		questions: app.NewQuestionService(remote, remote, cache, cache, id, time.Second, logger),
		attempts:  app.NewAttemptService(remote, remote, cache, id, time.Second, logger),
	}
}

func ids(questions []domain.Question) map[string]bool {
	out := make(map[string]bool, len(questions))
	for _, q := range questions {
		out[q.ID] = true
	}
	return out
}
