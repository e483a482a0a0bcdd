package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/domain"
	"exam-prep-sync/internal/identity"
	"exam-prep-sync/internal/infra/postgres"
	pgmigrations "exam-prep-sync/internal/infra/postgres/migrations"
	infraredis "exam-prep-sync/internal/infra/redis"
	"exam-prep-sync/internal/localstore"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

type device struct{ id, name string }

func (d device) DeviceID() string { return d.id }
func (d device) Nickname() string { return d.name }

type env struct {
	pool     *pgxpool.Pool
	store    *postgres.Store
	notifier *infraredis.Notifier
	logger   *slog.Logger
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	t.Cleanup(pgCleanup)
	redisURL, redisCleanup := startRedis(t, ctx)
	t.Cleanup(redisCleanup)

	migrateAndSeed(t, ctx, pgURL)

	pool, err := postgres.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := infraredis.NewNotifier(redisClient, logger)
	return &env{
		pool:     pool,
		store:    postgres.NewStore(pool, notifier, logger),
		notifier: notifier,
		logger:   logger,
	}
}

func (e *env) coordinator(t *testing.T, d device) *app.PodCoordinator {
	c := app.NewPodCoordinator(e.store, e.notifier, d, identity.GenerateRoomCode, 5*time.Second, e.logger)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPodSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	a := e.coordinator(t, device{"device-a", "Ana"})
	b := e.coordinator(t, device{"device-b", "Ben"})

	pod, err := a.Create(ctx, "Math Sprint")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(pod.RoomCode) != 6 {
		t.Fatalf("expected 6-char code, got %q", pod.RoomCode)
	}
	if _, err := b.Join(ctx, pod.RoomCode); err != nil {
		t.Fatalf("join: %v", err)
	}

	members, err := e.store.ListMembers(ctx, pod.ID)
	if err != nil || len(members) != 2 {
		t.Fatalf("expected two members, got %d err=%v", len(members), err)
	}

	if _, err := a.UpdateScore(ctx, 10); err != nil {
		t.Fatalf("update score: %v", err)
	}
	waitFor(t, b, func(v domain.PodView) bool {
		return len(v.Members) == 2 && v.Members[0].DeviceID == "device-a" && v.Members[0].Score == 10
	})

	if err := a.Leave(ctx); err != nil {
		t.Fatalf("leave: %v", err)
	}
	c := e.coordinator(t, device{"device-c", "Cy"})
	if _, err := c.Join(ctx, pod.RoomCode); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound after host left, got %v", err)
	}
	waitFor(t, b, func(v domain.PodView) bool { return v.Pod != nil && !v.Pod.IsActive })
}

func TestConcurrentScoreIncrements(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	a := e.coordinator(t, device{"device-a", "Ana"})

	pod, err := a.Create(ctx, "Race")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := e.store.IncrementScore(ctx, pod.ID, "device-a", 1)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	m, ok, err := e.store.FindMember(ctx, pod.ID, "device-a")
	if err != nil || !ok || m.Score != n {
		t.Fatalf("expected score %d, got %+v ok=%v err=%v", n, m, ok, err)
	}
}

func TestQuestionExclusionAndOfflineReplay(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	cache, err := localstore.Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	d := device{"device-q", "Quinn"}
	questions := app.NewQuestionService(e.store, e.store, cache, cache, d, 5*time.Second, e.logger)
	attempts := app.NewAttemptService(e.store, e.store, cache, d, 5*time.Second, e.logger)
	req := app.FetchRequest{Subject: "math", ExcludeUsed: true, SessionType: "exam"}

	set, err := questions.Fetch(ctx, req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(set.Questions) != 2 {
		t.Fatalf("expected 2 math questions, got %d", len(set.Questions))
	}
	for _, q := range set.Questions {
		if len(q.Options) != 3 {
			t.Fatalf("question %s: expected normalized options, got %v", q.ID, q.Options)
		}
	}

	if err := questions.MarkUsed(ctx, "pg-q1", "exam"); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	set, err = questions.Fetch(ctx, req)
	if err != nil {
		t.Fatalf("fetch after mark: %v", err)
	}
	if len(set.Questions) != 1 || set.Questions[0].ID != "pg-q2" {
		t.Fatalf("expected only pg-q2, got %+v", set.Questions)
	}

	recorded, err := attempts.Record(ctx, domain.Attempt{QuestionID: "pg-q2", SelectedAnswer: "b", IsCorrect: true})
	if err != nil || !recorded.Synced {
		t.Fatalf("expected synced attempt, got %+v err=%v", recorded, err)
	}
	// replay of an already delivered attempt must not fail or duplicate
	if err := e.store.UpsertAttempt(ctx, recorded); err != nil {
		t.Fatalf("replay: %v", err)
	}
	n, err := e.store.CountAttempts(ctx, d.id, recorded.CreatedAt.Add(-time.Minute), recorded.CreatedAt.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("expected one remote attempt, got %d err=%v", n, err)
	}
}

func TestUsedMarksAreSetMembership(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	session := "mock-exam-7"

	for i, sid := range []*string{&session, nil} {
		mark := domain.UsedQuestionMark{DeviceID: "device-u", QuestionID: "pg-q1", SessionType: "exam", SessionID: sid, UsedAt: time.Now()}
		if err := e.store.MarkUsed(ctx, mark); err != nil {
			t.Fatalf("mark %d: %v", i, err)
		}
	}

	var (
		n         int
		id        string
		sessionID *string
	)
	err := e.pool.QueryRow(ctx, `
		SELECT count(*) OVER (), id::text, session_id FROM used_questions
		WHERE device_id = 'device-u' AND session_type = 'exam' AND question_id = 'pg-q1'`).Scan(&n, &id, &sessionID)
	if err != nil {
		t.Fatalf("query used mark: %v", err)
	}
	if n != 1 || id == "" {
		t.Fatalf("expected one row with an id, got n=%d id=%q", n, id)
	}
	if sessionID == nil || *sessionID != session {
		t.Fatalf("expected first mark's session id kept, got %v", sessionID)
	}
}

func waitFor(t *testing.T, c *app.PodCoordinator, pred func(domain.PodView) bool) {
	t.Helper()
	ch, cancel := c.Watch()
	defer cancel()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				t.Fatalf("watch closed")
			}
			if pred(v) {
				return
			}
		case <-timeout:
			t.Fatalf("timed out, last view %+v", c.View())
		}
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "prep", "POSTGRES_PASSWORD": "preppass", "POSTGRES_DB": "prepdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://prep:preppass@%s:%s/prepdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateAndSeed(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// one array-valued and one string-encoded options column
	if _, err := db.ExecContext(ctx, `
		INSERT INTO questions (id, subject, topic, question_text, options, correct_answer, difficulty) VALUES
			('pg-q1', 'math', 'algebra', 'x + 2 = 3', '["0","1","2"]'::jsonb, '1', 1),
			('pg-q2', 'math', 'algebra', '2x = 8', to_jsonb('["a","b","c"]'::text), 'b', 2),
			('pg-q3', 'biology', 'cells', 'powerhouse of the cell', '["mitochondria","nucleus","ribosome"]'::jsonb, 'mitochondria', 1)`); err != nil {
		t.Fatalf("seed questions: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
