package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/config"
	"exam-prep-sync/internal/identity"
	"exam-prep-sync/internal/infra/memory"
	"exam-prep-sync/internal/infra/postgres"
	infraredis "exam-prep-sync/internal/infra/redis"
	"exam-prep-sync/internal/localstore"
	"github.com/redis/go-redis/v9"
)

// runtime is the wired set of services for one device process.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	cache    *localstore.Store
	identity *identity.Provider
	timeout  time.Duration

	questions *app.QuestionService
	attempts  *app.AttemptService
	progress  *app.ProgressService
	pods      *app.PodCoordinator

	closers []func() error
}

func newLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
}

// openRuntime loads config and wires local cache, identity, remote store and realtime channel.
// Without postgres.url the remote store is in-process; without redis.addr so is the realtime bus.
func openRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		timeout: config.Duration(cfg.Remote.Timeout, app.DefaultRemoteTimeout),
	}
	if err := rt.wire(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) wire(ctx context.Context) error {
	cfg, logger := rt.cfg, rt.logger

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	cache, err := localstore.Open(ctx, cfg.CachePath())
	if err != nil {
		return err
	}
	rt.cache = cache
	rt.closers = append(rt.closers, cache.Close)
	rt.identity = identity.NewProvider(cache, logger)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, redisClient.Close)
	}

	realtime, publisher := newRealtime(cfg, redisClient, logger)

	type remoteStore interface {
		app.QuestionSource
		app.UsageStore
		app.AttemptStore
		app.PodStore
	}
	var remote remoteStore
	if cfg.Postgres.URL != "" {
		pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		remote = postgres.NewStore(pool, publisher, logger)
	} else {
		logger.Info("no postgres url configured, using in-process remote store")
		remote = memory.NewRemoteStore(publisher, logger, sampleQuestions()...)
	}

	cacheTTL := config.Duration(cfg.Redis.QuestionCacheTTL, 5*time.Minute)
	var source app.QuestionSource
	if redisClient != nil {
		source = infraredis.NewQuestionCache(redisClient, remote, cacheTTL, logger)
	} else {
		source = memory.NewCachedSource(remote, cacheTTL)
	}

	rt.questions = app.NewQuestionService(source, remote, cache, cache, rt.identity, rt.timeout, logger)
	rt.attempts = app.NewAttemptService(remote, remote, cache, rt.identity, rt.timeout, logger)
	rt.progress = app.NewProgressService(cache, remote, rt.identity, loc, rt.timeout, logger)
	rt.pods = app.NewPodCoordinator(remote, realtime, rt.identity, identity.GenerateRoomCode, rt.timeout, logger)
	rt.closers = append(rt.closers, rt.pods.Close)
	return nil
}

// newRealtime picks the pod event channel. Only Redis reaches other devices.
func newRealtime(cfg config.Config, client *redis.Client, logger *slog.Logger) (app.Realtime, app.ChangePublisher) {
	if client != nil {
		notifier := infraredis.NewNotifier(client, logger)
		return notifier, notifier
	}
	if cfg.Postgres.URL != "" {
		logger.Warn("postgres configured without redis, pod events will not reach other devices", "setting", "redis.addr")
	}
	bus := memory.NewBus()
	return bus, bus
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close runtime: %w", err)
	}
	return nil
}

// sampleQuestions seeds the in-process remote store so the device works without a database.
func sampleQuestions() []memory.QuestionRow {
	explain := func(s string) *string { return &s }
	return []memory.QuestionRow{
		{
			ID: "sample-math-1", Subject: "Mathematics", Topic: "Algebra", QuestionType: "mcq",
			QuestionText: "Solve for x: 3x + 5 = 20", Options: []string{"3", "5", "15", "25/3"},
			CorrectAnswer: "5", Explanation: explain("Subtract 5 then divide by 3."), Difficulty: 1,
		},
		{
			ID: "sample-math-2", Subject: "Mathematics", Topic: "Geometry", QuestionType: "mcq",
			QuestionText: "The interior angles of a triangle sum to", Options: `["90°","180°","270°","360°"]`,
			CorrectAnswer: "180°", Difficulty: 1,
		},
		{
			ID: "sample-phys-1", Subject: "Physics", Topic: "Kinematics", QuestionType: "mcq",
			QuestionText: "SI unit of acceleration", Options: []string{"m/s", "m/s²", "N", "J"},
			CorrectAnswer: "m/s²", Difficulty: 2,
		},
		{
			ID: "sample-chem-1", Subject: "Chemistry", Topic: "Stoichiometry", QuestionType: "mcq",
			QuestionText: "Moles in 18 g of water", Options: []string{"0.5", "1", "2", "18"},
			CorrectAnswer: "1", Explanation: explain("Molar mass of H2O is 18 g/mol."), Difficulty: 3,
		},
	}
}
