// cmd/worker/main.go — per-stage consumer pools, the stalled-message reaper,
// and the circuit breaker live here. Stage runners registered by default are
// simulation stubs; real runners replace them at integration time.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/joeumn/etsy-gen-sub000/internal/breaker"
	"github.com/joeumn/etsy-gen-sub000/internal/config"
	"github.com/joeumn/etsy-gen-sub000/internal/db"
	"github.com/joeumn/etsy-gen-sub000/internal/deadletter"
	"github.com/joeumn/etsy-gen-sub000/internal/domain"
	"github.com/joeumn/etsy-gen-sub000/internal/kv"
	"github.com/joeumn/etsy-gen-sub000/internal/migrate"
	"github.com/joeumn/etsy-gen-sub000/internal/orchestrator"
	"github.com/joeumn/etsy-gen-sub000/internal/processor"
	"github.com/joeumn/etsy-gen-sub000/internal/queue"
	"github.com/joeumn/etsy-gen-sub000/internal/runner"
	"github.com/joeumn/etsy-gen-sub000/internal/store"
	"github.com/joeumn/etsy-gen-sub000/internal/worker"
)

const reapInterval = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("load config failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := worker.EnableParentDeathSignal(); err != nil {
		logger.Warn("failed to enable parent-death signal", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Connect to PostgreSQL.
	logger.Info("connecting to database", "url", cfg.DatabaseURL)
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to database failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	if err := migrate.Run(ctx, pool); err != nil {
		logger.Error("run migrations failed", "err", err)
		os.Exit(1)
	}

	// Connect to Redis.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("parse redis URL failed", "err", err)
		os.Exit(1)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	logger.Info("connecting to redis", "url", cfg.RedisURL)
	if err := rc.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("redis connected")

	cache := kv.NewRedis(rc)
	jobs := store.NewPG(pool)
	transport := queue.NewPG(pool, queue.Options{
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		Lease:       cfg.JobTimeout,
	}, logger)

	// Breaker state is process-local by default; BreakerShared moves it to
	// redis so every worker replica sees the same circuit.
	var brkStore breaker.StateStore = breaker.NewMemoryStore()
	if cfg.BreakerShared {
		brkStore = breaker.NewKVStore(cache)
	}
	brk := breaker.New(brkStore, breaker.Options{
		Threshold:    cfg.BreakerThreshold,
		Cooldown:     cfg.BreakerCooldown,
		SuccessDecay: cfg.BreakerSuccessDecay,
	})

	orch := orchestrator.New(jobs, transport,
		orchestrator.FixedWindow{Window: cfg.DedupWindow}, logger)
	dlq := deadletter.New(cache, cfg.DeadLetterTTL, logger)
	proc := processor.New(jobs, brk, orch, dlq, logger, cfg.Production())

	reg := runner.NewRegistry()
	registerSimulationRunners(reg, logger)

	// Reaper: advisory-lock election; the winner returns expired leases to
	// pending so crashed workers never strand a message.
	go transport.RunReaper(ctx, reapInterval)

	var wg sync.WaitGroup
	for _, stage := range reg.Stages() {
		sr, err := reg.Lookup(stage)
		if err != nil {
			logger.Error("stage runner missing", "stage", stage, "err", err)
			os.Exit(1)
		}
		p := &worker.Pool{
			Queue:       domain.QueueName(stage),
			Concurrency: cfg.WorkerConcurrency,
			Timeout:     cfg.JobTimeout,
			Transport:   transport,
			Consume:     proc.Consumer(stage, sr),
			Logger:      logger,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
		logger.Info("stage pool started",
			"stage", stage,
			"queue", p.Queue,
			"concurrency", cfg.WorkerConcurrency)
	}

	logger.Info("worker ready", "stages", reg.Stages())

	<-ctx.Done()
	logger.Info("shutdown signal received, draining pools")
	wg.Wait()
	logger.Info("shutdown complete")
}

// registerSimulationRunners installs placeholder runners that sleep briefly
// and return a canned result, so the pipeline can be exercised end to end
// without the scraping/AI/marketplace integrations.
func registerSimulationRunners(reg *runner.Registry, logger *slog.Logger) {
	for _, stage := range domain.Stages() {
		stage := stage
		reg.Register(stage, runner.Func(func(ctx context.Context, jobID uuid.UUID, meta domain.Metadata) (json.RawMessage, error) {
			delay := time.Duration(500+rand.Intn(1500)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			logger.Info("simulated stage run",
				"stage", stage,
				"job_id", jobID,
				"trigger", meta.Trigger)
			return json.RawMessage(fmt.Sprintf(
				`{"stage":%q,"simulated":true,"items":%d}`, stage, rand.Intn(20)+1)), nil
		}))
	}
}
