// cmd/server/main.go — admin HTTP API plus the cron trigger.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joeumn/etsy-gen-sub000/internal/config"
	"github.com/joeumn/etsy-gen-sub000/internal/cron"
	"github.com/joeumn/etsy-gen-sub000/internal/db"
	"github.com/joeumn/etsy-gen-sub000/internal/deadletter"
	"github.com/joeumn/etsy-gen-sub000/internal/httpapi"
	"github.com/joeumn/etsy-gen-sub000/internal/kv"
	"github.com/joeumn/etsy-gen-sub000/internal/migrate"
	"github.com/joeumn/etsy-gen-sub000/internal/orchestrator"
	"github.com/joeumn/etsy-gen-sub000/internal/queue"
	"github.com/joeumn/etsy-gen-sub000/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("load config failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

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

	orch := orchestrator.New(jobs, transport,
		orchestrator.FixedWindow{Window: cfg.DedupWindow}, logger)
	dlq := deadletter.New(cache, cfg.DeadLetterTTL, logger)

	ready := map[string]httpapi.ReadyCheck{
		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
		"redis":    func(ctx context.Context) error { return rc.Ping(ctx).Err() },
	}
	api := httpapi.New(orch, jobs, dlq, cache, cfg.AdminToken, ready, logger)

	trigger := cron.New(orch, logger, cfg.CronEnabled)
	n := trigger.Register(cfg.CronSpecs)
	logger.Info("cron schedules registered", "count", n, "enabled", cfg.CronEnabled)
	trigger.Start()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("http server listening", "addr", cfg.HTTPAddr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping http server")

	trigger.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown timeout", "err", err)
	}
	logger.Info("http server stopped")
}
