package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"job-feed-importer/internal/config"
	"job-feed-importer/internal/queue"
	"job-feed-importer/internal/store"
	"job-feed-importer/internal/telemetry"
	"job-feed-importer/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	q := queue.NewRedisQueue(cfg)
	processor := worker.NewProcessor(st)
	pool := worker.NewPool(cfg, q, st, processor, logger)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("worker pool started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("max_attempts", cfg.MaxAttempts),
		zap.Duration("backoff_base", cfg.BackoffBase))
	if err := pool.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker pool stopped", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	if env == "dev" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
