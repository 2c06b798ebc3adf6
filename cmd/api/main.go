package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"job-feed-importer/internal/api"
	"job-feed-importer/internal/archive"
	"job-feed-importer/internal/config"
	"job-feed-importer/internal/feed"
	"job-feed-importer/internal/importer"
	"job-feed-importer/internal/queue"
	"job-feed-importer/internal/ratelimit"
	"job-feed-importer/internal/store"
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

	var archiver feed.Archiver
	if cfg.ArchiveS3Bucket != "" {
		a, err := archive.NewS3Archiver(ctx, cfg)
		if err != nil {
			logger.Fatal("init feed archive", zap.Error(err))
		}
		archiver = a
		logger.Info("feed archive enabled", zap.String("bucket", cfg.ArchiveS3Bucket))
	}

	feedClient := feed.NewClient(cfg, archiver, logger)
	coordinator := importer.New(cfg, feedClient, q, st, logger)

	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(limiterClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(st, coordinator, q, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	if cfg.FetchInterval > 0 {
		go runScheduler(ctx, cfg.FetchInterval, coordinator, logger)
	}

	logger.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

// runScheduler triggers a full ingestion pass on a fixed interval, replacing an
// external cron.
func runScheduler(ctx context.Context, interval time.Duration, coordinator *importer.Coordinator, logger *zap.Logger) {
	logger.Info("scheduler started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("scheduled import starting")
			coordinator.RunAll(ctx)
		}
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
