package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cannaai/pixelprep/internal/api"
	"github.com/cannaai/pixelprep/internal/config"
	"github.com/cannaai/pixelprep/internal/pipeline"
	"github.com/cannaai/pixelprep/internal/queue"
	"github.com/cannaai/pixelprep/internal/ratelimit"
	"github.com/cannaai/pixelprep/internal/storage"
	"github.com/cannaai/pixelprep/internal/store"
	"github.com/cannaai/pixelprep/internal/telemetry"
	"github.com/cannaai/pixelprep/internal/vision"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing.TraceConfig("pixelprep-api"), logger)
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("start image backend: %v", err)
	}
	defer pipeline.Shutdown()

	processor, err := pipeline.NewProcessor(log.New(os.Stdout, "[pipeline] ", log.LstdFlags|log.Lmsgprefix), cfg.Pipeline.Limits())
	if err != nil {
		logger.Fatalf("create processor: %v", err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Printf("redis client close error: %v", err)
		}
	}()
	limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.API.RateLimitCapacity, cfg.API.RateLimitWindow, "")
	if err != nil {
		logger.Fatalf("create rate limiter: %v", err)
	}
	logger.Printf("rate limiting with %s", limiter)

	objects, err := storage.NewClient(cfg.Storage.ClientConfig(cfg.Pipeline.MaxSizeBytes()))
	if err != nil {
		logger.Fatalf("create storage client: %v", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Printf("ensure bucket failed, presigned uploads may not work: %v", err)
	}

	jobStore, usageStore, closeStore, err := openStores(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("open job store: %v", err)
	}
	defer closeStore()

	app, err := api.NewServer(logger, api.Config{
		Processor:      processor,
		Queue:          queueClient,
		JobStore:       jobStore,
		UsageStore:     usageStore,
		Storage:        objects,
		RateLimiter:    limiter,
		PresignTTL:     cfg.API.PresignTTL,
		MaxUploadBytes: int64(cfg.API.MaxUploadMB * 1024 * 1024),
		Vision: vision.Config{
			Model:     cfg.Vision.Model,
			Detail:    cfg.Vision.Detail,
			MaxTokens: cfg.Vision.MaxTokens,
		},
	})
	if err != nil {
		logger.Fatalf("create api server: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s backend=%s max_image_mb=%.1f", cfg.API.Addr, pipeline.Backend(), cfg.Pipeline.MaxSizeMB)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func openStores(ctx context.Context, cfg config.DatabaseConfig) (store.JobStore, store.UsageStore, func(), error) {
	if cfg.InMemory() {
		mem := store.NewMemoryJobStore()
		return mem, mem, func() {}, nil
	}
	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	return pg, pg, func() { _ = pg.Close() }, nil
}
