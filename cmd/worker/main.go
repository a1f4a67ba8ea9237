package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/cannaai/pixelprep/internal/config"
	"github.com/cannaai/pixelprep/internal/pipeline"
	"github.com/cannaai/pixelprep/internal/storage"
	"github.com/cannaai/pixelprep/internal/store"
	"github.com/cannaai/pixelprep/internal/telemetry"
	"github.com/cannaai/pixelprep/internal/webhook"
	"github.com/cannaai/pixelprep/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing.TraceConfig("pixelprep-worker"), logger)
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

	objects, err := storage.NewClient(cfg.Storage.ClientConfig(cfg.Pipeline.MaxSizeBytes()))
	if err != nil {
		logger.Fatalf("create storage client: %v", err)
	}

	var (
		jobStore   store.JobStore
		usageStore store.UsageStore
	)
	if cfg.Database.InMemory() {
		mem := store.NewMemoryJobStore()
		jobStore, usageStore = mem, mem
	} else {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("open job store: %v", err)
		}
		defer func() { _ = pg.Close() }()
		jobStore, usageStore = pg, pg
	}

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		processor,
		objects,
		webhook.NewClient(cfg.Webhook.ClientConfig()),
		jobStore,
		usageStore,
	)
	if err != nil {
		logger.Fatalf("create worker: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s backend=%s metrics=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		pipeline.Backend(),
		cfg.Worker.MetricsAddr,
	)

	// Run blocks until SIGINT or SIGTERM and drains in-flight tasks.
	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics server shutdown failed: %v", err)
	}
}
