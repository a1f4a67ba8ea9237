package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cannaai/pixelprep/internal/config"
	"github.com/cannaai/pixelprep/internal/domain"
	"github.com/cannaai/pixelprep/internal/pipeline"
	"github.com/cannaai/pixelprep/internal/queue"
	"github.com/cannaai/pixelprep/internal/store"
	"github.com/cannaai/pixelprep/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	localRunner   jobRunner
	objectRunner  jobRunner
	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type jobRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.JobResult, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// objectStorage is the part of storage.Client the object-store stages need.
type objectStorage interface {
	pipeline.ObjectReader
	pipeline.ObjectWriter
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	processor *pipeline.Processor,
	objects objectStorage,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if processor == nil {
		return nil, fmt.Errorf("pipeline processor is required")
	}
	if objects == nil {
		return nil, fmt.Errorf("storage client is required")
	}

	localRunner, err := pipeline.NewLocalJobRunner(processor, workerCfg.LocalOutputDir)
	if err != nil {
		return nil, fmt.Errorf("initialize local job runner: %w", err)
	}

	objectRunner, err := pipeline.NewJobRunner(
		processor,
		pipeline.ObjectStoreFetcher{Storage: objects},
		pipeline.ObjectStoreEmitter{Storage: objects, OutputPrefix: workerCfg.OutputPrefix},
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store job runner: %w", err)
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := newServer(logger, max(1, workerCfg.MaxActiveJobs), localRunner, objectRunner, jobStore, usageStore)
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func newServer(logger *log.Logger, slots int, localRunner, objectRunner jobRunner, jobStore store.JobStore, usageStore store.UsageStore) *Server {
	return &Server{
		logger:       logger,
		sem:          make(chan struct{}, slots),
		localRunner:  localRunner,
		objectRunner: objectRunner,
		jobStore:     jobStore,
		usageStore:   usageStore,
		metrics:      newMetrics(),
		tracer:       otel.Tracer("pixelprep/worker"),
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeGenerateResponsiveSet, s.handleResponsiveSet)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleResponsiveSet(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseResponsiveSetPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.responsive_set", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.targets", len(payload.Targets)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s targets=%d object_key=%s",
		payload.JobID,
		payload.SourceType,
		len(payload.Targets),
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	runner := s.objectRunner
	if payload.SourceType == domain.SourceTypeLocalFile {
		runner = s.localRunner
	}

	result, err := runner.Run(ctx, payload.Request())
	if err != nil {
		s.completeJob(ctx, payload.JobID, domain.JobStatusFailed, nil, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "responsive set failed")
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"object_key":   payload.ObjectKey,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
			"error_kind":   string(pipeline.KindOf(err)),
		})
		if permanent(err) {
			return fmt.Errorf("run responsive set: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run responsive set: %w", err)
	}

	requested := len(payload.Targets)
	if requested == 0 {
		requested = len(pipeline.DefaultResponsiveTargets())
	}
	skipped := requested - len(result.Outputs)

	s.logger.Printf("Processed job_id=%s outputs=%d skipped=%d", payload.JobID, len(result.Outputs), skipped)
	s.completeJob(ctx, payload.JobID, domain.JobStatusSucceeded, result.Outputs, "")
	s.observeOutputs(result, skipped)
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":          payload.JobID,
		"status":          domain.JobStatusSucceeded,
		"source_type":     payload.SourceType,
		"object_key":      payload.ObjectKey,
		"requested_at":    payload.RequestedAt,
		"completed_at":    time.Now().UTC(),
		"outputs":         result.Outputs,
		"skipped_targets": skipped,
	}); err != nil {
		// The outputs are stored and the job is marked succeeded; a redelivery
		// would only redo the work. The webhook client already retried.
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// permanent reports failures that a retry cannot fix: the source itself is
// rejected by the pipeline or the job asks for something unsupported.
func permanent(err error) bool {
	switch pipeline.KindOf(err) {
	case pipeline.KindImageSize, pipeline.KindUnsupportedFormat, pipeline.KindImageProcessing:
		return true
	}
	return errors.Is(err, pipeline.ErrUnsupportedSourceType)
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) completeJob(ctx context.Context, jobID, status string, outputs []pipeline.Output, errMsg string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Complete(ctx, jobID, status, outputs, errMsg); err != nil {
		s.logger.Printf("job completion update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ResponsiveSetPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) observeOutputs(result pipeline.JobResult, skipped int) {
	for _, output := range result.Outputs {
		s.metrics.variantsTotal.WithLabelValues(output.Format).Inc()
		s.metrics.compressionRatio.Observe(output.CompressionRatio)
	}
	if skipped > 0 {
		s.metrics.variantsSkippedTotal.Add(float64(skipped))
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ResponsiveSetPayload, result pipeline.JobResult, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" && s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, payload.JobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", payload.JobID, err)
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}
	if userID == "" {
		userID = "anonymous"
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		PixelsProcessed: result.PixelsProcessed(),
		BytesSaved:      result.BytesSaved(),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.RecordUsage(ctx, usage); err != nil {
		if errors.Is(err, store.ErrUsageRecorded) {
			s.logger.Printf("usage already recorded job_id=%s", payload.JobID)
			return
		}
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	if usage.BytesSaved >= 0 {
		s.metrics.bytesSavedTotal.Add(float64(usage.BytesSaved))
	} else {
		s.metrics.bytesGrownTotal.Add(float64(-usage.BytesSaved))
	}
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
