package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cannaai/pixelprep/internal/pipeline"
	"github.com/cannaai/pixelprep/internal/queue"
	"github.com/cannaai/pixelprep/internal/store"
	"github.com/cannaai/pixelprep/internal/vision"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                *log.Logger
	processor             *pipeline.Processor
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	usageStore            store.UsageStore
	storage               objectStorage
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	presignTTL            time.Duration
	maxBodyBytes          int64
	vision                vision.Config
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

// Config carries the Server's collaborators. Processor and JobStore are
// required; a nil Queue or Storage disables the job endpoints that need them.
type Config struct {
	Processor             *pipeline.Processor
	Queue                 queueEnqueuer
	JobStore              store.JobStore
	UsageStore            store.UsageStore
	Storage               objectStorage
	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
	PresignTTL            time.Duration
	MaxUploadBytes        int64
	Vision                vision.Config
}

type queueEnqueuer interface {
	EnqueueResponsiveSet(ctx context.Context, payload queue.ResponsiveSetPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

func NewServer(logger *log.Logger, cfg Config) (*Server, error) {
	if cfg.Processor == nil {
		return nil, errors.New("pipeline processor is required")
	}
	if cfg.JobStore == nil {
		return nil, errors.New("job store is required")
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.Storage == nil {
		cfg.Storage = unavailableObjectStorage{}
	}
	if cfg.RateLimitUserIDHeader == "" {
		cfg.RateLimitUserIDHeader = "X-User-ID"
	}
	if cfg.UsageStore == nil {
		if usage, ok := cfg.JobStore.(store.UsageStore); ok {
			cfg.UsageStore = usage
		}
	}

	s := &Server{
		logger:                logger,
		processor:             cfg.Processor,
		queueClient:           cfg.Queue,
		jobStore:              cfg.JobStore,
		usageStore:            cfg.UsageStore,
		storage:               cfg.Storage,
		rateLimiter:           cfg.RateLimiter,
		rateLimitUserIDHeader: cfg.RateLimitUserIDHeader,
		presignTTL:            cfg.PresignTTL,
		maxBodyBytes:          bodyLimit(cfg.MaxUploadBytes, cfg.Processor.Limits()),
		vision:                cfg.Vision,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("pixelprep/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// bodyLimit leaves room for base64 inflation of an image at the pipeline's
// size limit plus the JSON around it.
func bodyLimit(configured int64, limits pipeline.Limits) int64 {
	encoded := int64(limits.MaxSizeMB*1024*1024)*4/3 + 64<<10
	return max(configured, encoded)
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("POST /v1/images/inspect", s.handleInspect)
	s.mux.HandleFunc("POST /v1/images/process", s.handleProcess)
	s.mux.HandleFunc("POST /v1/images/responsive", s.handleResponsive)
	s.mux.HandleFunc("POST /v1/images/validate", s.handleValidate)
	s.mux.HandleFunc("POST /v1/vision/requests", s.handleVisionRequest)

	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /v1/usage/{user_id}", s.handleUsage)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": pipeline.Backend(),
	})
}

func decodeJSON(r io.Reader, into any) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
