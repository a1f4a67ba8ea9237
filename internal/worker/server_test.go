package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cannaai/pixelprep/internal/domain"
	"github.com/cannaai/pixelprep/internal/pipeline"
	"github.com/cannaai/pixelprep/internal/queue"
	"github.com/cannaai/pixelprep/internal/store"
	"github.com/cannaai/pixelprep/internal/webhook"
	"github.com/hibiken/asynq"
)

func TestHandleResponsiveSetLocalFile(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "leaf.png")
	if err := os.WriteFile(inputPath, buildTestPNG(t, 1200, 800), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	hook := newWebhookRecorder(t)
	jobStore := store.NewMemoryJobStore()
	seedJob(t, jobStore, "job-1", "grower-7")

	s := newTestServer(t, filepath.Join(tmp, "out"), jobStore)
	s.webhookClient = webhook.NewClient(webhook.Config{SigningSecret: "s3cret", MaxAttempts: 1})

	task := mustTask(t, queue.ResponsiveSetPayload{
		JobID:      "job-1",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: hook.server.URL,
		ObjectKey:  inputPath,
		Options:    pipeline.Options{Format: pipeline.FormatJPEG, Quality: 80},
		Targets: []pipeline.Target{
			{Name: "thumb", Width: 150},
			{Name: "medium", Width: 600},
		},
	})

	if err := s.handleResponsiveSet(context.Background(), task); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	job, ok, err := jobStore.Get(context.Background(), "job-1")
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", job.Status, job.Error)
	}
	if len(job.Outputs) != 2 || job.Outputs[0].Name != "thumb" || job.Outputs[1].Width != 600 {
		t.Fatalf("unexpected outputs %+v", job.Outputs)
	}

	summary, err := jobStore.UsageSummary(context.Background(), "grower-7")
	if err != nil {
		t.Fatalf("usage summary: %v", err)
	}
	if summary.Jobs != 1 || summary.PixelsProcessed != 150*100+600*400 {
		t.Fatalf("unexpected usage %+v", summary)
	}

	event := hook.last(t)
	if event.name != webhook.EventJobCompleted {
		t.Fatalf("expected %s, got %s", webhook.EventJobCompleted, event.name)
	}
	if event.body["status"] != domain.JobStatusSucceeded {
		t.Fatalf("unexpected webhook body %v", event.body)
	}
}

func TestHandleResponsiveSetWebhookFailureIsNotRetried(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "leaf.png")
	if err := os.WriteFile(inputPath, buildTestPNG(t, 200, 100), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(unavailable.Close)

	jobStore := store.NewMemoryJobStore()
	seedJob(t, jobStore, "job-hook", "grower-9")
	s := newTestServer(t, filepath.Join(tmp, "out"), jobStore)
	s.webhookClient = webhook.NewClient(webhook.Config{MaxAttempts: 1})

	task := mustTask(t, queue.ResponsiveSetPayload{
		JobID:      "job-hook",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: unavailable.URL,
		ObjectKey:  inputPath,
		Options:    pipeline.Options{Format: pipeline.FormatJPEG},
		Targets:    []pipeline.Target{{Name: "thumb", Width: 100}, {Name: "full", Width: 200}},
	})

	err := s.handleResponsiveSet(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected webhook failure to skip retry, got %v", err)
	}
	job, _, _ := jobStore.Get(context.Background(), "job-hook")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("job must stay succeeded, got %s", job.Status)
	}

	// A redelivery of the same task must not count the job twice.
	_ = s.handleResponsiveSet(context.Background(), task)

	summary, err := jobStore.UsageSummary(context.Background(), "grower-9")
	if err != nil {
		t.Fatalf("usage summary: %v", err)
	}
	if summary.Jobs != 1 || summary.PixelsProcessed != 100*50+200*100 {
		t.Fatalf("expected one job of usage, got %+v", summary)
	}
}

func TestHandleResponsiveSetRejectsUndecodableSource(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "notes.txt")
	if err := os.WriteFile(inputPath, []byte("not a photo"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	hook := newWebhookRecorder(t)
	jobStore := store.NewMemoryJobStore()
	seedJob(t, jobStore, "job-2", "")

	s := newTestServer(t, filepath.Join(tmp, "out"), jobStore)
	s.webhookClient = webhook.NewClient(webhook.Config{MaxAttempts: 1})

	err := s.handleResponsiveSet(context.Background(), mustTask(t, queue.ResponsiveSetPayload{
		JobID:      "job-2",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: hook.server.URL,
		ObjectKey:  inputPath,
	}))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for a rejected source, got %v", err)
	}
	if !errors.Is(err, pipeline.ErrImageSize) {
		t.Fatalf("expected image size error in chain, got %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-2")
	if job.Status != domain.JobStatusFailed || job.Error == "" {
		t.Fatalf("expected failed job with reason, got %+v", job)
	}

	event := hook.last(t)
	if event.name != webhook.EventJobFailed || event.body["error_kind"] != string(pipeline.KindImageSize) {
		t.Fatalf("unexpected failure webhook %s %v", event.name, event.body)
	}
}

func TestHandleResponsiveSetRejectsMalformedPayload(t *testing.T) {
	s := newTestServer(t, t.TempDir(), store.NewMemoryJobStore())

	err := s.handleResponsiveSet(context.Background(), asynq.NewTask(queue.TypeGenerateResponsiveSet, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestRecordUsageKeepsNegativeBytesSaved(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), queue.ResponsiveSetPayload{JobID: "job-3"}, pipeline.JobResult{
		SourceBytes: 100,
		Outputs: []pipeline.Output{
			{Width: 5, Height: 5, Bytes: 200},
		},
	}, 0)

	if !usageStore.called {
		t.Fatal("expected usage log to be written")
	}
	if usageStore.log.BytesSaved != -100 {
		t.Fatalf("expected bytes_saved=-100, got %d", usageStore.log.BytesSaved)
	}
	if usageStore.log.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %s", usageStore.log.UserID)
	}
	if usageStore.log.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usageStore.log.ComputeTimeMS)
	}
}

func newTestServer(t *testing.T, outputDir string, jobStore *store.MemoryJobStore) *Server {
	t.Helper()

	processor, err := pipeline.NewProcessor(nil, pipeline.DefaultLimits())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	runner, err := pipeline.NewLocalJobRunner(processor, outputDir)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return newServer(log.New(io.Discard, "", 0), 1, runner, runner, jobStore, jobStore)
}

func seedJob(t *testing.T, s *store.MemoryJobStore, id, userID string) {
	t.Helper()

	now := time.Now().UTC()
	if err := s.Create(context.Background(), domain.Job{
		ID:         id,
		UserID:     userID,
		Status:     domain.JobStatusQueued,
		SourceType: domain.SourceTypeLocalFile,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func mustTask(t *testing.T, payload queue.ResponsiveSetPayload) *asynq.Task {
	t.Helper()

	task, err := queue.NewResponsiveSetTask(payload)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: 160, B: uint8(y % 256), A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type webhookEvent struct {
	name string
	body map[string]any
}

type webhookRecorder struct {
	server *httptest.Server
	mu     sync.Mutex
	events []webhookEvent
}

func newWebhookRecorder(t *testing.T) *webhookRecorder {
	t.Helper()

	r := &webhookRecorder{}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.mu.Lock()
		r.events = append(r.events, webhookEvent{name: req.Header.Get(webhook.HeaderEvent), body: body})
		r.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *webhookRecorder) last(t *testing.T) webhookEvent {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatal("expected a webhook delivery")
	}
	return r.events[len(r.events)-1]
}

type captureUsageStore struct {
	called bool
	log    domain.UsageLog
}

func (s *captureUsageStore) RecordUsage(_ context.Context, usage domain.UsageLog) error {
	s.called = true
	s.log = usage
	return nil
}

func (s *captureUsageStore) UsageSummary(_ context.Context, userID string) (store.UsageSummary, error) {
	return store.UsageSummary{UserID: userID}, nil
}
