package store

import (
	"context"
	"errors"

	"github.com/cannaai/pixelprep/internal/domain"
	"github.com/cannaai/pixelprep/internal/pipeline"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrUsageRecorded is returned when a usage log for the job already exists.
	ErrUsageRecorded = errors.New("usage already recorded for job")
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Complete stores the final status with the emitted outputs or the failure reason.
	Complete(ctx context.Context, id, status string, outputs []pipeline.Output, errMsg string) (domain.Job, error)
}

// UsageStore keeps at most one usage log per job id.
type UsageStore interface {
	RecordUsage(ctx context.Context, usage domain.UsageLog) error
	UsageSummary(ctx context.Context, userID string) (UsageSummary, error)
}

// UsageSummary totals a user's usage logs. BytesSaved keeps its sign.
type UsageSummary struct {
	UserID          string `json:"user_id"`
	Jobs            int64  `json:"jobs"`
	PixelsProcessed int64  `json:"pixels_processed"`
	BytesSaved      int64  `json:"bytes_saved"`
	ComputeTimeMS   int64  `json:"compute_time_ms"`
}
