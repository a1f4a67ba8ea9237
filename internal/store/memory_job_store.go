package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cannaai/pixelprep/internal/domain"
	"github.com/cannaai/pixelprep/internal/pipeline"
)

// MemoryJobStore keeps jobs and usage logs in process memory. It backs the
// API when no database is configured and the tests.
type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.Job
	usage []domain.UsageLog
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return cloneJob(job), true, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) Complete(_ context.Context, id, status string, outputs []pipeline.Output, errMsg string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.Outputs = slices.Clone(outputs)
	job.Error = errMsg
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) RecordUsage(_ context.Context, usage domain.UsageLog) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.usage {
		if existing.JobID == usage.JobID {
			return fmt.Errorf("%w: %s", ErrUsageRecorded, usage.JobID)
		}
	}
	s.usage = append(s.usage, usage)
	return nil
}

func (s *MemoryJobStore) UsageSummary(_ context.Context, userID string) (UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := UsageSummary{UserID: userID}
	for _, u := range s.usage {
		if u.UserID != userID {
			continue
		}
		summary.Jobs++
		summary.PixelsProcessed += u.PixelsProcessed
		summary.BytesSaved += u.BytesSaved
		summary.ComputeTimeMS += u.ComputeTimeMS
	}
	return summary, nil
}

// cloneJob copies the slices so callers cannot mutate stored state.
func cloneJob(job domain.Job) domain.Job {
	job.Targets = slices.Clone(job.Targets)
	job.Outputs = slices.Clone(job.Outputs)
	return job
}
