package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cannaai/pixelprep/internal/pipeline"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = pipeline.SourceTypeLocalFile
	SourceTypeS3Presigned = pipeline.SourceTypeS3Presigned

	MaxTargetsPerJob = 12
)

// CreateJobRequest asks for a responsive set of one uploaded photo. Preset
// is applied first, Options override it, and each target sets the bounds.
type CreateJobRequest struct {
	UserID     string            `json:"user_id,omitempty"`
	SourceType string            `json:"source_type"`
	WebhookURL string            `json:"webhook_url,omitempty"`
	ObjectKey  string            `json:"object_key,omitempty"`
	Preset     string            `json:"preset,omitempty"`
	Options    pipeline.Options  `json:"options,omitempty"`
	Targets    []pipeline.Target `json:"targets,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	ObjectKey  string
	Preset     string
	Options    pipeline.Options
	Targets    []pipeline.Target
	Outputs    []pipeline.Output
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if len(r.Targets) > MaxTargetsPerJob {
		return fmt.Errorf("at most %d targets are allowed", MaxTargetsPerJob)
	}

	seen := make(map[string]bool, len(r.Targets))
	for i, target := range r.Targets {
		name := strings.TrimSpace(target.Name)
		if name == "" {
			return fmt.Errorf("targets[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("targets[%d].name %q is duplicated", i, name)
		}
		seen[name] = true
		if target.Width < 0 || target.Height < 0 {
			return fmt.Errorf("targets[%d] dimensions must not be negative", i)
		}
		if target.Width == 0 && target.Height == 0 {
			return fmt.Errorf("targets[%d] needs a width or a height", i)
		}
	}
	if err := pipeline.CheckTargetNames(r.Targets); err != nil {
		return err
	}

	if _, err := r.ResolvedOptions(); err != nil {
		return err
	}
	return nil
}

// ResolvedOptions merges the named preset with the caller's options.
func (r CreateJobRequest) ResolvedOptions() (pipeline.Options, error) {
	base := pipeline.Options{}
	if strings.TrimSpace(r.Preset) != "" {
		preset, err := pipeline.PresetByName(r.Preset)
		if err != nil {
			return pipeline.Options{}, err
		}
		base = preset
	}

	merged := base.Merge(r.Options)
	if err := merged.Validate(); err != nil {
		return pipeline.Options{}, fmt.Errorf("options: %w", err)
	}
	return merged, nil
}

// EffectiveTargets falls back to the default responsive breakpoints.
func (j Job) EffectiveTargets() []pipeline.Target {
	if len(j.Targets) == 0 {
		return pipeline.DefaultResponsiveTargets()
	}
	return j.Targets
}
