package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cannaai/pixelprep/internal/pipeline"
	"github.com/hibiken/asynq"
)

const TypeGenerateResponsiveSet = "image:responsive"

type ResponsiveSetPayload struct {
	JobID       string            `json:"job_id"`
	UserID      string            `json:"user_id,omitempty"`
	SourceType  string            `json:"source_type"`
	WebhookURL  string            `json:"webhook_url,omitempty"`
	ObjectKey   string            `json:"object_key"`
	Options     pipeline.Options  `json:"options"`
	Targets     []pipeline.Target `json:"targets"`
	RequestedAt time.Time         `json:"requested_at"`
}

func NewResponsiveSetTask(payload ResponsiveSetPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.JobID) == "" {
		return nil, fmt.Errorf("job_id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal responsive payload: %w", err)
	}
	return asynq.NewTask(TypeGenerateResponsiveSet, body), nil
}

func ParseResponsiveSetPayload(task *asynq.Task) (ResponsiveSetPayload, error) {
	var payload ResponsiveSetPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ResponsiveSetPayload{}, fmt.Errorf("unmarshal responsive payload: %w", err)
	}
	if strings.TrimSpace(payload.JobID) == "" {
		return ResponsiveSetPayload{}, fmt.Errorf("responsive payload missing job_id")
	}
	return payload, nil
}

// Request converts the payload into a pipeline job request.
func (p ResponsiveSetPayload) Request() pipeline.Request {
	return pipeline.Request{
		JobID:      p.JobID,
		SourceType: p.SourceType,
		ObjectKey:  p.ObjectKey,
		Targets:    p.Targets,
		Options:    p.Options,
	}
}
