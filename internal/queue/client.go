package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queue:     queueName,
	}
}

// EnqueueResponsiveSet uses the job id as the task id, so starting a job that
// is still pending or running fails with asynq.ErrTaskIDConflict. A task left
// archived, completed or waiting to retry by an earlier attempt is deleted
// first so a failed job can be started again.
func (c *Client) EnqueueResponsiveSet(ctx context.Context, payload ResponsiveSetPayload) (*asynq.TaskInfo, error) {
	task, err := NewResponsiveSetTask(payload)
	if err != nil {
		return nil, err
	}

	info, err := c.enqueue(ctx, task, payload.JobID)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return info, err
	}

	existing, err := c.inspector.GetTaskInfo(c.queue, payload.JobID)
	if err != nil {
		return nil, fmt.Errorf("inspect previous task %s: %w", payload.JobID, err)
	}
	switch existing.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted, asynq.TaskStateRetry:
		if err := c.inspector.DeleteTask(c.queue, payload.JobID); err != nil {
			return nil, fmt.Errorf("delete previous task %s: %w", payload.JobID, err)
		}
		return c.enqueue(ctx, task, payload.JobID)
	default:
		return nil, fmt.Errorf("%w: task %s is %s", asynq.ErrTaskIDConflict, payload.JobID, existing.State)
	}
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, taskID string) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(taskID),
		asynq.MaxRetry(5),
		asynq.Timeout(3*time.Minute),
	)
}

func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}
