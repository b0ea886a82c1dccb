// Package queue carries work between the API and the worker over asynq.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task types.
const (
	TypeProcessTask   = "task:process"
	TypeDispatchAsync = "task:dispatch_async"
	TypeSettleJob     = "job:settle"
	TypeReap          = "maintenance:reap"
	TypeSweepRetries  = "maintenance:sweep_retries"
)

// Queue names and their worker priorities.
const (
	QueueGeneration  = "generation"
	QueueSettlement  = "settlement"
	QueueMaintenance = "maintenance"
)

// Priorities weights queues for asynq.Config.Queues.
var Priorities = map[string]int{
	QueueSettlement:  6,
	QueueGeneration:  3,
	QueueMaintenance: 1,
}

// TaskPayload identifies one generation task.
type TaskPayload struct {
	TaskID string `json:"task_id"`
	JobID  string `json:"job_id"`
}

// JobPayload identifies one job.
type JobPayload struct {
	JobID string `json:"job_id"`
}

// NewGenerationTask builds the process or dispatch task for one unit. Retries
// belong to the retry sweep, so asynq never retries these on its own.
func NewGenerationTask(taskID, jobID string, async bool, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(TaskPayload{TaskID: taskID, JobID: jobID})
	if err != nil {
		return nil, err
	}
	typ := TypeProcessTask
	if async {
		typ = TypeDispatchAsync
	}
	return asynq.NewTask(typ, payload,
		asynq.Queue(QueueGeneration),
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
		asynq.Unique(timeout),
	), nil
}

// NewSettleTask builds a settlement request for a job.
func NewSettleTask(jobID string) (*asynq.Task, error) {
	payload, err := json.Marshal(JobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSettleJob, payload,
		asynq.Queue(QueueSettlement),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
	), nil
}

func decode[T any](t *asynq.Task) (T, error) {
	var v T
	if err := json.Unmarshal(t.Payload(), &v); err != nil {
		return v, fmt.Errorf("queue: decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return v, nil
}
