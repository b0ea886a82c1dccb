package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// Enqueuer publishes generation and settlement work.
type Enqueuer struct {
	client      *asynq.Client
	taskTimeout time.Duration
	logger      *infra.Logger
}

// NewEnqueuer wraps client. taskTimeout bounds one processing attempt.
func NewEnqueuer(client *asynq.Client, taskTimeout time.Duration, logger *infra.Logger) *Enqueuer {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	if taskTimeout <= 0 {
		taskTimeout = 4 * time.Minute
	}
	return &Enqueuer{client: client, taskTimeout: taskTimeout, logger: logger}
}

// Dispatch enqueues the first attempt of a freshly created task.
func (e *Enqueuer) Dispatch(ctx context.Context, job *domain.Job, task domain.Task) error {
	return e.enqueueGeneration(ctx, task.ID, job.ID, job.Kind.Async())
}

// Redispatch enqueues a task found by the retry sweep.
func (e *Enqueuer) Redispatch(ctx context.Context, due domain.DueTask) error {
	return e.enqueueGeneration(ctx, due.TaskID, due.JobID, due.Kind.Async())
}

func (e *Enqueuer) enqueueGeneration(ctx context.Context, taskID, jobID string, async bool) error {
	t, err := NewGenerationTask(taskID, jobID, async, e.taskTimeout)
	if err != nil {
		return fmt.Errorf("queue: build task: %w", err)
	}
	info, err := e.client.EnqueueContext(ctx, t)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		e.logger.Debug().Str("task_id", taskID).Msg("queue: task already enqueued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", t.Type(), err)
	}
	e.logger.Debug().Str("task_id", taskID).Str("job_id", jobID).Str("asynq_id", info.ID).Msg("queue: task enqueued")
	return nil
}

// EnqueueSettle requests settlement of jobID.
func (e *Enqueuer) EnqueueSettle(ctx context.Context, jobID string) error {
	t, err := NewSettleTask(jobID)
	if err != nil {
		return fmt.Errorf("queue: build settle task: %w", err)
	}
	if _, err := e.client.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("queue: enqueue settle: %w", err)
	}
	return nil
}

// RegisterSchedules adds the periodic maintenance tasks to s.
func RegisterSchedules(s *asynq.Scheduler, reapEvery, sweepEvery time.Duration) error {
	entries := []struct {
		typ   string
		every time.Duration
	}{
		{TypeReap, reapEvery},
		{TypeSweepRetries, sweepEvery},
	}
	for _, entry := range entries {
		spec := fmt.Sprintf("@every %s", entry.every)
		t := asynq.NewTask(entry.typ, nil, asynq.Queue(QueueMaintenance), asynq.MaxRetry(0), asynq.Unique(entry.every))
		if _, err := s.Register(spec, t); err != nil {
			return fmt.Errorf("queue: schedule %s: %w", entry.typ, err)
		}
	}
	return nil
}
