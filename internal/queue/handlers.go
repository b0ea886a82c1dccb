package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"cardgen/internal/infra"
	"cardgen/internal/processor"
	"cardgen/internal/settle"
)

// TaskRunner executes generation tasks.
type TaskRunner interface {
	Process(ctx context.Context, taskID string) (processor.Outcome, error)
	DispatchAsync(ctx context.Context, taskID string) (processor.Outcome, error)
}

// JobSettler finalizes jobs.
type JobSettler interface {
	Settle(ctx context.Context, jobID string, cause settle.Cause) (settle.Result, error)
}

// SettleEnqueuer schedules settlement.
type SettleEnqueuer interface {
	EnqueueSettle(ctx context.Context, jobID string) error
}

// HandlerOptions wires the worker handlers.
type HandlerOptions struct {
	Runner   TaskRunner
	Settler  JobSettler
	Enqueuer SettleEnqueuer
	Reap     func(ctx context.Context) error
	Sweep    func(ctx context.Context) error
	Logger   *infra.Logger
}

// Handlers serves every task type.
type Handlers struct {
	opts   HandlerOptions
	logger *infra.Logger
}

func NewHandlers(opts HandlerOptions) *Handlers {
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Handlers{opts: opts, logger: logger}
}

// Register binds the handlers on mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeProcessTask, h.HandleProcess)
	mux.HandleFunc(TypeDispatchAsync, h.HandleDispatchAsync)
	mux.HandleFunc(TypeSettleJob, h.HandleSettle)
	mux.HandleFunc(TypeReap, h.HandleReap)
	mux.HandleFunc(TypeSweepRetries, h.HandleSweep)
}

func (h *Handlers) HandleProcess(ctx context.Context, t *asynq.Task) error {
	p, err := decode[TaskPayload](t)
	if err != nil {
		return err
	}
	out, err := h.opts.Runner.Process(ctx, p.TaskID)
	if err != nil {
		return fmt.Errorf("queue: process %s: %w", p.TaskID, err)
	}
	if out.Terminal() {
		h.requestSettle(ctx, out.JobID)
	}
	return nil
}

func (h *Handlers) HandleDispatchAsync(ctx context.Context, t *asynq.Task) error {
	p, err := decode[TaskPayload](t)
	if err != nil {
		return err
	}
	out, err := h.opts.Runner.DispatchAsync(ctx, p.TaskID)
	if err != nil {
		return fmt.Errorf("queue: dispatch %s: %w", p.TaskID, err)
	}
	if out.Terminal() {
		h.requestSettle(ctx, out.JobID)
	}
	return nil
}

func (h *Handlers) HandleSettle(ctx context.Context, t *asynq.Task) error {
	p, err := decode[JobPayload](t)
	if err != nil {
		return err
	}
	res, err := h.opts.Settler.Settle(ctx, p.JobID, settle.CauseTasksDone)
	if err != nil {
		return fmt.Errorf("queue: settle %s: %w", p.JobID, err)
	}
	if res.Pending {
		h.logger.Debug().Str("job_id", p.JobID).Msg("worker: job still has open tasks")
	}
	return nil
}

func (h *Handlers) HandleReap(ctx context.Context, _ *asynq.Task) error {
	if h.opts.Reap == nil {
		return nil
	}
	return h.opts.Reap(ctx)
}

func (h *Handlers) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	if h.opts.Sweep == nil {
		return nil
	}
	return h.opts.Sweep(ctx)
}

// requestSettle enqueues settlement and falls back to settling inline.
func (h *Handlers) requestSettle(ctx context.Context, jobID string) {
	if h.opts.Enqueuer != nil {
		err := h.opts.Enqueuer.EnqueueSettle(ctx, jobID)
		if err == nil {
			return
		}
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("worker: settle enqueue failed, settling inline")
	}
	if _, err := h.opts.Settler.Settle(ctx, jobID, settle.CauseTasksDone); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: inline settle failed")
	}
}
