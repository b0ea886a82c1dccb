package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
)

// Redispatcher puts a due task back on the queue.
type Redispatcher interface {
	Redispatch(ctx context.Context, due domain.DueTask) error
}

// SweepOptions configures a RetrySweeper.
type SweepOptions struct {
	Tasks        domain.TaskRepository
	Dispatcher   Redispatcher
	Locker       *redislock.Client
	PendingGrace time.Duration
	BatchSize    int
	LockTTL      time.Duration
	Logger       *infra.Logger
	Now          func() time.Time
}

// SweepReport summarizes one retry sweep.
type SweepReport struct {
	Due        int
	Dispatched int
	Failed     int
}

// RetrySweeper re-enqueues rate-limited tasks whose retry_after elapsed and
// pending tasks whose first dispatch was lost.
type RetrySweeper struct {
	opts SweepOptions
}

func NewRetrySweeper(opts SweepOptions) (*RetrySweeper, error) {
	if opts.Tasks == nil || opts.Dispatcher == nil {
		return nil, errors.New("reaper: tasks and dispatcher are required")
	}
	if opts.PendingGrace <= 0 {
		opts.PendingGrace = 2 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = infra.DiscardLogger()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &RetrySweeper{opts: opts}, nil
}

func (s *RetrySweeper) Run(ctx context.Context) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "RetrySweeper.Run")
	defer span.End()

	var rep SweepReport
	release, err := obtain(ctx, s.opts.Locker, sweepLockKey, s.opts.LockTTL)
	if err != nil {
		return rep, err
	}
	defer release()

	now := s.opts.Now()
	due, err := s.opts.Tasks.ListDue(ctx, now, now.Add(-s.opts.PendingGrace), s.opts.BatchSize)
	if err != nil {
		span.RecordError(err)
		return rep, err
	}
	rep.Due = len(due)
	for _, d := range due {
		if err := s.opts.Dispatcher.Redispatch(ctx, d); err != nil {
			rep.Failed++
			s.opts.Logger.Warn().Err(err).Str("task_id", d.TaskID).Str("job_id", d.JobID).Msg("sweep: redispatch failed")
			continue
		}
		rep.Dispatched++
	}
	if rep.Due > 0 {
		s.opts.Logger.Info().Int("due", rep.Due).Int("dispatched", rep.Dispatched).Msg("sweep: retries dispatched")
	}
	return rep, nil
}
