// Package settle finalizes jobs: it fixes the terminal status, refunds every
// token not covered by a completed unit and records the user notification.
// The worker, the reaper and the status surface all settle through it.
package settle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cardgen/internal/analytics"
	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/ledger"
	"cardgen/internal/notify"
)

var tracer = otel.Tracer("cardgen.settle")

// Cause tells the settler why it is being asked to finalize a job.
type Cause string

const (
	// CauseTasksDone settles only when every task is terminal.
	CauseTasksDone Cause = "tasks_done"
	// CauseTimeout fails incomplete tasks first, then settles.
	CauseTimeout Cause = "timeout"
)

// Result describes what one Settle call did.
type Result struct {
	JobID           string
	Status          domain.JobStatus
	Settled         bool
	AlreadyTerminal bool
	Pending         bool
	Completed       int
	Total           int
	TimedOut        int
	Refunded        int
}

// Options wires a Settler.
type Options struct {
	Tx        domain.Transactor
	Composer  *notify.Composer
	Publisher notify.Publisher
	Tracker   analytics.Tracker
	Logger    *infra.Logger
	Now       func() time.Time
}

// Settler finalizes jobs inside one transaction each.
type Settler struct {
	tx        domain.Transactor
	composer  *notify.Composer
	publisher notify.Publisher
	tracker   analytics.Tracker
	logger    *infra.Logger
	now       func() time.Time
}

func New(opts Options) (*Settler, error) {
	if opts.Tx == nil {
		return nil, errors.New("settle: transactor is required")
	}
	if opts.Composer == nil {
		return nil, errors.New("settle: composer is required")
	}
	s := &Settler{
		tx:        opts.Tx,
		composer:  opts.Composer,
		publisher: opts.Publisher,
		tracker:   opts.Tracker,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.publisher == nil {
		s.publisher = notify.Nop{}
	}
	if s.tracker == nil {
		s.tracker = analytics.Nop{}
	}
	if s.logger == nil {
		s.logger = infra.DiscardLogger()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Settle finalizes jobID. It is idempotent: a terminal job is reported and
// left untouched, and refunds are computed from what was already returned.
func (s *Settler) Settle(ctx context.Context, jobID string, cause Cause) (Result, error) {
	ctx, span := tracer.Start(ctx, "Settler.Settle", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("cause", string(cause)),
	))
	defer span.End()

	var (
		res  Result
		job  domain.Job
		note domain.Notification
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		res = Result{JobID: jobID}
		locked, err := repos.Jobs.LockForUpdate(ctx, jobID)
		if err != nil {
			return fmt.Errorf("settle: lock job: %w", err)
		}
		job = *locked
		if job.Status.Terminal() {
			res.AlreadyTerminal = true
			res.Status = job.Status
			return nil
		}

		now := s.now()
		if cause == CauseTimeout {
			n, err := repos.Tasks.FailIncomplete(ctx, jobID, domain.TaskErrorTimeoutCleanup, now)
			if err != nil {
				return fmt.Errorf("settle: fail incomplete tasks: %w", err)
			}
			res.TimedOut = n
		}

		counts, err := repos.Tasks.Counts(ctx, jobID)
		if err != nil {
			return fmt.Errorf("settle: count tasks: %w", err)
		}
		res.Completed, res.Total = counts.Completed, counts.Total
		if counts.Incomplete() > 0 {
			res.Pending = true
			return nil
		}

		status := domain.JobStatusFailed
		if counts.Completed > 0 {
			status = domain.JobStatusCompleted
		}
		refund := job.RefundDue(counts.Completed)
		if refund > 0 {
			l := ledger.New(repos.Balances, ledger.Options{Logger: s.logger})
			if err := l.Refund(ctx, job.UserID, refund, refundReason(job, cause), jobID); err != nil {
				return fmt.Errorf("settle: refund: %w", err)
			}
		}

		errMsg, err := failureMessage(ctx, repos.Tasks, jobID, counts, res.TimedOut)
		if err != nil {
			return err
		}
		if err := repos.Jobs.Finalize(ctx, jobID, status, errMsg, refund, now); err != nil {
			return fmt.Errorf("settle: finalize: %w", err)
		}

		note = s.composer.Compose(&job, notify.Outcome(counts.Completed, counts.Total), notify.Summary{
			Units:     counts.Total,
			Completed: counts.Completed,
			Refunded:  job.TokensRefunded + refund,
		})
		if err := repos.Notifications.Insert(ctx, &note); err != nil {
			return fmt.Errorf("settle: notify: %w", err)
		}

		res.Settled = true
		res.Status = status
		res.Refunded = refund
		return nil
	})
	if errors.Is(err, domain.ErrJobTerminal) {
		return Result{JobID: jobID, AlreadyTerminal: true}, nil
	}
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	if !res.Settled {
		return res, nil
	}

	span.SetAttributes(attribute.String("job.status", string(res.Status)), attribute.Int("tokens.refunded", res.Refunded))
	s.logger.Info().
		Str("job_id", jobID).
		Str("status", string(res.Status)).
		Str("cause", string(cause)).
		Int("completed", res.Completed).
		Int("total", res.Total).
		Int("refunded", res.Refunded).
		Msg("settle: job finalized")

	if err := s.publisher.Publish(ctx, note); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("settle: publish notification failed")
	}
	s.tracker.Track(job.UserID, analytics.EventJobSettled, map[string]any{
		"job_id":    jobID,
		"kind":      string(job.Kind),
		"status":    string(res.Status),
		"completed": res.Completed,
		"total":     res.Total,
		"refunded":  res.Refunded,
		"cause":     string(cause),
	})
	return res, nil
}

func refundReason(job domain.Job, cause Cause) string {
	switch {
	case cause == CauseTimeout:
		return domain.ReasonTimeoutRefund
	case job.Kind.Async():
		return domain.ReasonVideoFailRefund
	default:
		return domain.ReasonFailureRefund
	}
}

func failureMessage(ctx context.Context, tasks domain.TaskRepository, jobID string, counts domain.TaskCounts, timedOut int) (string, error) {
	if counts.Failed == 0 {
		return "", nil
	}
	if timedOut > 0 {
		return fmt.Sprintf("%s: %d of %d units did not finish in time", domain.TaskErrorTimeoutCleanup, timedOut, counts.Total), nil
	}
	if counts.Total == 1 {
		list, err := tasks.ListByJob(ctx, jobID)
		if err != nil {
			return "", fmt.Errorf("settle: load tasks: %w", err)
		}
		if len(list) == 1 && list[0].LastError != "" {
			return list[0].LastError, nil
		}
	}
	return fmt.Sprintf("%d of %d units failed", counts.Failed, counts.Total), nil
}
