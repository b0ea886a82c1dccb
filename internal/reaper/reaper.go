// Package reaper finalizes jobs that stopped making progress and hands due
// retries back to the queue.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/settle"
)

var tracer = otel.Tracer("cardgen.reaper")

const (
	reapLockKey  = "cardgen:lock:reaper"
	sweepLockKey = "cardgen:lock:retry-sweep"
)

// ErrLocked is returned when another instance holds the run lock.
var ErrLocked = errors.New("reaper: another run is in progress")

// Settler finalizes one job.
type Settler interface {
	Settle(ctx context.Context, jobID string, cause settle.Cause) (settle.Result, error)
}

// Options configures a Reaper.
type Options struct {
	Jobs            domain.JobRepository
	Settler         Settler
	Locker          *redislock.Client
	StaleAfter      time.Duration
	VideoStaleAfter time.Duration
	BatchSize       int
	LockTTL         time.Duration
	Logger          *infra.Logger
	Now             func() time.Time
}

// Report summarizes one sweep.
type Report struct {
	Scanned   int
	Finalized int
	Skipped   int
	Refunded  int
	Failed    int
}

// Reaper times out stale jobs.
type Reaper struct {
	jobs       domain.JobRepository
	settler    Settler
	locker     *redislock.Client
	staleAfter time.Duration
	videoAfter time.Duration
	batch      int
	lockTTL    time.Duration
	logger     *infra.Logger
	now        func() time.Time
}

func New(opts Options) (*Reaper, error) {
	if opts.Jobs == nil || opts.Settler == nil {
		return nil, errors.New("reaper: jobs and settler are required")
	}
	r := &Reaper{
		jobs:       opts.Jobs,
		settler:    opts.Settler,
		locker:     opts.Locker,
		staleAfter: opts.StaleAfter,
		videoAfter: opts.VideoStaleAfter,
		batch:      opts.BatchSize,
		lockTTL:    opts.LockTTL,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if r.staleAfter <= 0 {
		r.staleAfter = 10 * time.Minute
	}
	if r.videoAfter <= 0 {
		r.videoAfter = 3 * r.staleAfter
	}
	if r.batch <= 0 {
		r.batch = 100
	}
	if r.lockTTL <= 0 {
		r.lockTTL = 2 * time.Minute
	}
	if r.logger == nil {
		r.logger = infra.DiscardLogger()
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r, nil
}

// Run finalizes every job whose clock started before the stale threshold.
// A failure on one job is logged and the sweep moves on.
func (r *Reaper) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "Reaper.Run")
	defer span.End()

	var rep Report
	release, err := obtain(ctx, r.locker, reapLockKey, r.lockTTL)
	if err != nil {
		return rep, err
	}
	defer release()

	now := r.now()
	stale, err := r.jobs.ListStale(ctx, domain.StaleQuery{
		Cutoff:      now.Add(-r.staleAfter),
		VideoCutoff: now.Add(-r.videoAfter),
		Limit:       r.batch,
	})
	if err != nil {
		span.RecordError(err)
		return rep, fmt.Errorf("reaper: list stale: %w", err)
	}
	rep.Scanned = len(stale)

	for _, job := range stale {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, err := r.settler.Settle(ctx, job.ID, settle.CauseTimeout)
		if err != nil {
			rep.Failed++
			r.logger.Error().Err(err).Str("job_id", job.ID).Msg("reaper: cleanup failed")
			continue
		}
		if !res.Settled {
			rep.Skipped++
			continue
		}
		rep.Finalized++
		rep.Refunded += res.Refunded
		r.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(res.Status)).
			Int("timed_out", res.TimedOut).
			Int("refunded", res.Refunded).
			Msg("reaper: stale job finalized")
	}

	span.SetAttributes(
		attribute.Int("reaper.scanned", rep.Scanned),
		attribute.Int("reaper.finalized", rep.Finalized),
		attribute.Int("reaper.failed", rep.Failed),
	)
	if rep.Scanned > 0 {
		r.logger.Info().
			Int("scanned", rep.Scanned).
			Int("finalized", rep.Finalized).
			Int("failed", rep.Failed).
			Int("refunded", rep.Refunded).
			Msg("reaper: sweep done")
	}
	return rep, nil
}

// obtain takes a single-runner lock. A nil locker runs unguarded.
func obtain(ctx context.Context, locker *redislock.Client, key string, ttl time.Duration) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("reaper: obtain lock: %w", err)
	}
	return func() { _ = lock.Release(context.WithoutCancel(ctx)) }, nil
}
