// Package orchestrator turns a user request into a charged job with one task
// per unit and hands the tasks to the dispatcher.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"cardgen/internal/analytics"
	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/ledger"
	"cardgen/internal/notify"
)

var tracer = otel.Tracer("cardgen.orchestrator")

// PriceSource resolves the per-unit price of an operation.
type PriceSource interface {
	PriceFor(ctx context.Context, op domain.Operation) (int, error)
}

// Dispatcher hands a task to the processing side.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *domain.Job, task domain.Task) error
}

// ProviderCheck reports whether a provider can serve a job kind.
type ProviderCheck func(kind domain.JobKind, provider string) bool

// Options wires an Orchestrator.
type Options struct {
	Repos               domain.Repositories
	Tx                  domain.Transactor
	Pricing             PriceSource
	Dispatcher          Dispatcher
	Composer            *notify.Composer
	Publisher           notify.Publisher
	Tracker             analytics.Tracker
	DefaultProviders    map[domain.JobKind]string
	ProviderAvailable   ProviderCheck
	MaxUnits            int
	DispatchConcurrency int
	Logger              *infra.Logger
	Now                 func() time.Time
}

// Orchestrator creates jobs.
type Orchestrator struct {
	repos       domain.Repositories
	tx          domain.Transactor
	ledger      *ledger.Ledger
	pricing     PriceSource
	dispatcher  Dispatcher
	composer    *notify.Composer
	publisher   notify.Publisher
	tracker     analytics.Tracker
	defaults    map[domain.JobKind]string
	available   ProviderCheck
	maxUnits    int
	concurrency int
	logger      *infra.Logger
	now         func() time.Time
}

// CreateRequest is one user generation request.
type CreateRequest struct {
	UserID   string         `json:"user_id"`
	Kind     domain.JobKind `json:"kind"`
	Units    int            `json:"units"`
	Provider string         `json:"provider"`
	Locale   string         `json:"locale"`
	Payload  domain.Payload `json:"payload"`
}

func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Repos.Balances == nil || opts.Repos.Jobs == nil || opts.Repos.Tasks == nil || opts.Repos.Notifications == nil:
		return nil, errors.New("orchestrator: repositories are required")
	case opts.Tx == nil:
		return nil, errors.New("orchestrator: transactor is required")
	case opts.Pricing == nil:
		return nil, errors.New("orchestrator: pricing is required")
	case opts.Dispatcher == nil:
		return nil, errors.New("orchestrator: dispatcher is required")
	case opts.Composer == nil:
		return nil, errors.New("orchestrator: composer is required")
	}
	o := &Orchestrator{
		repos:       opts.Repos,
		tx:          opts.Tx,
		pricing:     opts.Pricing,
		dispatcher:  opts.Dispatcher,
		composer:    opts.Composer,
		publisher:   opts.Publisher,
		tracker:     opts.Tracker,
		defaults:    opts.DefaultProviders,
		available:   opts.ProviderAvailable,
		maxUnits:    opts.MaxUnits,
		concurrency: opts.DispatchConcurrency,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if o.logger == nil {
		o.logger = infra.DiscardLogger()
	}
	if o.publisher == nil {
		o.publisher = notify.Nop{}
	}
	if o.tracker == nil {
		o.tracker = analytics.Nop{}
	}
	if o.maxUnits <= 0 {
		o.maxUnits = len(domain.CardSlots)
	}
	if o.concurrency <= 0 {
		o.concurrency = 8
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	o.ledger = ledger.New(opts.Repos.Balances, ledger.Options{Logger: o.logger})
	return o, nil
}

// CreateJob validates, prices and charges the request, persists the job and
// its tasks and dispatches them without waiting for results.
func (o *Orchestrator) CreateJob(ctx context.Context, req CreateRequest) (domain.JobHandle, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.CreateJob", trace.WithAttributes(
		attribute.String("user.id", req.UserID),
		attribute.String("job.kind", string(req.Kind)),
		attribute.Int("job.units", req.Units),
	))
	defer span.End()

	if req.Provider == "" {
		req.Provider = o.defaults[req.Kind]
	}
	if err := o.validate(req); err != nil {
		return domain.JobHandle{}, err
	}

	price, err := o.pricing.PriceFor(ctx, req.Kind.Operation())
	if err != nil {
		span.RecordError(err)
		return domain.JobHandle{}, fmt.Errorf("orchestrator: price %s: %w", req.Kind.Operation(), err)
	}
	cost := price * req.Units

	available, err := o.ledger.Balance(ctx, req.UserID)
	if err != nil {
		return domain.JobHandle{}, fmt.Errorf("orchestrator: %w", err)
	}
	if available < cost {
		return domain.JobHandle{}, &domain.InsufficientTokensError{Required: cost, Available: available}
	}

	job := &domain.Job{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Kind:       req.Kind,
		Status:     domain.JobStatusPending,
		Provider:   req.Provider,
		Locale:     req.Locale,
		TotalUnits: req.Units,
		UnitPrice:  price,
		TokensCost: cost,
		Payload:    req.Payload,
		CreatedAt:  o.now(),
	}
	span.SetAttributes(attribute.String("job.id", job.ID))

	ok, err := o.ledger.Spend(ctx, req.UserID, cost, domain.ReasonJobCharge, job.ID)
	if err != nil {
		return domain.JobHandle{}, fmt.Errorf("orchestrator: %w", err)
	}
	if !ok {
		// Lost a race against a concurrent spend.
		left, _ := o.ledger.Balance(ctx, req.UserID)
		return domain.JobHandle{}, &domain.InsufficientTokensError{Required: cost, Available: left}
	}

	if err := o.repos.Jobs.Create(ctx, job); err != nil {
		span.RecordError(err)
		return domain.JobHandle{}, o.compensate(ctx, job, false, fmt.Errorf("create job: %w", err))
	}
	tasks := buildTasks(job)
	if err := o.repos.Tasks.CreateBatch(ctx, tasks); err != nil {
		span.RecordError(err)
		return domain.JobHandle{}, o.compensate(ctx, job, true, fmt.Errorf("create tasks: %w", err))
	}

	o.dispatch(ctx, job, tasks)
	o.notifyStarted(ctx, job)
	o.tracker.Track(job.UserID, analytics.EventJobCreated, map[string]any{
		"job_id":   job.ID,
		"kind":     string(job.Kind),
		"units":    job.TotalUnits,
		"provider": job.Provider,
		"tokens":   cost,
	})

	o.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", job.UserID).
		Str("kind", string(job.Kind)).
		Int("units", job.TotalUnits).
		Int("tokens", cost).
		Msg("orchestrator: job created")
	return domain.JobHandle{JobID: job.ID, Status: domain.JobStatusPending, TokensCharged: cost}, nil
}

func buildTasks(job *domain.Job) []domain.Task {
	tasks := make([]domain.Task, job.TotalUnits)
	for i := range tasks {
		tasks[i] = domain.Task{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			UnitIndex: i,
			UnitType:  domain.UnitTypeFor(job.Kind, i, job.Payload.UnitType),
			Status:    domain.TaskStatusPending,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.CreatedAt,
		}
	}
	return tasks
}

// compensate refunds the full charge. When the job row exists it is failed in
// the same transaction so a later settlement finds nothing left to refund.
func (o *Orchestrator) compensate(ctx context.Context, job *domain.Job, persisted bool, cause error) error {
	ctx = context.WithoutCancel(ctx)
	op := func() error {
		return o.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
			l := ledger.New(repos.Balances, ledger.Options{Logger: o.logger})
			if err := l.Refund(ctx, job.UserID, job.TokensCost, domain.ReasonCompensation, job.ID); err != nil {
				return err
			}
			if !persisted {
				return nil
			}
			return repos.Jobs.Finalize(ctx, job.ID, domain.JobStatusFailed, cause.Error(), job.TokensCost, o.now())
		})
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		o.logger.Error().
			Err(err).
			AnErr("cause", cause).
			Str("job_id", job.ID).
			Str("user_id", job.UserID).
			Int("tokens", job.TokensCost).
			Msg("orchestrator: compensating refund failed")
		return fmt.Errorf("orchestrator: %v; compensation failed: %w", cause, err)
	}
	o.logger.Warn().
		Err(cause).
		Str("job_id", job.ID).
		Int("refunded", job.TokensCost).
		Msg("orchestrator: job creation compensated")
	return &domain.CompensationError{Refunded: job.TokensCost, Cause: cause}
}

// dispatch hands tasks over concurrently. Failures leave tasks pending for the
// retry sweep and never undo the job.
func (o *Orchestrator) dispatch(ctx context.Context, job *domain.Job, tasks []domain.Task) {
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, task := range tasks {
		g.Go(func() error {
			if err := o.dispatcher.Dispatch(ctx, job, task); err != nil {
				o.logger.Warn().Err(err).Str("job_id", job.ID).Str("task_id", task.ID).Msg("orchestrator: dispatch failed")
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn().Str("job_id", job.ID).Msg("orchestrator: dispatch incomplete, tasks left for retry sweep")
	}
}

func (o *Orchestrator) notifyStarted(ctx context.Context, job *domain.Job) {
	note := o.composer.Compose(job, notify.EventStarted, notify.Summary{Units: job.TotalUnits, Charged: job.TokensCost})
	if err := o.repos.Notifications.Insert(ctx, &note); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: notification insert failed")
		return
	}
	if err := o.publisher.Publish(ctx, note); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: notification publish failed")
	}
}
