// Package processor drives one task from claim to a per-task outcome. It never
// touches balances; settlement owns all refunds.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/media"
	"cardgen/internal/prompt"
	"cardgen/internal/providers"
	"cardgen/internal/storage"
)

var tracer = otel.Tracer("cardgen.processor")

const (
	// TimeoutRetryDelay is used when a provider call exceeds its deadline.
	TimeoutRetryDelay = 30 * time.Second
	maxLastError      = 500
)

// Fetcher downloads source assets.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, string, error)
}

// Options wires a Processor.
type Options struct {
	Jobs               domain.JobRepository
	Tasks              domain.TaskRepository
	Providers          *providers.Registry
	Prompts            *prompt.Catalog
	Store              storage.Store
	Fetcher            Fetcher
	MaxRetries         int
	ProviderTimeout    time.Duration
	SourceFetchTimeout time.Duration
	SourceMaxSide      int
	Logger             *infra.Logger
	Now                func() time.Time
}

// Processor executes generation units.
type Processor struct {
	jobs            domain.JobRepository
	tasks           domain.TaskRepository
	providers       *providers.Registry
	prompts         *prompt.Catalog
	store           storage.Store
	fetcher         Fetcher
	maxRetries      int
	providerTimeout time.Duration
	fetchTimeout    time.Duration
	maxSide         int
	logger          *infra.Logger
	now             func() time.Time
}

// Outcome is the state a task was left in.
type Outcome struct {
	TaskID  string
	JobID   string
	Status  domain.TaskStatus
	RetryAt time.Time
	Skipped bool
}

// Terminal reports whether the job may now be ready to settle.
func (o Outcome) Terminal() bool { return !o.Skipped && o.Status.Terminal() }

func New(opts Options) (*Processor, error) {
	switch {
	case opts.Jobs == nil || opts.Tasks == nil:
		return nil, errors.New("processor: repositories are required")
	case opts.Providers == nil:
		return nil, errors.New("processor: provider registry is required")
	case opts.Prompts == nil:
		return nil, errors.New("processor: prompt catalog is required")
	case opts.Store == nil || opts.Fetcher == nil:
		return nil, errors.New("processor: storage and fetcher are required")
	}
	p := &Processor{
		jobs:            opts.Jobs,
		tasks:           opts.Tasks,
		providers:       opts.Providers,
		prompts:         opts.Prompts,
		store:           opts.Store,
		fetcher:         opts.Fetcher,
		maxRetries:      opts.MaxRetries,
		providerTimeout: opts.ProviderTimeout,
		fetchTimeout:    opts.SourceFetchTimeout,
		maxSide:         opts.SourceMaxSide,
		logger:          opts.Logger,
		now:             opts.Now,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.providerTimeout <= 0 {
		p.providerTimeout = 3 * time.Minute
	}
	if p.fetchTimeout <= 0 {
		p.fetchTimeout = 30 * time.Second
	}
	if p.logger == nil {
		p.logger = infra.DiscardLogger()
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p, nil
}

// Process runs a synchronous task end to end.
func (p *Processor) Process(ctx context.Context, taskID string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Processor.Process", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	task, job, skipped, err := p.claim(ctx, taskID)
	if err != nil || skipped {
		return Outcome{TaskID: taskID, Skipped: skipped}, err
	}
	log := p.logger.With().Str("job_id", job.ID).Str("task_id", task.ID).Str("unit_type", task.UnitType).Logger()
	log.Info().Int("retry_count", task.RetryCount).Msg("processor: picked task")

	req, err := p.buildRequest(ctx, job, task)
	if err != nil {
		return p.fail(ctx, task, err)
	}
	provider, err := p.providers.Sync(job.Provider)
	if err != nil {
		return p.fail(ctx, task, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.providerTimeout)
	out, err := provider.InvokeSync(callCtx, req)
	cancel()
	if err != nil {
		span.RecordError(err)
		return p.providerFailure(ctx, task, err)
	}

	result, err := p.persist(ctx, job, task, out)
	if err != nil {
		span.RecordError(err)
		return p.fail(ctx, task, err)
	}
	if err := p.tasks.Complete(context.WithoutCancel(ctx), task.ID, result, p.now()); err != nil {
		return Outcome{}, fmt.Errorf("processor: complete task: %w", err)
	}
	log.Info().Str("result_url", result.ResultURL).Msg("processor: task completed")
	return Outcome{TaskID: task.ID, JobID: job.ID, Status: domain.TaskStatusCompleted}, nil
}

// DispatchAsync submits an async task and stores its external handle. The task
// stays processing until a poll observes a final phase.
func (p *Processor) DispatchAsync(ctx context.Context, taskID string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Processor.DispatchAsync", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	task, job, skipped, err := p.claim(ctx, taskID)
	if err != nil || skipped {
		return Outcome{TaskID: taskID, Skipped: skipped}, err
	}
	req, err := p.buildRequest(ctx, job, task)
	if err != nil {
		return p.fail(ctx, task, err)
	}
	provider, err := p.providers.Async(job.Provider)
	if err != nil {
		return p.fail(ctx, task, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.providerTimeout)
	handle, err := provider.InvokeAsync(callCtx, req)
	cancel()
	if err != nil {
		span.RecordError(err)
		return p.providerFailure(ctx, task, err)
	}
	if err := p.tasks.SetExternal(context.WithoutCancel(ctx), task.ID, handle.ExternalID, handle.Status); err != nil {
		return Outcome{}, fmt.Errorf("processor: store external handle: %w", err)
	}
	p.logger.Info().
		Str("job_id", job.ID).
		Str("task_id", task.ID).
		Str("external_task_id", handle.ExternalID).
		Msg("processor: async task submitted")
	return Outcome{TaskID: task.ID, JobID: job.ID, Status: domain.TaskStatusProcessing}, nil
}

func (p *Processor) claim(ctx context.Context, taskID string) (*domain.Task, *domain.Job, bool, error) {
	now := p.now()
	task, err := p.tasks.Claim(ctx, taskID, now)
	if errors.Is(err, domain.ErrTaskNotClaimable) {
		p.logger.Debug().Str("task_id", taskID).Msg("processor: task not claimable, skipping")
		return nil, nil, true, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("processor: claim task: %w", err)
	}
	job, err := p.jobs.Get(ctx, task.JobID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("processor: load job: %w", err)
	}
	if err := p.jobs.MarkStarted(ctx, job.ID, now); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("processor: mark job started failed")
	}
	return task, job, false, nil
}

func (p *Processor) buildRequest(ctx context.Context, job *domain.Job, task *domain.Task) (providers.Request, error) {
	rendered, err := p.prompts.Render(job.Kind, task.UnitType, job.Provider, prompt.VarsFromPayload(job.Payload))
	if err != nil {
		return providers.Request{}, err
	}
	req := providers.Request{
		Prompt: rendered.Prompt,
		System: rendered.System,
		Params: providers.Params{Output: providers.OutputImage, AspectRatio: "3:4", RequestID: task.ID},
	}
	switch job.Kind {
	case domain.JobKindDescription:
		req.Params.Output = providers.OutputText
		req.Params.AspectRatio = ""
	case domain.JobKindVideo:
		req.Params.AspectRatio = "9:16"
	}

	src := job.Payload.PrimarySource()
	if src == "" {
		if job.Kind.RequiresSource() {
			return providers.Request{}, errors.New("processor: job has no source image")
		}
		return req, nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	data, _, err := p.fetcher.Get(fetchCtx, src)
	cancel()
	if err != nil {
		return providers.Request{}, err
	}
	img, err := media.Normalize(data, p.maxSide)
	if err != nil {
		return providers.Request{}, err
	}
	req.Source = &providers.Asset{
		Data:     img.Data,
		MIMEType: img.MIMEType,
		Filename: "source." + storage.ExtensionFor(img.MIMEType),
	}
	return req, nil
}

func (p *Processor) persist(ctx context.Context, job *domain.Job, task *domain.Task, out *providers.Output) (domain.TaskResult, error) {
	if out == nil {
		return domain.TaskResult{}, providers.ErrNoOutput
	}
	if out.Image != nil && len(out.Image.Data) > 0 {
		ct := out.Image.MIMEType
		if ct == "" {
			ct = media.Sniff(out.Image.Data)
		}
		key := storage.ObjectKey(job.UserID, job.ID, task.UnitIndex, task.UnitType, ct)
		url, err := p.store.Put(ctx, key, out.Image.Data, ct)
		if err != nil {
			return domain.TaskResult{}, err
		}
		return domain.TaskResult{ResultURL: url, StoragePath: key}, nil
	}
	if out.Text != "" {
		return domain.TaskResult{ResultText: out.Text}, nil
	}
	return domain.TaskResult{}, providers.ErrNoOutput
}

// providerFailure retries rate limits and timeouts until the retry budget is
// spent; every other error fails the task.
func (p *Processor) providerFailure(ctx context.Context, task *domain.Task, err error) (Outcome, error) {
	delay, transient := retryDelay(err)
	if !transient && ctx.Err() != nil {
		// Worker shutdown interrupted the call; hand the task back.
		delay, transient = TimeoutRetryDelay, true
	}
	if !transient {
		return p.fail(ctx, task, err)
	}
	if task.RetryCount >= p.maxRetries {
		return p.fail(ctx, task, fmt.Errorf("%s: %w", domain.TaskErrorRateLimitExhausted, err))
	}
	now := p.now()
	retryAt := now.Add(delay)
	msg := providers.Truncate(err.Error(), maxLastError)
	if err := p.tasks.MarkRetrying(context.WithoutCancel(ctx), task.ID, retryAt, msg, now); err != nil {
		return Outcome{}, fmt.Errorf("processor: mark retrying: %w", err)
	}
	p.logger.Warn().
		Str("job_id", task.JobID).
		Str("task_id", task.ID).
		Time("retry_after", retryAt).
		Int("retry_count", task.RetryCount+1).
		Msg("processor: task scheduled for retry")
	return Outcome{TaskID: task.ID, JobID: task.JobID, Status: domain.TaskStatusRetrying, RetryAt: retryAt}, nil
}

func (p *Processor) fail(ctx context.Context, task *domain.Task, cause error) (Outcome, error) {
	msg := providers.Truncate(cause.Error(), maxLastError)
	if err := p.tasks.Fail(context.WithoutCancel(ctx), task.ID, msg, p.now()); err != nil {
		return Outcome{}, fmt.Errorf("processor: fail task: %w", err)
	}
	p.logger.Warn().Err(cause).Str("job_id", task.JobID).Str("task_id", task.ID).Msg("processor: task failed")
	return Outcome{TaskID: task.ID, JobID: task.JobID, Status: domain.TaskStatusFailed}, nil
}

func retryDelay(err error) (time.Duration, bool) {
	if rl, ok := providers.AsRateLimited(err); ok {
		if rl.RetryAfter <= 0 {
			return providers.DefaultRetryAfter, true
		}
		return rl.RetryAfter, true
	}
	if providers.IsTimeout(err) {
		return TimeoutRetryDelay, true
	}
	return 0, false
}
