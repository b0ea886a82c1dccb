// Package status answers client polls for job progress and drives async video
// tasks forward on demand.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/providers"
	"cardgen/internal/settle"
	"cardgen/internal/storage"
)

var tracer = otel.Tracer("cardgen.status")

const videoContentType = "video/mp4"

// Fetcher downloads a provider-hosted result.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, string, error)
}

// Settler finalizes a job once its task is terminal.
type Settler interface {
	Settle(ctx context.Context, jobID string, cause settle.Cause) (settle.Result, error)
}

// Options wires a Service.
type Options struct {
	Jobs          domain.JobRepository
	Tasks         domain.TaskRepository
	Providers     *providers.Registry
	Settler       Settler
	Store         storage.Store
	Fetcher       Fetcher
	PollTimeout   time.Duration
	MirrorTimeout time.Duration
	Logger        *infra.Logger
	Now           func() time.Time
}

// VideoStatus is the client view of an async job.
type VideoStatus struct {
	Status       domain.JobStatus `json:"status"`
	ResultURL    string           `json:"result_url,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Service serves the read side of the pipeline.
type Service struct {
	jobs          domain.JobRepository
	tasks         domain.TaskRepository
	providers     *providers.Registry
	settler       Settler
	store         storage.Store
	fetcher       Fetcher
	pollTimeout   time.Duration
	mirrorTimeout time.Duration
	logger        *infra.Logger
	now           func() time.Time
}

func New(opts Options) (*Service, error) {
	if opts.Jobs == nil || opts.Tasks == nil {
		return nil, errors.New("status: repositories are required")
	}
	if opts.Providers == nil || opts.Settler == nil {
		return nil, errors.New("status: providers and settler are required")
	}
	s := &Service{
		jobs:          opts.Jobs,
		tasks:         opts.Tasks,
		providers:     opts.Providers,
		settler:       opts.Settler,
		store:         opts.Store,
		fetcher:       opts.Fetcher,
		pollTimeout:   opts.PollTimeout,
		mirrorTimeout: opts.MirrorTimeout,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if s.pollTimeout <= 0 {
		s.pollTimeout = 20 * time.Second
	}
	if s.mirrorTimeout <= 0 {
		s.mirrorTimeout = 2 * time.Minute
	}
	if s.logger == nil {
		s.logger = infra.DiscardLogger()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// ListActiveJobs returns the user's unfinished jobs, newest first.
func (s *Service) ListActiveJobs(ctx context.Context, userID string) ([]domain.JobSummary, error) {
	items, err := s.jobs.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("status: list active: %w", err)
	}
	return items, nil
}

// PollVideoTask reports the state of an async job, polling the provider while
// the job is open. Once the job is terminal the answer is read from storage
// and nothing is mutated.
func (s *Service) PollVideoTask(ctx context.Context, jobID, userID string) (VideoStatus, error) {
	ctx, span := tracer.Start(ctx, "Status.PollVideoTask", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	job, err := s.jobs.GetForUser(ctx, jobID, userID)
	if err != nil {
		return VideoStatus{}, fmt.Errorf("status: load job: %w", err)
	}
	if !job.Kind.Async() {
		return VideoStatus{}, domain.ErrNotAsync
	}
	task, err := s.videoTask(ctx, job.ID)
	if err != nil {
		return VideoStatus{}, err
	}
	if job.Status.Terminal() {
		return view(job, task), nil
	}
	if task.Status.Terminal() {
		// Worker finished the task but settlement has not landed yet.
		return s.settle(ctx, job.ID)
	}
	if task.ExternalTaskID == "" {
		return VideoStatus{Status: job.Status}, nil
	}

	provider, err := s.providers.Async(job.Provider)
	if err != nil {
		return VideoStatus{}, fmt.Errorf("status: %w", err)
	}
	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	res, err := provider.PollAsync(pollCtx, providers.Handle{
		Provider:   job.Provider,
		ExternalID: task.ExternalTaskID,
		Status:     task.ExternalStatus,
	})
	cancel()
	if err != nil {
		return s.pollFailure(ctx, job, task, err)
	}
	span.SetAttributes(attribute.String("provider.phase", string(res.Phase)))

	switch res.Phase {
	case providers.PhaseSucceeded:
		result := s.mirror(ctx, job, task, res.ResultURL)
		if err := s.tasks.Complete(context.WithoutCancel(ctx), task.ID, result, s.now()); err != nil {
			return VideoStatus{}, fmt.Errorf("status: complete task: %w", err)
		}
		s.logger.Info().Str("job_id", job.ID).Str("result_url", result.ResultURL).Msg("status: video ready")
		return s.settle(ctx, job.ID)
	case providers.PhaseFailed:
		msg := res.ErrorMessage
		if msg == "" {
			msg = "video generation failed"
		}
		if err := s.tasks.Fail(context.WithoutCancel(ctx), task.ID, providers.Truncate(msg, 500), s.now()); err != nil {
			return VideoStatus{}, fmt.Errorf("status: fail task: %w", err)
		}
		s.logger.Warn().Str("job_id", job.ID).Str("reason", msg).Msg("status: provider reported failure")
		return s.settle(ctx, job.ID)
	default:
		if res.RawStatus != "" && res.RawStatus != task.ExternalStatus {
			if err := s.tasks.SetExternal(ctx, task.ID, "", res.RawStatus); err != nil {
				s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("status: external status not saved")
			}
		}
		return VideoStatus{Status: job.Status}, nil
	}
}

// pollFailure leaves the job open on transient errors and fails it otherwise.
func (s *Service) pollFailure(ctx context.Context, job *domain.Job, task *domain.Task, err error) (VideoStatus, error) {
	if _, ok := providers.AsRateLimited(err); ok || providers.IsTimeout(err) || ctx.Err() != nil {
		s.logger.Debug().Err(err).Str("job_id", job.ID).Msg("status: poll deferred")
		return VideoStatus{Status: job.Status}, nil
	}
	msg := providers.Truncate("poll: "+err.Error(), 500)
	if ferr := s.tasks.Fail(context.WithoutCancel(ctx), task.ID, msg, s.now()); ferr != nil {
		return VideoStatus{}, fmt.Errorf("status: fail task: %w", ferr)
	}
	s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("status: poll failed, failing job")
	return s.settle(ctx, job.ID)
}

// mirror copies the provider result into durable storage and falls back to
// the provider URL when that is not possible.
func (s *Service) mirror(ctx context.Context, job *domain.Job, task *domain.Task, url string) domain.TaskResult {
	fallback := domain.TaskResult{ResultURL: url}
	if s.store == nil || s.fetcher == nil || url == "" {
		return fallback
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mirrorTimeout)
	defer cancel()

	data, ct, err := s.fetcher.Get(ctx, url)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("status: mirror download failed")
		return fallback
	}
	if !strings.HasPrefix(ct, "video/") {
		ct = videoContentType
	}
	key := storage.ObjectKey(job.UserID, job.ID, task.UnitIndex, task.UnitType, ct)
	stored, err := s.store.Put(ctx, key, data, ct)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("status: mirror upload failed")
		return fallback
	}
	return domain.TaskResult{ResultURL: stored, StoragePath: key}
}

func (s *Service) settle(ctx context.Context, jobID string) (VideoStatus, error) {
	if _, err := s.settler.Settle(context.WithoutCancel(ctx), jobID, settle.CauseTasksDone); err != nil {
		return VideoStatus{}, fmt.Errorf("status: settle: %w", err)
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return VideoStatus{}, fmt.Errorf("status: reload job: %w", err)
	}
	task, err := s.videoTask(ctx, jobID)
	if err != nil {
		return VideoStatus{}, err
	}
	return view(job, task), nil
}

func (s *Service) videoTask(ctx context.Context, jobID string) (*domain.Task, error) {
	tasks, err := s.tasks.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("status: load tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("status: job %s has no tasks: %w", jobID, domain.ErrNotFound)
	}
	return &tasks[0], nil
}

func view(job *domain.Job, task *domain.Task) VideoStatus {
	v := VideoStatus{Status: job.Status}
	if !job.Status.Terminal() {
		return v
	}
	if task.Status == domain.TaskStatusCompleted {
		v.ResultURL = task.ResultURL
	}
	if job.Status == domain.JobStatusFailed {
		v.ErrorMessage = job.ErrorMessage
		if v.ErrorMessage == "" {
			v.ErrorMessage = task.LastError
		}
	}
	return v
}
