package memstore

import (
	"context"
	"sort"
	"time"

	"cardgen/internal/domain"
)

// Jobs implements domain.JobRepository.
type Jobs struct{ s *Store }

func (r Jobs) Create(ctx context.Context, job *domain.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailJobCreate != nil {
		return r.s.FailJobCreate
	}
	r.s.jobs[job.ID] = *job
	return nil
}

func (r Jobs) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &j, nil
}

func (r Jobs) GetForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	j, err := r.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (r Jobs) LockForUpdate(ctx context.Context, jobID string) (*domain.Job, error) {
	return r.Get(ctx, jobID)
}

func (r Jobs) MarkStarted(ctx context.Context, jobID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[jobID]
	if !ok || j.Status.Terminal() {
		return nil
	}
	j.Status = domain.JobStatusProcessing
	if j.StartedAt == nil {
		started := at
		j.StartedAt = &started
	}
	r.s.jobs[jobID] = j
	return nil
}

func (r Jobs) Finalize(ctx context.Context, jobID string, status domain.JobStatus, errMsg string, refunded int, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.FailFinalizeFor[jobID]; err != nil {
		return err
	}
	j, ok := r.s.jobs[jobID]
	if !ok || j.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	j.Status = status
	j.ErrorMessage = errMsg
	j.TokensRefunded += refunded
	done := at
	j.CompletedAt = &done
	r.s.jobs[jobID] = j
	return nil
}

func (r Jobs) ListActive(ctx context.Context, userID string) ([]domain.JobSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := make([]domain.JobSummary, 0)
	for _, j := range r.s.jobs {
		if j.UserID != userID || j.Status.Terminal() {
			continue
		}
		completed := 0
		for _, t := range r.s.tasksOfLocked(j.ID) {
			if t.Status == domain.TaskStatusCompleted {
				completed++
			}
		}
		items = append(items, domain.JobSummary{
			JobID:          j.ID,
			Kind:           j.Kind,
			Status:         j.Status,
			CompletedUnits: completed,
			TotalUnits:     j.TotalUnits,
			CreatedAt:      j.CreatedAt,
		})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].CreatedAt.After(items[b].CreatedAt) })
	return items, nil
}

func (r Jobs) ListStale(ctx context.Context, q domain.StaleQuery) ([]domain.Job, error) {
	if r.s.ListStaleHook != nil {
		r.s.ListStaleHook()
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Job
	for _, j := range r.s.jobs {
		if j.Status.Terminal() {
			continue
		}
		clock := j.CreatedAt
		if j.StartedAt != nil {
			clock = *j.StartedAt
		}
		cutoff := q.Cutoff
		if j.Kind == domain.JobKindVideo {
			cutoff = q.VideoCutoff
		}
		if clock.Before(cutoff) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

var _ domain.JobRepository = Jobs{}
