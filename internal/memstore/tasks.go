package memstore

import (
	"context"
	"sort"
	"time"

	"cardgen/internal/domain"
)

// Tasks implements domain.TaskRepository.
type Tasks struct{ s *Store }

func (r Tasks) CreateBatch(ctx context.Context, tasks []domain.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailTaskCreate != nil {
		return r.s.FailTaskCreate
	}
	for _, t := range tasks {
		if t.Status == "" {
			t.Status = domain.TaskStatusPending
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = t.CreatedAt
		}
		r.s.tasks[t.ID] = t
	}
	return nil
}

func (r Tasks) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (r Tasks) ListByJob(ctx context.Context, jobID string) ([]domain.Task, error) {
	return r.s.TasksOf(jobID), nil
}

func (r Tasks) Claim(ctx context.Context, taskID string, now time.Time) (*domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotClaimable
	}
	due := t.Status == domain.TaskStatusPending ||
		(t.Status == domain.TaskStatusRetrying && (t.RetryAfter == nil || !t.RetryAfter.After(now)))
	if !due {
		return nil, domain.ErrTaskNotClaimable
	}
	t.Status = domain.TaskStatusProcessing
	t.UpdatedAt = now
	r.s.tasks[taskID] = t
	return &t, nil
}

func (r Tasks) update(taskID string, fn func(t *domain.Task)) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok || t.Status.Terminal() {
		return
	}
	fn(&t)
	r.s.tasks[taskID] = t
}

func (r Tasks) Complete(ctx context.Context, taskID string, result domain.TaskResult, at time.Time) error {
	r.update(taskID, func(t *domain.Task) {
		t.Status = domain.TaskStatusCompleted
		t.ResultURL = result.ResultURL
		t.StoragePath = result.StoragePath
		t.ResultText = result.ResultText
		t.LastError = ""
		t.UpdatedAt = at
		done := at
		t.CompletedAt = &done
	})
	return nil
}

func (r Tasks) Fail(ctx context.Context, taskID, lastErr string, at time.Time) error {
	r.update(taskID, func(t *domain.Task) {
		t.Status = domain.TaskStatusFailed
		t.LastError = lastErr
		t.UpdatedAt = at
		done := at
		t.CompletedAt = &done
	})
	return nil
}

func (r Tasks) MarkRetrying(ctx context.Context, taskID string, retryAfter time.Time, lastErr string, at time.Time) error {
	r.update(taskID, func(t *domain.Task) {
		t.Status = domain.TaskStatusRetrying
		t.RetryCount++
		ra := retryAfter
		t.RetryAfter = &ra
		t.LastError = lastErr
		t.UpdatedAt = at
	})
	return nil
}

func (r Tasks) SetExternal(ctx context.Context, taskID, externalID, externalStatus string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	if externalID != "" {
		t.ExternalTaskID = externalID
	}
	t.ExternalStatus = externalStatus
	r.s.tasks[taskID] = t
	return nil
}

func (r Tasks) FailIncomplete(ctx context.Context, jobID, lastErr string, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for id, t := range r.s.tasks {
		if t.JobID != jobID || t.Status.Terminal() {
			continue
		}
		t.Status = domain.TaskStatusFailed
		t.LastError = lastErr
		t.UpdatedAt = at
		done := at
		t.CompletedAt = &done
		r.s.tasks[id] = t
		n++
	}
	return n, nil
}

func (r Tasks) Counts(ctx context.Context, jobID string) (domain.TaskCounts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var c domain.TaskCounts
	for _, t := range r.s.tasks {
		if t.JobID != jobID {
			continue
		}
		c.Total++
		switch t.Status {
		case domain.TaskStatusCompleted:
			c.Completed++
		case domain.TaskStatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (r Tasks) ListDue(ctx context.Context, now, pendingBefore time.Time, limit int) ([]domain.DueTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	type candidate struct {
		due     domain.DueTask
		updated time.Time
	}
	var cands []candidate
	for _, t := range r.s.tasks {
		j, ok := r.s.jobs[t.JobID]
		if !ok || j.Status.Terminal() {
			continue
		}
		retryDue := t.Status == domain.TaskStatusRetrying && t.RetryAfter != nil && !t.RetryAfter.After(now)
		pendingDue := t.Status == domain.TaskStatusPending && t.UpdatedAt.Before(pendingBefore)
		if !retryDue && !pendingDue {
			continue
		}
		cands = append(cands, candidate{
			due:     domain.DueTask{TaskID: t.ID, JobID: t.JobID, Kind: j.Kind, Status: t.Status},
			updated: t.UpdatedAt,
		})
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].updated.Before(cands[b].updated) })
	out := make([]domain.DueTask, 0, len(cands))
	for _, c := range cands {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, c.due)
	}
	return out, nil
}

var _ domain.TaskRepository = Tasks{}
