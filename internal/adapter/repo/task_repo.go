package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/sqlinline"
)

// TaskRepositoryPG implements domain.TaskRepository.
type TaskRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewTaskRepository(sql infra.SQLExecutor) *TaskRepositoryPG {
	return &TaskRepositoryPG{sql: sql}
}

// CreateBatch inserts all tasks of one job in a single statement.
func (r *TaskRepositoryPG) CreateBatch(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, len(tasks))
	indexes := make([]int32, len(tasks))
	types := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
		indexes[i] = int32(t.UnitIndex)
		types[i] = t.UnitType
	}
	createdAt := tasks[0].CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertTasks, tasks[0].JobID, ids, indexes, types, createdAt)
	return err
}

func (r *TaskRepositoryPG) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	return scanTask(r.sql.QueryRow(ctx, sqlinline.QSelectTask, taskID))
}

func (r *TaskRepositoryPG) ListByJob(ctx context.Context, jobID string) ([]domain.Task, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListTasksByJob, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepositoryPG) Claim(ctx context.Context, taskID string, now time.Time) (*domain.Task, error) {
	t, err := scanTask(r.sql.QueryRow(ctx, sqlinline.QClaimTask, taskID, now))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrTaskNotClaimable
	}
	return t, err
}

func (r *TaskRepositoryPG) Complete(ctx context.Context, taskID string, result domain.TaskResult, at time.Time) error {
	_, err := r.sql.Exec(ctx, sqlinline.QCompleteTask, taskID, result.ResultURL, result.StoragePath, result.ResultText, at)
	return err
}

func (r *TaskRepositoryPG) Fail(ctx context.Context, taskID, lastErr string, at time.Time) error {
	_, err := r.sql.Exec(ctx, sqlinline.QFailTask, taskID, lastErr, at)
	return err
}

func (r *TaskRepositoryPG) MarkRetrying(ctx context.Context, taskID string, retryAfter time.Time, lastErr string, at time.Time) error {
	_, err := r.sql.Exec(ctx, sqlinline.QMarkTaskRetrying, taskID, retryAfter, lastErr, at)
	return err
}

func (r *TaskRepositoryPG) SetExternal(ctx context.Context, taskID, externalID, externalStatus string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QSetTaskExternal, taskID, externalID, externalStatus)
	return err
}

func (r *TaskRepositoryPG) FailIncomplete(ctx context.Context, jobID, lastErr string, at time.Time) (int, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailIncompleteTasks, jobID, lastErr, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *TaskRepositoryPG) Counts(ctx context.Context, jobID string) (domain.TaskCounts, error) {
	var c domain.TaskCounts
	err := r.sql.QueryRow(ctx, sqlinline.QCountTasks, jobID).Scan(&c.Total, &c.Completed, &c.Failed)
	return c, err
}

func (r *TaskRepositoryPG) ListDue(ctx context.Context, now, pendingBefore time.Time, limit int) ([]domain.DueTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListDueTasks, now, pendingBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []domain.DueTask
	for rows.Next() {
		var d domain.DueTask
		if err := rows.Scan(&d.TaskID, &d.JobID, &d.Kind, &d.Status); err != nil {
			return nil, err
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	if err := row.Scan(
		&t.ID,
		&t.JobID,
		&t.UnitIndex,
		&t.UnitType,
		&t.Status,
		&t.ResultURL,
		&t.StoragePath,
		&t.ResultText,
		&t.ExternalTaskID,
		&t.ExternalStatus,
		&t.RetryCount,
		&t.RetryAfter,
		&t.LastError,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

var _ domain.TaskRepository = (*TaskRepositoryPG)(nil)
