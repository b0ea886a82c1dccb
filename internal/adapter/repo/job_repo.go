package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	payload, err := job.MarshalPayload()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.UserID,
		string(job.Kind),
		string(job.Status),
		job.Provider,
		job.Locale,
		job.TotalUnits,
		job.UnitPrice,
		job.TokensCost,
		payload,
		job.CreatedAt,
	)
	return err
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID))
}

// GetForUser fetches a job only when it belongs to userID.
func (r *JobRepositoryPG) GetForUser(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobForUser, jobID, userID))
}

// LockForUpdate reads the job with a row lock. Must run inside a transaction.
func (r *JobRepositoryPG) LockForUpdate(ctx context.Context, jobID string) (*domain.Job, error) {
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QLockJob, jobID))
}

func (r *JobRepositoryPG) MarkStarted(ctx context.Context, jobID string, at time.Time) error {
	_, err := r.sql.Exec(ctx, sqlinline.QMarkJobStarted, jobID, at)
	return err
}

// Finalize sets the terminal status. A job that is already terminal is left
// untouched and ErrJobTerminal is returned.
func (r *JobRepositoryPG) Finalize(ctx context.Context, jobID string, status domain.JobStatus, errMsg string, refunded int, at time.Time) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QFinalizeJob, jobID, string(status), errMsg, refunded, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobTerminal
	}
	return nil
}

func (r *JobRepositoryPG) ListActive(ctx context.Context, userID string) ([]domain.JobSummary, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListActiveJobs, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.JobSummary, 0)
	for rows.Next() {
		var s domain.JobSummary
		if err := rows.Scan(&s.JobID, &s.Kind, &s.Status, &s.CompletedUnits, &s.TotalUnits, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *JobRepositoryPG) ListStale(ctx context.Context, q domain.StaleQuery) ([]domain.Job, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListStaleJobs, q.Cutoff, q.VideoCutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job     domain.Job
		payload []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Kind,
		&job.Status,
		&job.Provider,
		&job.Locale,
		&job.TotalUnits,
		&job.UnitPrice,
		&job.TokensCost,
		&job.TokensRefunded,
		&payload,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
