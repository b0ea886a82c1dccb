package domain

import (
	"context"
	"time"
)

// BalanceRepository mutates user token balances. Spend and Credit each append
// exactly one token transaction in the same statement as the balance change.
type BalanceRepository interface {
	Get(ctx context.Context, userID string) (int, error)
	// Spend decrements the balance only when it covers amount. ok is false and
	// nothing changes otherwise.
	Spend(ctx context.Context, userID string, amount int, reason, jobID string) (balanceAfter int, ok bool, err error)
	Credit(ctx context.Context, userID string, amount int, reason, jobID string) (balanceAfter int, err error)
}

// PricingRepository reads and writes per-operation token prices.
type PricingRepository interface {
	Get(ctx context.Context, op Operation) (int, error)
	Set(ctx context.Context, op Operation, tokens int) error
}

// StaleQuery selects unfinished jobs whose clock started before the cutoff for their kind.
type StaleQuery struct {
	Cutoff      time.Time
	VideoCutoff time.Time
	Limit       int
}

// JobRepository defines persistence for job entities.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	GetForUser(ctx context.Context, jobID, userID string) (*Job, error)
	// LockForUpdate reads the job and holds a row lock for the rest of the transaction.
	LockForUpdate(ctx context.Context, jobID string) (*Job, error)
	MarkStarted(ctx context.Context, jobID string, at time.Time) error
	// Finalize moves a non-terminal job to status and adds refunded to tokens_refunded.
	Finalize(ctx context.Context, jobID string, status JobStatus, errMsg string, refunded int, at time.Time) error
	ListActive(ctx context.Context, userID string) ([]JobSummary, error)
	ListStale(ctx context.Context, q StaleQuery) ([]Job, error)
}

// DueTask is a task ready to be handed back to the queue.
type DueTask struct {
	TaskID string
	JobID  string
	Kind   JobKind
	Status TaskStatus
}

// TaskRepository defines persistence for task entities.
type TaskRepository interface {
	CreateBatch(ctx context.Context, tasks []Task) error
	Get(ctx context.Context, taskID string) (*Task, error)
	ListByJob(ctx context.Context, jobID string) ([]Task, error)
	// Claim moves a pending or due retrying task to processing.
	// It returns ErrTaskNotClaimable when the task is in any other state.
	Claim(ctx context.Context, taskID string, now time.Time) (*Task, error)
	Complete(ctx context.Context, taskID string, result TaskResult, at time.Time) error
	Fail(ctx context.Context, taskID, lastErr string, at time.Time) error
	MarkRetrying(ctx context.Context, taskID string, retryAfter time.Time, lastErr string, at time.Time) error
	SetExternal(ctx context.Context, taskID, externalID, externalStatus string) error
	// FailIncomplete fails every non-terminal task of the job and returns how many changed.
	FailIncomplete(ctx context.Context, jobID, lastErr string, at time.Time) (int, error)
	Counts(ctx context.Context, jobID string) (TaskCounts, error)
	// ListDue returns retrying tasks whose retry_after elapsed and pending tasks
	// untouched since pendingBefore.
	ListDue(ctx context.Context, now, pendingBefore time.Time, limit int) ([]DueTask, error)
}

// NotificationRepository appends user notifications.
type NotificationRepository interface {
	Insert(ctx context.Context, n *Notification) error
}

// Repositories groups repositories bound to one unit of work.
type Repositories struct {
	Balances      BalanceRepository
	Jobs          JobRepository
	Tasks         TaskRepository
	Notifications NotificationRepository
}

// Transactor runs fn inside a single database transaction. The transaction is
// rolled back when fn returns an error.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
