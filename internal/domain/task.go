package domain

import "time"

// TaskStatus enumerates per-unit lifecycle states.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusRetrying   TaskStatus = "retrying"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the task reached a final outcome.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task error markers persisted in last_error.
const (
	TaskErrorTimeoutCleanup     = "timeout_cleanup"
	TaskErrorRateLimitExhausted = "rate_limit_exhausted"
)

// Card slots used to tag photo set units, in presentation order.
var CardSlots = []string{
	"cover",
	"features",
	"macro",
	"lifestyle",
	"dimensions",
	"bundle",
	"usage",
	"comparison",
	"care",
	"guarantee",
}

// UnitTypeFor returns the unit tag for the index-th unit of a job.
func UnitTypeFor(kind JobKind, index int, requested string) string {
	switch kind {
	case JobKindPhotoSet:
		return CardSlots[index%len(CardSlots)]
	case JobKindRegenerate:
		if requested != "" {
			return requested
		}
		return CardSlots[0]
	default:
		return string(kind)
	}
}

// Task is one unit of work within a job.
type Task struct {
	ID             string
	JobID          string
	UnitIndex      int
	UnitType       string
	Status         TaskStatus
	ResultURL      string
	StoragePath    string
	ResultText     string
	ExternalTaskID string
	ExternalStatus string
	RetryCount     int
	RetryAfter     *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// TaskCounts aggregates sibling task states for a job.
type TaskCounts struct {
	Total     int
	Completed int
	Failed    int
}

// Incomplete returns the number of tasks not yet terminal.
func (c TaskCounts) Incomplete() int {
	n := c.Total - c.Completed - c.Failed
	if n < 0 {
		return 0
	}
	return n
}

// TaskResult captures a successful unit outcome.
type TaskResult struct {
	ResultURL   string
	StoragePath string
	ResultText  string
}
