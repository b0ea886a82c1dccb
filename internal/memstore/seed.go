package memstore

import (
	"time"

	"github.com/google/uuid"

	"cardgen/internal/domain"
)

// JobSeed describes a charged job and the states of its tasks.
type JobSeed struct {
	UserID    string
	Kind      domain.JobKind
	Status    domain.JobStatus
	Provider  string
	Locale    string
	UnitPrice int
	Payload   domain.Payload
	Tasks     []domain.TaskStatus
	CreatedAt time.Time
	StartedAt *time.Time
}

// SeedJob stores a job charged through the ledger plus one task per entry of
// seed.Tasks. A missing user is created with exactly enough balance.
func (s *Store) SeedJob(seed JobSeed) (domain.Job, []domain.Task) {
	if seed.Kind == "" {
		seed.Kind = domain.JobKindPhotoSet
	}
	if seed.Status == "" {
		seed.Status = domain.JobStatusProcessing
	}
	if seed.UserID == "" {
		seed.UserID = uuid.NewString()
	}
	if seed.CreatedAt.IsZero() {
		seed.CreatedAt = time.Now().UTC()
	}
	if seed.Payload.ProductName == "" {
		seed.Payload.ProductName = "ceramic mug"
	}
	cost := seed.UnitPrice * len(seed.Tasks)
	job := domain.Job{
		ID:         uuid.NewString(),
		UserID:     seed.UserID,
		Kind:       seed.Kind,
		Status:     seed.Status,
		Provider:   seed.Provider,
		Locale:     seed.Locale,
		TotalUnits: len(seed.Tasks),
		UnitPrice:  seed.UnitPrice,
		TokensCost: cost,
		Payload:    seed.Payload,
		CreatedAt:  seed.CreatedAt,
		StartedAt:  seed.StartedAt,
	}

	s.mu.Lock()
	if _, ok := s.balances[seed.UserID]; !ok {
		s.balances[seed.UserID] = cost
	}
	s.balances[seed.UserID] -= cost
	s.appendTx(seed.UserID, -cost, domain.ReasonJobCharge, job.ID, s.balances[seed.UserID])
	s.jobs[job.ID] = job

	tasks := make([]domain.Task, 0, len(seed.Tasks))
	for i, st := range seed.Tasks {
		t := domain.Task{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			UnitIndex: i,
			UnitType:  domain.UnitTypeFor(seed.Kind, i, seed.Payload.UnitType),
			Status:    st,
			CreatedAt: seed.CreatedAt,
			UpdatedAt: seed.CreatedAt,
		}
		if st.Terminal() {
			done := seed.CreatedAt
			t.CompletedAt = &done
		}
		if st == domain.TaskStatusCompleted {
			t.ResultURL = "https://cdn.test/" + t.ID + ".png"
		}
		s.tasks[t.ID] = t
		tasks = append(tasks, t)
	}
	s.mu.Unlock()
	return job, tasks
}

// JobRefunds sums the positive ledger entries of a job.
func (s *Store) JobRefunds(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, tx := range s.transactions {
		if tx.JobID == jobID && tx.Amount > 0 {
			total += tx.Amount
		}
	}
	return total
}
