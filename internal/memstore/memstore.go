// Package memstore provides in-memory implementations of the domain
// repositories for tests and local tooling.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cardgen/internal/domain"
)

// Store holds all entities behind one mutex. Transactions are serialized and
// rolled back from a snapshot on error.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	balances      map[string]int
	transactions  []domain.TokenTransaction
	prices        map[domain.Operation]int
	jobs          map[string]domain.Job
	tasks         map[string]domain.Task
	notifications []domain.Notification

	// Failure injection.
	FailJobCreate   error
	FailTaskCreate  error
	FailNotify      error
	FailCredit      error
	PriceReads      int
	ListStaleHook   func()
	FailFinalizeFor map[string]error
}

func New() *Store {
	return &Store{
		balances:        map[string]int{},
		prices:          map[domain.Operation]int{},
		jobs:            map[string]domain.Job{},
		tasks:           map[string]domain.Task{},
		FailFinalizeFor: map[string]error{},
	}
}

// Repositories returns repositories bound directly to the store.
func (s *Store) Repositories() domain.Repositories {
	return domain.Repositories{
		Balances:      Balances{s},
		Jobs:          Jobs{s},
		Tasks:         Tasks{s},
		Notifications: Notifications{s},
	}
}

// Pricing returns a pricing repository bound to the store.
func (s *Store) Pricing() Pricing { return Pricing{s} }

// WithinTx implements domain.Transactor.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, s.Repositories()); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	balances      map[string]int
	transactions  []domain.TokenTransaction
	jobs          map[string]domain.Job
	tasks         map[string]domain.Task
	notifications []domain.Notification
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		balances:      make(map[string]int, len(s.balances)),
		transactions:  append([]domain.TokenTransaction(nil), s.transactions...),
		jobs:          make(map[string]domain.Job, len(s.jobs)),
		tasks:         make(map[string]domain.Task, len(s.tasks)),
		notifications: append([]domain.Notification(nil), s.notifications...),
	}
	for k, v := range s.balances {
		snap.balances[k] = v
	}
	for k, v := range s.jobs {
		snap.jobs[k] = v
	}
	for k, v := range s.tasks {
		snap.tasks[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = snap.balances
	s.transactions = snap.transactions
	s.jobs = snap.jobs
	s.tasks = snap.tasks
	s.notifications = snap.notifications
}

// SetBalance creates or overwrites a user's balance without a ledger entry.
func (s *Store) SetBalance(userID string, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = tokens
}

// Balance returns the current balance and whether the user exists.
func (s *Store) Balance(userID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	return b, ok
}

// SetPrice configures an operation price.
func (s *Store) SetPrice(op domain.Operation, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[op] = tokens
}

// Transactions returns a copy of the ledger.
func (s *Store) Transactions() []domain.TokenTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TokenTransaction(nil), s.transactions...)
}

// JobLedgerSum returns the signed sum of ledger entries for jobID.
func (s *Store) JobLedgerSum(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, tx := range s.transactions {
		if tx.JobID == jobID {
			total += tx.Amount
		}
	}
	return total
}

// Notifications returns a copy of every inserted notification.
func (s *Store) Notifications() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.notifications...)
}

// Job returns a copy of the stored job.
func (s *Store) Job(id string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// PutJob inserts or replaces a job.
func (s *Store) PutJob(j domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

// Task returns a copy of the stored task.
func (s *Store) Task(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// PutTask inserts or replaces a task.
func (s *Store) PutTask(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// TasksOf returns the tasks of a job ordered by unit index.
func (s *Store) TasksOf(jobID string) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasksOfLocked(jobID)
}

// JobCount returns how many jobs are stored.
func (s *Store) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Store) tasksOfLocked(jobID string) []domain.Task {
	var out []domain.Task
	for _, t := range s.tasks {
		if t.JobID == jobID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitIndex < out[j].UnitIndex })
	return out
}

// Balances implements domain.BalanceRepository.
type Balances struct{ s *Store }

func (b Balances) Get(ctx context.Context, userID string) (int, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	bal, ok := b.s.balances[userID]
	if !ok {
		return 0, domain.ErrUserNotFound
	}
	return bal, nil
}

func (b Balances) Spend(ctx context.Context, userID string, amount int, reason, jobID string) (int, bool, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	bal, ok := b.s.balances[userID]
	if !ok {
		return 0, false, domain.ErrUserNotFound
	}
	if bal < amount {
		return 0, false, nil
	}
	bal -= amount
	b.s.balances[userID] = bal
	b.s.appendTx(userID, -amount, reason, jobID, bal)
	return bal, true, nil
}

func (b Balances) Credit(ctx context.Context, userID string, amount int, reason, jobID string) (int, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if b.s.FailCredit != nil {
		return 0, b.s.FailCredit
	}
	bal, ok := b.s.balances[userID]
	if !ok {
		return 0, domain.ErrUserNotFound
	}
	bal += amount
	b.s.balances[userID] = bal
	b.s.appendTx(userID, amount, reason, jobID, bal)
	return bal, nil
}

func (s *Store) appendTx(userID string, amount int, reason, jobID string, after int) {
	s.transactions = append(s.transactions, domain.TokenTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		Reason:       reason,
		JobID:        jobID,
		BalanceAfter: after,
		CreatedAt:    time.Now().UTC(),
	})
}

// Pricing implements domain.PricingRepository.
type Pricing struct{ s *Store }

func (p Pricing) Get(ctx context.Context, op domain.Operation) (int, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.PriceReads++
	v, ok := p.s.prices[op]
	if !ok {
		return 0, domain.ErrPricingNotConfigured
	}
	return v, nil
}

func (p Pricing) Set(ctx context.Context, op domain.Operation, tokens int) error {
	p.s.SetPrice(op, tokens)
	return nil
}

// Notifications implements domain.NotificationRepository.
type Notifications struct{ s *Store }

func (n Notifications) Insert(ctx context.Context, note *domain.Notification) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if n.s.FailNotify != nil {
		return n.s.FailNotify
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	n.s.notifications = append(n.s.notifications, *note)
	return nil
}

var (
	_ domain.Transactor             = (*Store)(nil)
	_ domain.BalanceRepository      = Balances{}
	_ domain.PricingRepository      = Pricing{}
	_ domain.NotificationRepository = Notifications{}
)
