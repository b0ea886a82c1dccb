package settle

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardgen/internal/domain"
	"cardgen/internal/memstore"
	"cardgen/internal/notify"
)

var fixedNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newSettler(t *testing.T, store *memstore.Store) *Settler {
	t.Helper()
	composer, err := notify.NewComposer()
	require.NoError(t, err)
	s, err := New(Options{Tx: store, Composer: composer, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	return s
}

func statuses(n int, st domain.TaskStatus) []domain.TaskStatus {
	out := make([]domain.TaskStatus, n)
	for i := range out {
		out[i] = st
	}
	return out
}

func TestTimeoutPartialCompletion(t *testing.T) {
	store := memstore.New()
	job, _ := store.SeedJob(memstore.JobSeed{
		UnitPrice: 5,
		Locale:    "en",
		Tasks:     append(statuses(4, domain.TaskStatusCompleted), domain.TaskStatusPending, domain.TaskStatusRetrying),
	})
	s := newSettler(t, store)

	res, err := s.Settle(context.Background(), job.ID, CauseTimeout)
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, domain.JobStatusCompleted, res.Status)
	assert.Equal(t, 2, res.TimedOut)
	assert.Equal(t, 10, res.Refunded)

	got, _ := store.Job(job.ID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 10, got.TokensRefunded)
	assert.Contains(t, got.ErrorMessage, domain.TaskErrorTimeoutCleanup)
	require.NotNil(t, got.CompletedAt)

	for _, task := range store.TasksOf(job.ID) {
		assert.True(t, task.Status.Terminal())
		if task.Status == domain.TaskStatusFailed {
			assert.Equal(t, domain.TaskErrorTimeoutCleanup, task.LastError)
		}
	}
	txs := store.Transactions()
	require.Len(t, txs, 2)
	assert.Equal(t, domain.ReasonTimeoutRefund, txs[1].Reason)
	assert.Equal(t, -20, store.JobLedgerSum(job.ID))

	notes := store.Notifications()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "4 of 6")
	assert.Equal(t, domain.NotificationWarning, notes[0].Type)
}

func TestTasksDoneFullFailure(t *testing.T) {
	store := memstore.New()
	job, tasks := store.SeedJob(memstore.JobSeed{
		Kind:      domain.JobKindDescription,
		UnitPrice: 3,
		Tasks:     []domain.TaskStatus{domain.TaskStatusFailed},
	})
	task := tasks[0]
	task.LastError = "openai: insufficient_quota"
	store.PutTask(task)
	balanceBefore, _ := store.Balance(job.UserID)

	res, err := newSettler(t, store).Settle(context.Background(), job.ID, CauseTasksDone)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, res.Status)
	assert.Equal(t, 3, res.Refunded)

	got, _ := store.Job(job.ID)
	assert.Equal(t, "openai: insufficient_quota", got.ErrorMessage)
	balanceAfter, _ := store.Balance(job.UserID)
	assert.Equal(t, balanceBefore+3, balanceAfter)
	assert.Equal(t, 0, store.JobLedgerSum(job.ID))

	notes := store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationError, notes[0].Type)
	assert.Equal(t, domain.ReasonFailureRefund, store.Transactions()[1].Reason)
}

func TestTasksDoneWaitsForIncompleteTasks(t *testing.T) {
	store := memstore.New()
	job, _ := store.SeedJob(memstore.JobSeed{
		UnitPrice: 5,
		Tasks:     []domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusProcessing},
	})

	res, err := newSettler(t, store).Settle(context.Background(), job.ID, CauseTasksDone)
	require.NoError(t, err)
	assert.True(t, res.Pending)
	assert.False(t, res.Settled)

	got, _ := store.Job(job.ID)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	assert.Empty(t, store.Notifications())
	assert.Len(t, store.Transactions(), 1)
}

func TestSettleIsIdempotent(t *testing.T) {
	store := memstore.New()
	job, _ := store.SeedJob(memstore.JobSeed{
		UnitPrice: 5,
		Tasks:     []domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusFailed},
	})
	s := newSettler(t, store)

	first, err := s.Settle(context.Background(), job.ID, CauseTasksDone)
	require.NoError(t, err)
	assert.True(t, first.Settled)

	for _, cause := range []Cause{CauseTasksDone, CauseTimeout} {
		again, err := s.Settle(context.Background(), job.ID, cause)
		require.NoError(t, err)
		assert.True(t, again.AlreadyTerminal)
		assert.False(t, again.Settled)
	}
	assert.Len(t, store.Transactions(), 2)
	assert.Len(t, store.Notifications(), 1)
}

func TestNotificationFailureRollsBack(t *testing.T) {
	store := memstore.New()
	job, _ := store.SeedJob(memstore.JobSeed{UnitPrice: 5, Tasks: []domain.TaskStatus{domain.TaskStatusFailed}})
	store.FailNotify = errors.New("db down")

	_, err := newSettler(t, store).Settle(context.Background(), job.ID, CauseTasksDone)
	require.Error(t, err)

	got, _ := store.Job(job.ID)
	assert.False(t, got.Status.Terminal())
	assert.Len(t, store.Transactions(), 1)
}

func TestVideoFailureReason(t *testing.T) {
	store := memstore.New()
	job, _ := store.SeedJob(memstore.JobSeed{Kind: domain.JobKindVideo, UnitPrice: 20, Tasks: []domain.TaskStatus{domain.TaskStatusFailed}})

	res, err := newSettler(t, store).Settle(context.Background(), job.ID, CauseTasksDone)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Refunded)
	assert.Equal(t, domain.ReasonVideoFailRefund, store.Transactions()[1].Reason)
}

func TestRefundAccountsForEarlierCompensation(t *testing.T) {
	store := memstore.New()
	job, _ := store.SeedJob(memstore.JobSeed{UnitPrice: 5, Tasks: statuses(2, domain.TaskStatusFailed)})
	job.TokensRefunded = 4
	store.PutJob(job)

	res, err := newSettler(t, store).Settle(context.Background(), job.ID, CauseTasksDone)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Refunded)
	got, _ := store.Job(job.ID)
	assert.Equal(t, 10, got.TokensRefunded)
}

func TestNoTokenLossProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	all := []domain.TaskStatus{
		domain.TaskStatusPending,
		domain.TaskStatusProcessing,
		domain.TaskStatusRetrying,
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed,
	}
	for round := 0; round < 200; round++ {
		store := memstore.New()
		n := 1 + rng.Intn(10)
		price := 1 + rng.Intn(9)
		sts := make([]domain.TaskStatus, n)
		for i := range sts {
			sts[i] = all[rng.Intn(len(all))]
		}
		job, _ := store.SeedJob(memstore.JobSeed{UnitPrice: price, Tasks: sts})
		s := newSettler(t, store)

		// Natural settlement may or may not apply, the reaper always finishes.
		_, err := s.Settle(context.Background(), job.ID, CauseTasksDone)
		require.NoError(t, err)
		_, err = s.Settle(context.Background(), job.ID, CauseTimeout)
		require.NoError(t, err)

		got, _ := store.Job(job.ID)
		require.True(t, got.Status.Terminal())
		completed := 0
		for _, task := range store.TasksOf(job.ID) {
			require.True(t, task.Status.Terminal())
			if task.Status == domain.TaskStatusCompleted {
				completed++
			}
		}
		assert.Equal(t, got.TokensCost, store.JobRefunds(job.ID)+completed*price, "round %d", round)
		assert.Equal(t, got.TokensRefunded, store.JobRefunds(job.ID), "round %d", round)
		if completed == 0 {
			assert.Equal(t, domain.JobStatusFailed, got.Status)
		} else {
			assert.Equal(t, domain.JobStatusCompleted, got.Status)
		}
	}
}
