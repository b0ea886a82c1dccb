package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardgen/internal/domain"
	"cardgen/internal/memstore"
	"cardgen/internal/notify"
	"cardgen/internal/pricing"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []domain.Task
	err   error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, job *domain.Job, task domain.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return d.err
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

type env struct {
	store      *memstore.Store
	dispatcher *recordingDispatcher
	orch       *Orchestrator
	userID     string
}

func newEnv(t *testing.T, balance int) *env {
	t.Helper()
	store := memstore.New()
	store.SetPrice(domain.OperationPhotoGeneration, 5)
	store.SetPrice(domain.OperationDescription, 3)
	store.SetPrice(domain.OperationVideo, 20)
	userID := gofakeit.UUID()
	store.SetBalance(userID, balance)

	composer, err := notify.NewComposer()
	require.NoError(t, err)
	dispatcher := &recordingDispatcher{}
	orch, err := New(Options{
		Repos:      store.Repositories(),
		Tx:         store,
		Pricing:    pricing.NewLookup(store.Pricing(), pricing.Options{TTL: time.Minute}),
		Dispatcher: dispatcher,
		Composer:   composer,
		DefaultProviders: map[domain.JobKind]string{
			domain.JobKindPhotoSet:    "openai",
			domain.JobKindRegenerate:  "openai",
			domain.JobKindDescription: "openai",
			domain.JobKindEdit:        "gemini",
			domain.JobKindVideo:       "kling",
		},
		ProviderAvailable: func(kind domain.JobKind, name string) bool { return name != "offline" },
		MaxUnits:          10,
	})
	require.NoError(t, err)
	return &env{store: store, dispatcher: dispatcher, orch: orch, userID: userID}
}

func (e *env) photoRequest(units int) CreateRequest {
	return CreateRequest{
		UserID: e.userID,
		Kind:   domain.JobKindPhotoSet,
		Units:  units,
		Locale: "en",
		Payload: domain.Payload{
			ProductName:  "Ceramic mug",
			SourceImages: []string{"https://uploads.test/mug.png"},
		},
	}
}

func TestCreateJobChargesAndFansOut(t *testing.T) {
	e := newEnv(t, 100)

	handle, err := e.orch.CreateJob(context.Background(), e.photoRequest(3))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, handle.Status)
	assert.Equal(t, 15, handle.TokensCharged)

	bal, _ := e.store.Balance(e.userID)
	assert.Equal(t, 85, bal)

	job, ok := e.store.Job(handle.JobID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 15, job.TokensCost)
	assert.Equal(t, 5, job.UnitPrice)
	assert.Equal(t, 3, job.TotalUnits)
	assert.Equal(t, "openai", job.Provider)

	tasks := e.store.TasksOf(handle.JobID)
	require.Len(t, tasks, 3)
	for i, task := range tasks {
		assert.Equal(t, i, task.UnitIndex)
		assert.Equal(t, domain.CardSlots[i], task.UnitType)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
	}
	assert.Equal(t, 3, e.dispatcher.count())

	txs := e.store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, -15, txs[0].Amount)
	assert.Equal(t, handle.JobID, txs[0].JobID)

	notes := e.store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "Generation started", notes[0].Title)
}

func TestCreateJobValidation(t *testing.T) {
	e := newEnv(t, 100)
	cases := map[string]struct {
		mutate func(r *CreateRequest)
		field  string
	}{
		"missing product name": {func(r *CreateRequest) { r.Payload.ProductName = "" }, "payload.product_name"},
		"missing source":       {func(r *CreateRequest) { r.Payload.SourceImages = nil }, "payload.source_images"},
		"bad source url":       {func(r *CreateRequest) { r.Payload.SourceImages = []string{"ftp://x"} }, "payload.source_images.0"},
		"too many units":       {func(r *CreateRequest) { r.Units = 11 }, "units"},
		"zero units":           {func(r *CreateRequest) { r.Units = 0 }, "units"},
		"unknown kind":         {func(r *CreateRequest) { r.Kind = "hologram" }, "kind"},
		"single unit kind":     {func(r *CreateRequest) { r.Kind = domain.JobKindDescription; r.Units = 2 }, "units"},
		"edit instructions":    {func(r *CreateRequest) { r.Kind = domain.JobKindEdit; r.Units = 1 }, "payload.edit_instructions"},
		"provider unavailable": {func(r *CreateRequest) { r.Provider = "offline" }, "provider"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := e.photoRequest(2)
			tc.mutate(&req)
			_, err := e.orch.CreateJob(context.Background(), req)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Empty(t, e.store.Transactions())
	assert.Zero(t, e.store.JobCount())
}

func TestCreateJobDescriptionNeedsNoSource(t *testing.T) {
	e := newEnv(t, 100)
	handle, err := e.orch.CreateJob(context.Background(), CreateRequest{
		UserID:  e.userID,
		Kind:    domain.JobKindDescription,
		Units:   1,
		Payload: domain.Payload{ProductName: "Mug", Benefits: []string{"dishwasher safe"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, handle.TokensCharged)
	tasks := e.store.TasksOf(handle.JobID)
	require.Len(t, tasks, 1)
	assert.Equal(t, "description", tasks[0].UnitType)
}

func TestCreateJobInsufficientTokensBeforeSpend(t *testing.T) {
	e := newEnv(t, 10)

	_, err := e.orch.CreateJob(context.Background(), e.photoRequest(3))
	var insuf *domain.InsufficientTokensError
	require.ErrorAs(t, err, &insuf)
	assert.Equal(t, 15, insuf.Required)
	assert.Equal(t, 10, insuf.Available)

	bal, _ := e.store.Balance(e.userID)
	assert.Equal(t, 10, bal)
	assert.Empty(t, e.store.Transactions())
	assert.Zero(t, e.store.JobCount())
}

func TestCreateJobPricingNotConfigured(t *testing.T) {
	e := newEnv(t, 100)
	req := e.photoRequest(1)
	req.Kind = domain.JobKindRegenerate
	req.Payload.UnitType = "cover"

	_, err := e.orch.CreateJob(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrPricingNotConfigured)
	var verr *domain.ValidationError
	assert.False(t, errors.As(err, &verr))

	bal, _ := e.store.Balance(e.userID)
	assert.Equal(t, 100, bal)
	assert.Empty(t, e.store.Transactions())
	assert.Zero(t, e.store.JobCount())
}

func TestCreateJobUnknownUser(t *testing.T) {
	e := newEnv(t, 100)
	req := e.photoRequest(1)
	req.UserID = "ghost"

	_, err := e.orch.CreateJob(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestCreateJobCompensatesJobInsertFailure(t *testing.T) {
	e := newEnv(t, 40)
	e.store.FailJobCreate = errors.New("insert generation_jobs: connection reset")

	_, err := e.orch.CreateJob(context.Background(), e.photoRequest(6))
	var comp *domain.CompensationError
	require.ErrorAs(t, err, &comp)
	assert.Equal(t, 30, comp.Refunded)

	bal, _ := e.store.Balance(e.userID)
	assert.Equal(t, 40, bal)
	txs := e.store.Transactions()
	require.Len(t, txs, 2)
	assert.Equal(t, -30, txs[0].Amount)
	assert.Equal(t, 30, txs[1].Amount)
	assert.Equal(t, domain.ReasonCompensation, txs[1].Reason)
	assert.Zero(t, e.store.JobCount())
	assert.Zero(t, e.dispatcher.count())
}

func TestCreateJobCompensatesTaskInsertFailure(t *testing.T) {
	e := newEnv(t, 40)
	e.store.FailTaskCreate = errors.New("insert generation_tasks: deadlock")

	_, err := e.orch.CreateJob(context.Background(), e.photoRequest(2))
	var comp *domain.CompensationError
	require.ErrorAs(t, err, &comp)

	bal, _ := e.store.Balance(e.userID)
	assert.Equal(t, 40, bal)
	require.Equal(t, 1, e.store.JobCount())
	txs := e.store.Transactions()
	require.Len(t, txs, 2)
	job, _ := e.store.Job(txs[0].JobID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 10, job.TokensRefunded)
	assert.Contains(t, job.ErrorMessage, "create tasks")
	assert.Zero(t, e.dispatcher.count())
}

func TestCreateJobCompensationFailureIsReported(t *testing.T) {
	e := newEnv(t, 40)
	e.store.FailJobCreate = errors.New("insert failed")
	e.store.FailCredit = errors.New("credit failed")

	_, err := e.orch.CreateJob(context.Background(), e.photoRequest(1))
	require.Error(t, err)
	var comp *domain.CompensationError
	assert.False(t, errors.As(err, &comp))
	assert.Contains(t, err.Error(), "compensation failed")
}

func TestCreateJobDispatchFailureKeepsJob(t *testing.T) {
	e := newEnv(t, 100)
	e.dispatcher.err = errors.New("redis unavailable")

	handle, err := e.orch.CreateJob(context.Background(), e.photoRequest(2))
	require.NoError(t, err)

	job, _ := e.store.Job(handle.JobID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	for _, task := range e.store.TasksOf(handle.JobID) {
		assert.Equal(t, domain.TaskStatusPending, task.Status)
	}
	assert.Len(t, e.store.Transactions(), 1)
}

func TestConcurrentCreateJobsChargeOnce(t *testing.T) {
	e := newEnv(t, 15)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		insuf   int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.orch.CreateJob(context.Background(), e.photoRequest(3))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrInsufficientTokens):
				insuf++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, insuf)
	bal, _ := e.store.Balance(e.userID)
	assert.Equal(t, 0, bal)
}
