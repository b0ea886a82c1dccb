package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardgen/internal/domain"
	"cardgen/internal/memstore"
	"cardgen/internal/notify"
	"cardgen/internal/providers"
	"cardgen/internal/settle"
	"cardgen/internal/storage"
)

var fixedNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type stubVideo struct {
	result providers.PollResult
	err    error
	polls  int
}

func (s *stubVideo) Name() string { return "stub" }

func (s *stubVideo) InvokeAsync(ctx context.Context, req providers.Request) (providers.Handle, error) {
	return providers.Handle{}, errors.New("not used")
}

func (s *stubVideo) PollAsync(ctx context.Context, h providers.Handle) (providers.PollResult, error) {
	s.polls++
	return s.result, s.err
}

type stubFetcher struct {
	err  error
	urls []string
}

func (f *stubFetcher) Get(ctx context.Context, url string) ([]byte, string, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("mp4-bytes"), "application/octet-stream", nil
}

type fixture struct {
	store    *memstore.Store
	provider *stubVideo
	fetcher  *stubFetcher
	svc      *Service
	job      domain.Job
	task     domain.Task
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	job, tasks := store.SeedJob(memstore.JobSeed{
		Kind:      domain.JobKindVideo,
		Provider:  "stub",
		Locale:    "en",
		UnitPrice: 20,
		Tasks:     []domain.TaskStatus{domain.TaskStatusProcessing},
	})
	task := tasks[0]
	task.ExternalTaskID = "ext-1"
	task.ExternalStatus = "submitted"
	store.PutTask(task)

	provider := &stubVideo{result: providers.PollResult{Phase: providers.PhaseProcessing, RawStatus: "processing"}}
	reg := providers.NewRegistry()
	reg.RegisterAsync(provider)

	composer, err := notify.NewComposer()
	require.NoError(t, err)
	settler, err := settle.New(settle.Options{Tx: store, Composer: composer, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)

	files, err := storage.NewFileStore(t.TempDir(), "https://cdn.test")
	require.NoError(t, err)
	fetcher := &stubFetcher{}

	svc, err := New(Options{
		Jobs:      store.Repositories().Jobs,
		Tasks:     store.Repositories().Tasks,
		Providers: reg,
		Settler:   settler,
		Store:     files,
		Fetcher:   fetcher,
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return &fixture{store: store, provider: provider, fetcher: fetcher, svc: svc, job: job, task: task}
}

func (f *fixture) poll(t *testing.T) VideoStatus {
	t.Helper()
	got, err := f.svc.PollVideoTask(context.Background(), f.job.ID, f.job.UserID)
	require.NoError(t, err)
	return got
}

func TestPollProcessingLeavesJobOpen(t *testing.T) {
	f := newFixture(t)

	got := f.poll(t)
	assert.Equal(t, VideoStatus{Status: domain.JobStatusProcessing}, got)

	task, _ := f.store.Task(f.task.ID)
	assert.Equal(t, domain.TaskStatusProcessing, task.Status)
	assert.Equal(t, "processing", task.ExternalStatus)
	assert.Equal(t, 0, f.store.JobRefunds(f.job.ID))
}

func TestPollSucceededMirrorsAndCompletes(t *testing.T) {
	f := newFixture(t)
	f.provider.result = providers.PollResult{Phase: providers.PhaseSucceeded, ResultURL: "https://provider.test/v.mp4"}

	got := f.poll(t)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	wantKey := f.job.UserID + "/" + f.job.ID + "/0_video.mp4"
	assert.Equal(t, "https://cdn.test/"+wantKey, got.ResultURL)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, []string{"https://provider.test/v.mp4"}, f.fetcher.urls)

	task, _ := f.store.Task(f.task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, wantKey, task.StoragePath)
	assert.Equal(t, 0, f.store.JobRefunds(f.job.ID))
	assert.Len(t, f.store.Notifications(), 1)
}

func TestPollMirrorFailureKeepsProviderURL(t *testing.T) {
	f := newFixture(t)
	f.provider.result = providers.PollResult{Phase: providers.PhaseSucceeded, ResultURL: "https://provider.test/v.mp4"}
	f.fetcher.err = errors.New("403")

	got := f.poll(t)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, "https://provider.test/v.mp4", got.ResultURL)
}

func TestPollFailedRefundsFullCost(t *testing.T) {
	f := newFixture(t)
	f.provider.result = providers.PollResult{Phase: providers.PhaseFailed, ErrorMessage: "content rejected"}

	got := f.poll(t)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "content rejected", got.ErrorMessage)
	assert.Empty(t, got.ResultURL)

	assert.Equal(t, 20, f.store.JobRefunds(f.job.ID))
	assert.Equal(t, 0, f.store.JobLedgerSum(f.job.ID))
	notes := f.store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, f.job.UserID, notes[0].UserID)
}

func TestPollProviderErrorFailsJob(t *testing.T) {
	f := newFixture(t)
	f.provider.err = providers.ErrAuth

	got := f.poll(t)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "authentication")
	assert.Equal(t, 20, f.store.JobRefunds(f.job.ID))
}

func TestPollTransientErrorsDoNotMutate(t *testing.T) {
	for name, err := range map[string]error{
		"rate limited": &providers.RateLimitedError{Provider: "stub", RetryAfter: time.Minute},
		"timeout":      context.DeadlineExceeded,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.provider.err = err

			got := f.poll(t)
			assert.Equal(t, domain.JobStatusProcessing, got.Status)
			task, _ := f.store.Task(f.task.ID)
			assert.Equal(t, domain.TaskStatusProcessing, task.Status)
			assert.Empty(t, f.store.Notifications())
		})
	}
}

func TestPollAfterTerminalIsIdempotent(t *testing.T) {
	for _, phase := range []providers.Phase{providers.PhaseSucceeded, providers.PhaseFailed} {
		t.Run(string(phase), func(t *testing.T) {
			f := newFixture(t)
			f.provider.result = providers.PollResult{Phase: phase, ResultURL: "https://provider.test/v.mp4", ErrorMessage: "boom"}

			first := f.poll(t)
			txs := len(f.store.Transactions())
			notes := len(f.store.Notifications())
			fetches := len(f.fetcher.urls)

			for i := 0; i < 3; i++ {
				assert.Equal(t, first, f.poll(t))
			}
			assert.Equal(t, 1, f.provider.polls)
			assert.Len(t, f.store.Transactions(), txs)
			assert.Len(t, f.store.Notifications(), notes)
			assert.Len(t, f.fetcher.urls, fetches)
		})
	}
}

func TestPollSettlesFinishedTask(t *testing.T) {
	f := newFixture(t)
	task := f.task
	task.Status = domain.TaskStatusFailed
	task.LastError = "dispatch rejected"
	f.store.PutTask(task)

	got := f.poll(t)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "dispatch rejected", got.ErrorMessage)
	assert.Zero(t, f.provider.polls)
}

func TestPollWithoutHandleReportsJobStatus(t *testing.T) {
	f := newFixture(t)
	task := f.task
	task.ExternalTaskID = ""
	task.Status = domain.TaskStatusPending
	f.store.PutTask(task)

	got := f.poll(t)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	assert.Zero(t, f.provider.polls)
}

func TestPollRejectsForeignAndSyncJobs(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PollVideoTask(context.Background(), f.job.ID, "someone-else")
	require.ErrorIs(t, err, domain.ErrNotFound)

	photo, _ := f.store.SeedJob(memstore.JobSeed{UserID: f.job.UserID, UnitPrice: 1, Tasks: []domain.TaskStatus{domain.TaskStatusPending}})
	_, err = f.svc.PollVideoTask(context.Background(), photo.ID, f.job.UserID)
	require.ErrorIs(t, err, domain.ErrNotAsync)
}

func TestListActiveJobs(t *testing.T) {
	f := newFixture(t)
	older := fixedNow.Add(-time.Hour)
	f.store.SeedJob(memstore.JobSeed{
		UserID:    f.job.UserID,
		UnitPrice: 1,
		CreatedAt: older,
		Tasks:     []domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusPending},
	})
	f.store.SeedJob(memstore.JobSeed{
		UserID:    f.job.UserID,
		Status:    domain.JobStatusCompleted,
		UnitPrice: 1,
		Tasks:     []domain.TaskStatus{domain.TaskStatusCompleted},
	})

	items, err := f.svc.ListActiveJobs(context.Background(), f.job.UserID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, f.job.ID, items[0].JobID)
	assert.Equal(t, 1, items[1].CompletedUnits)
	assert.Equal(t, 2, items[1].TotalUnits)
}
