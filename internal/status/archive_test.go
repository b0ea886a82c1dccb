package status

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardgen/internal/domain"
	"cardgen/internal/memstore"
	"cardgen/internal/providers"
	"cardgen/internal/settle"
)

type archiveFetcher struct {
	mu      sync.Mutex
	calls   int
	failFor string
}

func (f *archiveFetcher) Get(ctx context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failFor != "" && strings.Contains(url, f.failFor) {
		return nil, "", errors.New("gone")
	}
	return []byte("img:" + url), "image/png", nil
}

type nopSettler struct{}

func (nopSettler) Settle(context.Context, string, settle.Cause) (settle.Result, error) {
	return settle.Result{}, nil
}

func newArchiveService(t *testing.T, store *memstore.Store, fetcher Fetcher) *Service {
	t.Helper()
	svc, err := New(Options{
		Jobs:      store.Repositories().Jobs,
		Tasks:     store.Repositories().Tasks,
		Providers: providers.NewRegistry(),
		Settler:   nopSettler{},
		Fetcher:   fetcher,
	})
	require.NoError(t, err)
	return svc
}

func TestArchiveJobCollectsCompletedUnits(t *testing.T) {
	store := memstore.New()
	job, tasks := store.SeedJob(memstore.JobSeed{
		Kind:      domain.JobKindPhotoSet,
		Status:    domain.JobStatusCompleted,
		UnitPrice: 5,
		Tasks: []domain.TaskStatus{
			domain.TaskStatusCompleted,
			domain.TaskStatusFailed,
			domain.TaskStatusCompleted,
		},
	})
	fetcher := &archiveFetcher{}
	svc := newArchiveService(t, store, fetcher)

	entries, err := svc.ArchiveJob(context.Background(), job.ID, job.UserID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, fetcher.calls)

	names := []string{entries[0].Name, entries[1].Name}
	assert.Equal(t, []string{
		"0_" + tasks[0].UnitType + ".png",
		"2_" + tasks[2].UnitType + ".png",
	}, names)
	assert.Equal(t, "img:"+tasks[0].ResultURL, string(entries[0].Data))
}

func TestArchiveJobEmbedsText(t *testing.T) {
	store := memstore.New()
	job, tasks := store.SeedJob(memstore.JobSeed{
		Kind:   domain.JobKindDescription,
		Status: domain.JobStatusCompleted,
		Tasks:  []domain.TaskStatus{domain.TaskStatusCompleted},
	})
	task := tasks[0]
	task.ResultURL = ""
	task.ResultText = "Handmade mug, 350 ml."
	store.PutTask(task)
	fetcher := &archiveFetcher{}
	svc := newArchiveService(t, store, fetcher)

	entries, err := svc.ArchiveJob(context.Background(), job.ID, job.UserID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Handmade mug, 350 ml.", string(entries[0].Data))
	assert.True(t, strings.HasSuffix(entries[0].Name, ".txt"))
	assert.Zero(t, fetcher.calls)
}

func TestArchiveJobSkipsUnreachableAssets(t *testing.T) {
	store := memstore.New()
	job, tasks := store.SeedJob(memstore.JobSeed{
		Status: domain.JobStatusCompleted,
		Tasks:  []domain.TaskStatus{domain.TaskStatusCompleted, domain.TaskStatusCompleted},
	})
	svc := newArchiveService(t, store, &archiveFetcher{failFor: tasks[1].ID})

	entries, err := svc.ArchiveJob(context.Background(), job.ID, job.UserID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name, "0_"))
}

func TestArchiveJobWithoutResults(t *testing.T) {
	store := memstore.New()
	job, _ := store.SeedJob(memstore.JobSeed{
		Tasks: []domain.TaskStatus{domain.TaskStatusProcessing},
	})
	svc := newArchiveService(t, store, &archiveFetcher{})

	_, err := svc.ArchiveJob(context.Background(), job.ID, job.UserID)
	require.ErrorIs(t, err, ErrNoResults)
}

func TestArchiveJobForeignUser(t *testing.T) {
	store := memstore.New()
	job, _ := store.SeedJob(memstore.JobSeed{
		Status: domain.JobStatusCompleted,
		Tasks:  []domain.TaskStatus{domain.TaskStatusCompleted},
	})
	svc := newArchiveService(t, store, &archiveFetcher{})

	_, err := svc.ArchiveJob(context.Background(), job.ID, "someone-else")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
