package status

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"cardgen/internal/domain"
	"cardgen/internal/storage"
	"cardgen/pkg/zip"
)

// ErrNoResults is returned when a job has nothing to download yet.
var ErrNoResults = errors.New("status: job has no completed results")

const archiveFetchLimit = 4

// ArchiveJob collects the completed results of a job for a bundled download.
// Text results are embedded directly; stored assets are fetched by URL. A unit
// whose asset cannot be fetched is left out.
func (s *Service) ArchiveJob(ctx context.Context, jobID, userID string) ([]zip.Entry, error) {
	ctx, span := tracer.Start(ctx, "Status.ArchiveJob")
	defer span.End()

	job, err := s.jobs.GetForUser(ctx, jobID, userID)
	if err != nil {
		return nil, fmt.Errorf("status: load job: %w", err)
	}
	tasks, err := s.tasks.ListByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("status: load tasks: %w", err)
	}

	var (
		mu      sync.Mutex
		entries = make([]zip.Entry, 0, len(tasks))
	)
	add := func(e zip.Entry) {
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveFetchLimit)
	for _, task := range tasks {
		if task.Status != domain.TaskStatusCompleted {
			continue
		}
		modified := task.UpdatedAt
		if task.CompletedAt != nil {
			modified = *task.CompletedAt
		}
		if task.ResultText != "" {
			add(zip.Entry{
				Name:     fmt.Sprintf("%d_%s.txt", task.UnitIndex, task.UnitType),
				Data:     []byte(task.ResultText),
				Modified: modified,
			})
			continue
		}
		if task.ResultURL == "" || s.fetcher == nil {
			continue
		}
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, s.mirrorTimeout)
			defer cancel()
			data, ct, err := s.fetcher.Get(fetchCtx, task.ResultURL)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("status: archive fetch failed")
				return nil
			}
			add(zip.Entry{
				Name:     fmt.Sprintf("%d_%s.%s", task.UnitIndex, task.UnitType, storage.ExtensionFor(ct)),
				Data:     data,
				Modified: modified,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("status: archive: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNoResults
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
