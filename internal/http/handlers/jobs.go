package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cardgen/internal/domain"
	"cardgen/internal/middleware"
	"cardgen/internal/orchestrator"
	"cardgen/pkg/zip"
)

const maxCreateBody = 1 << 20

type createJobRequest struct {
	Kind     domain.JobKind `json:"kind"`
	Units    int            `json:"units"`
	Provider string         `json:"provider"`
	Payload  domain.Payload `json:"payload"`
}

type activeJobsResponse struct {
	Items []domain.JobSummary `json:"items"`
}

// CreateJob charges the user and queues a generation job.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCreateBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Units == 0 && !req.Kind.MultiUnit() {
		req.Units = 1
	}

	handle, err := a.Jobs.CreateJob(r.Context(), orchestrator.CreateRequest{
		UserID:   userID,
		Kind:     domain.JobKind(strings.ToLower(string(req.Kind))),
		Units:    req.Units,
		Provider: req.Provider,
		Locale:   middleware.LocaleFromContext(r.Context()),
		Payload:  req.Payload,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, handle)
}

// ActiveJobs lists the caller's unfinished jobs.
func (a *App) ActiveJobs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	items, err := a.Status.ListActiveJobs(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.JobSummary{}
	}
	a.json(w, http.StatusOK, activeJobsResponse{Items: items})
}

// VideoStatus polls the async task of a video job.
func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	st, err := a.Status.PollVideoTask(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, st)
}

// Archive downloads the completed results of a job as one zip file.
func (a *App) Archive(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID, ok := a.jobID(w, r)
	if !ok {
		return
	}
	entries, err := a.Status.ArchiveJob(r.Context(), jobID, userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="job-%s.zip"`, jobID))
	if err := zip.Write(w, entries); err != nil {
		a.log(r).Error().Err(err).Str("job_id", jobID).Msg("http: archive write failed")
	}
}

// jobID reads the job_id path parameter. Anything that is not a UUID cannot
// name a job, so it is answered with 404 before touching the store.
func (a *App) jobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := chi.URLParam(r, "job_id")
	if uuid.Validate(jobID) != nil {
		a.error(w, r, http.StatusNotFound, "not_found", "job not found")
		return "", false
	}
	return jobID, true
}
