package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"cardgen/internal/domain"
	"cardgen/internal/infra"
	"cardgen/internal/middleware"
	"cardgen/internal/orchestrator"
	"cardgen/internal/status"
	"cardgen/pkg/zip"
)

// JobCreator accepts generation requests.
type JobCreator interface {
	CreateJob(ctx context.Context, req orchestrator.CreateRequest) (domain.JobHandle, error)
}

// StatusReader answers client polls.
type StatusReader interface {
	ListActiveJobs(ctx context.Context, userID string) ([]domain.JobSummary, error)
	PollVideoTask(ctx context.Context, jobID, userID string) (status.VideoStatus, error)
	ArchiveJob(ctx context.Context, jobID, userID string) ([]zip.Entry, error)
}

// App holds the services behind the HTTP surface.
type App struct {
	Jobs   JobCreator
	Status StatusReader
	// Ping checks backing services for the health endpoint. Nil skips the check.
	Ping   func(ctx context.Context) error
	Logger *infra.Logger
}

func NewApp(jobs JobCreator, st StatusReader, ping func(ctx context.Context) error, logger *infra.Logger) *App {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &App{Jobs: jobs, Status: st, Ping: ping, Logger: logger}
}

type errorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Required  *int              `json:"required,omitempty"`
	Available *int              `json:"available,omitempty"`
	Refunded  *int              `json:"refunded,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	a.json(w, code, errorResponse{Error: kind, Message: msg, RequestID: middleware.RequestIDFromContext(r.Context())})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// writeError maps domain errors to HTTP responses.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{RequestID: middleware.RequestIDFromContext(r.Context())}
	code := http.StatusInternalServerError

	var (
		validation   *domain.ValidationError
		insufficient *domain.InsufficientTokensError
		compensation *domain.CompensationError
	)
	switch {
	case errors.As(err, &compensation):
		resp.Error = "job_not_created"
		resp.Message = "job could not be created, tokens were returned"
		refunded := compensation.Refunded
		resp.Refunded = &refunded
	case errors.As(err, &validation):
		code = http.StatusBadRequest
		resp.Error = "validation_failed"
		resp.Fields = validation.Fields
	case errors.As(err, &insufficient):
		code = http.StatusPaymentRequired
		resp.Error = "insufficient_tokens"
		required, available := insufficient.Required, insufficient.Available
		resp.Required = &required
		resp.Available = &available
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUserNotFound):
		code = http.StatusNotFound
		resp.Error = "not_found"
	case errors.Is(err, domain.ErrNotAsync):
		code = http.StatusBadRequest
		resp.Error = "not_async"
		resp.Message = "job has no async task to poll"
	case errors.Is(err, status.ErrNoResults):
		code = http.StatusConflict
		resp.Error = "no_results"
		resp.Message = "job has no completed results yet"
	case errors.Is(err, domain.ErrPricingNotConfigured):
		resp.Error = "pricing_not_configured"
	case errors.Is(err, context.Canceled):
		// Client went away.
		code = 499
		resp.Error = "canceled"
	default:
		resp.Error = "internal"
	}
	if code >= http.StatusInternalServerError {
		a.log(r).Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
	}
	a.json(w, code, resp)
}

// log prefers the request scoped logger set by the access log middleware.
func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return a.Logger
}
