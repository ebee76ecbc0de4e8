// Package httpx provides the HTTP surface of the agent job runner.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/target/smart-agent/internal/domain/model"
	apperrors "github.com/target/smart-agent/internal/errors"
	"github.com/target/smart-agent/internal/service"
)

// TaskRunner executes one task request end to end.
type TaskRunner interface {
	Run(ctx context.Context, req model.TaskRequest) (*model.RunResult, error)
}

// JobAborter cancels jobs by id.
type JobAborter interface {
	Abort(ctx context.Context, jobID string) (*service.AbortResult, error)
}

// StatusReader serves read-only job queries.
type StatusReader interface {
	Get(ctx context.Context, jobID string) (*model.JobRecordView, error)
	List(ctx context.Context, filter model.JobRecordFilter) ([]model.JobRecordView, error)
	Capacity(ctx context.Context) (model.AdmissionDecision, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Runner  TaskRunner
	Aborter JobAborter
	Status  StatusReader
	// Scope is applied to list queries so one agent only sees its own records.
	Scope  model.Tags
	Logger *slog.Logger
}

// Execute runs a task and answers with its result. The response is 200 for
// saturation and for worker failures; the body carries the outcome.
func (h *JobHandlers) Execute(w http.ResponseWriter, r *http.Request) {
	var req model.TaskRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	res, err := h.Runner.Run(r.Context(), req)
	if err != nil {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid task request"))
		return
	}

	switch {
	case res.Rejected():
		WriteJSON(w, http.StatusOK, map[string]any{"result": res.Admission})
	case res.Failure != nil:
		WriteJSON(w, http.StatusOK, res.Failure)
	case res.Task != nil:
		WriteJSON(w, http.StatusOK, res.Task)
	default:
		WriteAppError(w, apperrors.Internal("execution produced no result"))
	}
}

// GetStatus returns the record for the job named by {id} or ?id=.
func (h *JobHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.Status.Get(r.Context(), jobIDFrom(r))
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		WriteJSON(w, http.StatusNotFound, map[string]string{"status": "not_found"})
		return
	case err != nil:
		h.writeServiceError(r.Context(), w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": view.Status, "data": view})
}

// ListJobs returns records in this agent's scope, optionally filtered by ?status=.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := model.JobRecordFilter{
		Scope: h.Scope,
		Limit: parseLimit(r, defaultListLimit, maxListLimit),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		if err := filter.Status.UnmarshalText([]byte(raw)); err != nil {
			WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid status filter"))
			return
		}
	}

	views, err := h.Status.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": views, "count": len(views)})
}

// Abort stops the job named by {id} or ?id=.
func (h *JobHandlers) Abort(w http.ResponseWriter, r *http.Request) {
	res, err := h.Aborter.Abort(r.Context(), jobIDFrom(r))
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Capacity reports whether a new job would be admitted right now.
func (h *JobHandlers) Capacity(w http.ResponseWriter, r *http.Request) {
	decision, err := h.Status.Capacity(r.Context())
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"result": decision})
}

func (h *JobHandlers) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrJobIDRequired) {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid request"))
		return
	}
	if h.Logger != nil {
		h.Logger.ErrorContext(ctx, "job request failed", "error", err)
	}
	WriteAppError(w, err)
}
