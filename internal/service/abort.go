package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/observability/metrics"
	"github.com/target/smart-agent/internal/observability/statsd"
)

// AbortStatus is the outcome reported by an abort request.
type AbortStatus string

const (
	AbortSuccess  AbortStatus = "success"
	AbortNotFound AbortStatus = "not_found"
)

// AbortResult is the abort response body.
type AbortResult struct {
	Result string      `json:"result"`
	Status AbortStatus `json:"status"`
}

// AbortServiceOptions groups dependencies for AbortService.
type AbortServiceOptions struct {
	Store   core.JobRecordStore // Required
	Logger  *slog.Logger        // Optional
	Metrics statsd.Sink         // Optional
}

// AbortService cancels jobs at the record level only. The running worker and
// its provider call are not interrupted; a late write from the worker lands on
// an aborted or deleted record and is harmless.
type AbortService struct {
	store   core.JobRecordStore
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewAbortService constructs an AbortService.
func NewAbortService(opts AbortServiceOptions) (*AbortService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobRecordStore is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AbortService{
		store:   opts.Store,
		logger:  logger.With("component", "abort"),
		metrics: opts.Metrics,
	}, nil
}

// Abort flips the job to aborted and removes its record. Only a failed read is
// returned as an error; the update and delete are best-effort.
func (s *AbortService) Abort(ctx context.Context, jobID string) (*AbortResult, error) {
	if jobID == "" {
		return nil, model.ErrJobIDRequired
	}

	if _, err := s.store.Get(ctx, jobID); err != nil {
		if errors.Is(err, core.ErrJobRecordNotFound) {
			metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
				Transition: metrics.TransitionAborted,
				Result:     metrics.ResultNoop,
			})
			return &AbortResult{
				Result: fmt.Sprintf("No running execution with id %s", jobID),
				Status: AbortNotFound,
			}, nil
		}
		return nil, fmt.Errorf("read job record %s: %w", jobID, err)
	}

	if _, err := s.store.Update(ctx, jobID, model.StatusPatch(model.JobStatusAborted, false)); err != nil {
		logStoreError(ctx, s.logger, storeErr("update", jobID, err))
	}

	removed, err := s.store.Delete(ctx, jobID)
	switch {
	case err != nil:
		logStoreError(ctx, s.logger, storeErr("delete", jobID, err))
	case removed:
		s.logger.InfoContext(ctx, "removed job record after abort", "job_id", jobID)
	default:
		s.logger.WarnContext(ctx, "job record already gone after abort; status set to aborted", "job_id", jobID)
	}

	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: metrics.TransitionAborted,
		Result:     metrics.ResultSuccess,
	})
	return &AbortResult{
		Result: fmt.Sprintf("Execution %s stopped successfully", jobID),
		Status: AbortSuccess,
	}, nil
}
