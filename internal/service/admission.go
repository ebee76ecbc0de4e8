package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/observability/metrics"
	"github.com/target/smart-agent/internal/observability/statsd"
)

// AdmissionConfig bounds how many jobs this process's scope may run at once.
type AdmissionConfig struct {
	// Limit is the concurrency limit; values below 1 are treated as 1.
	Limit int
	// Scope restricts counting to records carrying these tags.
	Scope model.Tags
}

// AdmissionServiceOptions groups dependencies for AdmissionService.
type AdmissionServiceOptions struct {
	Store   core.JobRecordStore // Required
	Config  AdmissionConfig
	Logger  *slog.Logger // Optional
	Metrics statsd.Sink  // Optional
}

// AdmissionService is the capacity gate consulted before a job record is created.
// Admission and record creation are separate steps, so a burst at the limit can
// briefly admit more jobs than Limit.
type AdmissionService struct {
	store   core.JobRecordStore
	config  AdmissionConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewAdmissionService constructs an AdmissionService.
func NewAdmissionService(opts AdmissionServiceOptions) (*AdmissionService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobRecordStore is required")
	}
	cfg := opts.Config
	if cfg.Limit < 1 {
		cfg.Limit = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AdmissionService{
		store:   opts.Store,
		config:  cfg,
		logger:  logger.With("component", "admission"),
		metrics: opts.Metrics,
	}, nil
}

// Limit returns the effective concurrency limit.
func (s *AdmissionService) Limit() int { return s.config.Limit }

// CanExecute reports whether a new job may start. It has no side effects.
// A store read failure is logged and counted as zero running jobs.
func (s *AdmissionService) CanExecute(ctx context.Context) model.AdmissionDecision {
	running, err := core.CountInProgress(ctx, s.store, s.config.Scope)
	if err != nil {
		logStoreError(ctx, s.logger, storeErr("count", "", err))
		running = 0
	}

	metrics.EmitCapacity(s.metrics, running, s.config.Limit)

	decision := model.AdmissionDecision{
		Status:  model.AdmissionAvailable,
		Running: running,
		Limit:   s.config.Limit,
	}
	if running >= s.config.Limit {
		decision.Status = model.AdmissionSaturated
	}
	return decision
}
