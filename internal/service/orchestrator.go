package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
	obserrors "github.com/target/smart-agent/internal/observability/errors"
	"github.com/target/smart-agent/internal/observability/metrics"
	"github.com/target/smart-agent/internal/observability/notify"
	"github.com/target/smart-agent/internal/observability/statsd"
)

// FailureReporter receives fatal job failures for operator alerting.
type FailureReporter interface {
	NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload)
}

// OrchestratorDeps are the collaborators of one execute cycle.
type OrchestratorDeps struct {
	Admission *AdmissionService   // Required
	Worker    *WorkerService      // Required
	Store     core.JobRecordStore // Required
	Notifier  core.Notifier       // Optional: rejection and error webhooks
	Failures  FailureReporter     // Optional
	Metrics   statsd.Sink         // Optional
}

// OrchestratorConfig holds the per-process values stamped onto records.
type OrchestratorConfig struct {
	Tags    model.Tags
	Variant string
	// RecordTTL is applied to terminal records by stores that support expiry.
	RecordTTL time.Duration
}

// OrchestratorServiceOptions groups dependencies for OrchestratorService.
type OrchestratorServiceOptions struct {
	Deps   OrchestratorDeps
	Config OrchestratorConfig
	Logger *slog.Logger
}

// OrchestratorService runs admission, record creation, the worker, and final
// persistence as one request/response cycle.
type OrchestratorService struct {
	deps   OrchestratorDeps
	config OrchestratorConfig
	logger *slog.Logger
	now    func() time.Time
	pid    int
}

// NewOrchestratorService constructs an OrchestratorService.
func NewOrchestratorService(opts OrchestratorServiceOptions) (*OrchestratorService, error) {
	switch {
	case opts.Deps.Admission == nil:
		return nil, errors.New("AdmissionService is required")
	case opts.Deps.Worker == nil:
		return nil, errors.New("WorkerService is required")
	case opts.Deps.Store == nil:
		return nil, errors.New("JobRecordStore is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OrchestratorService{
		deps:   opts.Deps,
		config: opts.Config,
		logger: logger.With("component", "orchestrator"),
		now:    time.Now,
		pid:    os.Getpid(),
	}, nil
}

// MustNewOrchestratorService constructs an OrchestratorService and panics on error.
func MustNewOrchestratorService(opts OrchestratorServiceOptions) *OrchestratorService {
	svc, err := NewOrchestratorService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// Run executes one task request. The returned error is non-nil only for a
// request that fails validation; worker failures come back as RunResult.Failure.
func (s *OrchestratorService) Run(ctx context.Context, req model.TaskRequest) (*model.RunResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate task request: %w", err)
	}
	pusher := newJobPusher(s.deps.Notifier, req.ID, req.WebhookURL)

	decision := s.deps.Admission.CanExecute(ctx)
	if !decision.Available() {
		s.logger.InfoContext(ctx, "rejecting job, agent saturated",
			"job_id", req.ID,
			"running", decision.Running,
			"limit", decision.Limit,
		)
		pusher.saturated(ctx, decision)
		metrics.EmitJobLifecycle(s.deps.Metrics, metrics.JobMetric{
			Variant:    s.config.Variant,
			Transition: metrics.TransitionRejected,
			Result:     metrics.ResultNoop,
		})
		return &model.RunResult{Admission: &decision}, nil
	}

	// The caller going away must not abandon the join or the final write.
	detached := context.WithoutCancel(ctx)
	workerRef := uuid.NewString()
	s.createRecord(detached, req, workerRef)
	metrics.EmitJobLifecycle(s.deps.Metrics, metrics.JobMetric{
		Variant:    s.config.Variant,
		Transition: metrics.TransitionAdmitted,
		Result:     metrics.ResultSuccess,
	})

	start := s.now()
	res, ok := <-s.deps.Worker.Start(detached, req.NormalizedTask())
	if !ok {
		res = WorkerResult{Err: model.ErrNoWorkerResult}
	}
	elapsed := s.now().Sub(start)

	s.persistFinal(detached, req.ID, res)

	if res.Err != nil {
		return s.fail(detached, req, pusher, res, elapsed), nil
	}

	metrics.EmitJobLifecycle(s.deps.Metrics, metrics.JobMetric{
		Variant:    s.config.Variant,
		Transition: metrics.TransitionCompleted,
		Result:     metrics.ResultSuccess,
		Path:       string(res.Path),
		Duration:   elapsed,
	})
	return &model.RunResult{Task: res.Value}, nil
}

func (s *OrchestratorService) createRecord(ctx context.Context, req model.TaskRequest, workerRef string) {
	now := s.now().UTC()
	rec := &model.JobRecord{
		ID:                  req.ID,
		Status:              model.JobStatusInProgress,
		IsExecutionContinue: true,
		PID:                 s.pid,
		WorkerRef:           workerRef,
		WebhookURL:          req.WebhookURL,
		CreatedAt:           now,
		UpdatedAt:           now,
		Tags:                s.config.Tags,
	}
	if err := s.deps.Store.Create(ctx, rec); err != nil {
		logStoreError(ctx, s.logger, storeErr("create", req.ID, err))
		return
	}
	s.logger.DebugContext(ctx, "job record created", "job_id", req.ID, "worker_ref", workerRef)
}

// persistFinal writes the terminal status. Store failures are logged only.
func (s *OrchestratorService) persistFinal(ctx context.Context, jobID string, res WorkerResult) {
	patch := model.StatusPatch(model.JobStatusCompleted, false)
	if res.Err != nil {
		patch = model.StatusPatch(model.JobStatusError, false)
		msg := res.Err.Error()
		patch.Error = &msg
	} else if res.Value != nil {
		raw, err := json.Marshal(res.Value)
		if err != nil {
			s.logger.WarnContext(ctx, "encode job result", "job_id", jobID, "error", err)
		} else {
			patch.Result = raw
		}
	}

	found, err := s.deps.Store.Update(ctx, jobID, patch)
	if err != nil {
		logStoreError(ctx, s.logger, storeErr("update", jobID, err))
		return
	}
	if !found {
		s.logger.InfoContext(ctx, "job record gone before final update", "job_id", jobID)
		return
	}

	if s.config.RecordTTL <= 0 {
		return
	}
	if exp, ok := s.deps.Store.(core.JobRecordExpirer); ok {
		logStoreError(ctx, s.logger, storeErr("expire", jobID, exp.Expire(ctx, jobID, s.config.RecordTTL)))
	}
}

func (s *OrchestratorService) fail(
	ctx context.Context,
	req model.TaskRequest,
	pusher jobPusher,
	res WorkerResult,
	elapsed time.Duration,
) *model.RunResult {
	msg := res.Err.Error()
	s.logger.ErrorContext(ctx, "job failed", "job_id", req.ID, "error", res.Err)

	pusher.failed(ctx, http.StatusInternalServerError, msg)

	metrics.EmitJobLifecycle(s.deps.Metrics, metrics.JobMetric{
		Variant:    s.config.Variant,
		Transition: metrics.TransitionCompleted,
		Result:     metrics.ResultError,
		Path:       string(res.Path),
		Duration:   elapsed,
		Err:        res.Err,
	})

	if s.deps.Failures != nil {
		s.deps.Failures.NotifyJobFailure(ctx, notify.JobFailurePayload{
			JobID:       req.ID,
			AgentName:   s.config.Tags.AgentName,
			Variant:     s.config.Variant,
			Environment: s.config.Tags.Environment,
			Path:        string(res.Path),
			Error:       msg,
			ErrorClass:  obserrors.Classify(res.Err),
			OccurredAt:  s.now().UTC(),
		})
	}

	return &model.RunResult{Failure: &model.ErrorEnvelope{Status: "error", Message: msg}}
}
