package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/smart-agent/config"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
	obserrors "github.com/target/smart-agent/internal/observability/errors"
	"github.com/target/smart-agent/internal/observability/metrics"
	"github.com/target/smart-agent/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Store   core.JobRecordStore // Required: job record store
	Config  config.ReaperConfig // Required: reaper configuration
	Scope   model.Tags          // Optional: restrict sweeps to these tags
	Logger  *slog.Logger        // Optional: structured logger
	Metrics statsd.Sink         // Optional: metrics sink (StatsD-compatible)
}

// ReaperService removes job records that no process will touch again.
//
// This service manages:
// - Deleting in-progress records left behind by crashed processes.
// - Deleting completed, failed, and aborted records past their retention.
type ReaperService struct {
	store   core.JobRecordStore
	config  config.ReaperConfig
	scope   model.Tags
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobRecordStore is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"terminal_max_age", opts.Config.TerminalMaxAge,
			"stale_max_age", opts.Config.StaleMaxAge,
		)
	}

	return &ReaperService{
		store:   opts.Store,
		config:  opts.Config,
		scope:   opts.Scope,
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Jitter keeps replicas that start together from sweeping in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(err, "sweep")
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// RunOnce performs one sweep over every reapable status.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()
	steps := []reapStep{
		{label: "stale in-progress", status: model.JobStatusInProgress, maxAge: s.config.StaleMaxAge},
		{label: "completed", status: model.JobStatusCompleted, maxAge: s.config.TerminalMaxAge},
		{label: "failed", status: model.JobStatusError, maxAge: s.config.TerminalMaxAge},
		{label: "aborted", status: model.JobStatusAborted, maxAge: s.config.TerminalMaxAge},
	}

	var (
		errs        []error
		allCanceled = true
		total       int
	)
	for _, step := range steps {
		count, err := s.reap(ctx, step)
		total += count
		s.emitOperationMetric(string(step.status), count, suppressContextCancellation(err))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			allCanceled = allCanceled && isContextCancellation(err)
		}
	}

	var joined error
	if len(errs) > 0 {
		joined = errors.Join(errs...)
	}
	s.emitSweepMetrics(total, suppressContextCancellation(joined), time.Since(start))

	if joined == nil {
		return nil
	}
	if allCanceled && isContextCancellation(joined) {
		return context.Canceled
	}
	return fmt.Errorf("sweep failed: %w", joined)
}

type reapStep struct {
	label  string
	status model.JobStatus
	maxAge time.Duration
}

// reap deletes records of one status older than the step's max age, one batch
// at a time, until a batch comes back short or removes nothing.
func (s *ReaperService) reap(ctx context.Context, step reapStep) (int, error) {
	cutoff := s.now().Add(-step.maxAge)
	var total int
	for {
		recs, err := s.store.List(ctx, model.JobRecordFilter{
			Status:    step.status,
			Scope:     s.scope,
			OlderThan: cutoff,
			Limit:     s.config.BatchSize,
		})
		if err != nil {
			return total, err
		}
		ids := recordIDs(recs)
		removed, err := removeRecords(ctx, s.store, ids, defaultCleanupConcurrency)
		total += removed
		if err != nil {
			return total, err
		}
		if removed == 0 || len(ids) < s.config.BatchSize {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "reaped job records",
			"status", step.status,
			"count", total,
			"max_age", step.maxAge,
		)
	}
	return total, nil
}

func (s *ReaperService) emitSweepMetrics(total int, err error, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if total == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}
	metrics.EmitSweep(s.metrics, metrics.TransitionReaped, total, err)

	if err == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(s.now().Unix()), nil)
	}
}

func (s *ReaperService) emitOperationMetric(status string, count int, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"status": status,
		"result": result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("reaper.records_removed", int64(count), metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
