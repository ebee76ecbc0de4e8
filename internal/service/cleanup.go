package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/observability/metrics"
	"github.com/target/smart-agent/internal/observability/statsd"
)

const (
	defaultCleanupTimeout     = 10 * time.Second
	defaultCleanupConcurrency = 8
)

// CleanupConfig scopes and bounds the process-exit sweep.
type CleanupConfig struct {
	Scope       model.Tags
	Timeout     time.Duration
	Concurrency int
}

// CleanupServiceOptions groups dependencies for CleanupService.
type CleanupServiceOptions struct {
	Store   core.JobRecordStore // Required
	Config  CleanupConfig
	Logger  *slog.Logger // Optional
	Metrics statsd.Sink  // Optional
}

// CleanupService removes this process's in-progress records when it exits so
// they stop consuming capacity. The sweep runs at most once per process.
type CleanupService struct {
	store   core.JobRecordStore
	config  CleanupConfig
	logger  *slog.Logger
	metrics statsd.Sink

	once    sync.Once
	removed int
	err     error
}

// NewCleanupService constructs a CleanupService.
func NewCleanupService(opts CleanupServiceOptions) (*CleanupService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobRecordStore is required")
	}
	cfg := opts.Config
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCleanupTimeout
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaultCleanupConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupService{
		store:   opts.Store,
		config:  cfg,
		logger:  logger.With("component", "cleanup"),
		metrics: opts.Metrics,
	}, nil
}

// Sweep removes in-progress records in scope. Later calls return the first
// call's outcome without touching the store.
func (s *CleanupService) Sweep(ctx context.Context) (int, error) {
	s.once.Do(func() {
		s.removed, s.err = s.sweep(ctx)
	})
	return s.removed, s.err
}

func (s *CleanupService) sweep(ctx context.Context) (int, error) {
	// Shutdown contexts are usually already cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Timeout)
	defer cancel()

	recs, err := s.store.List(ctx, model.JobRecordFilter{
		Status: model.JobStatusInProgress,
		Scope:  s.config.Scope,
	})
	if err != nil {
		serr := storeErr("list", "", err)
		logStoreError(ctx, s.logger, serr)
		metrics.EmitSweep(s.metrics, metrics.TransitionCleaned, 0, serr)
		return 0, serr
	}

	ids := recordIDs(recs)
	for _, id := range ids {
		s.logger.InfoContext(ctx, "cleaning up job", "job_id", id)
	}
	removed, err := removeRecords(ctx, s.store, ids, s.config.Concurrency)
	if err != nil {
		s.logger.WarnContext(ctx, "cleanup incomplete", "removed", removed, "total", len(ids), "error", err)
	} else if removed > 0 {
		s.logger.InfoContext(ctx, "cleanup finished", "removed", removed)
	}
	metrics.EmitSweep(s.metrics, metrics.TransitionCleaned, removed, err)
	return removed, err
}

func recordIDs(recs []*model.JobRecord) []string {
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		if rec != nil && rec.ID != "" {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// removeRecords deletes ids, in one call when the store supports bulk deletes
// and otherwise in parallel with at most concurrency calls in flight.
// Every id is attempted; failures are joined.
func removeRecords(ctx context.Context, store core.JobRecordStore, ids []string, concurrency int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if bulk, ok := store.(core.JobRecordBulkDeleter); ok {
		n, err := bulk.DeleteMany(ctx, ids)
		return n, storeErrOrNil("delete_many", "", err)
	}

	var (
		removed atomic.Int64
		mu      sync.Mutex
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, id := range ids {
		g.Go(func() error {
			ok, err := store.Delete(gctx, id)
			if err != nil {
				mu.Lock()
				errs = append(errs, storeErr("delete", id, err))
				mu.Unlock()
				return nil
			}
			if ok {
				removed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return int(removed.Load()), fmt.Errorf("delete %d of %d records: %w", len(errs), len(ids), errors.Join(errs...))
	}
	return int(removed.Load()), nil
}

// storeErrOrNil avoids returning a typed nil *StoreError as a non-nil error.
func storeErrOrNil(op, jobID string, err error) error {
	if serr := storeErr(op, jobID, err); serr != nil {
		return serr
	}
	return nil
}
