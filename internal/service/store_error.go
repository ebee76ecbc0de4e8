package service

import (
	"context"
	"fmt"
	"log/slog"
)

// StoreError is the non-fatal outcome of a job record store call. Bookkeeping
// failures never change what the caller sees, but they are always logged.
type StoreError struct {
	Op    string
	JobID string
	Err   error
}

func (e *StoreError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("job record store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("job record store %s %s: %v", e.Op, e.JobID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ErrorClass implements obserrors.Classed.
func (e *StoreError) ErrorClass() string { return "store_" + e.Op }

// storeErr wraps err, returning nil when err is nil.
func storeErr(op, jobID string, err error) *StoreError {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, JobID: jobID, Err: err}
}

// logStoreError records a non-fatal store failure. A nil error is ignored.
func logStoreError(ctx context.Context, logger *slog.Logger, serr *StoreError) {
	if serr == nil || logger == nil {
		return
	}
	logger.WarnContext(ctx, "job record store call failed",
		"op", serr.Op,
		"job_id", serr.JobID,
		"error", serr.Err,
	)
}
