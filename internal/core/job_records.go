package core

import (
	"context"
	"errors"
	"time"

	"github.com/target/smart-agent/internal/domain/model"
)

// ErrJobRecordNotFound is returned by JobRecordStore.Get when no record exists.
var ErrJobRecordNotFound = errors.New("job record not found")

// JobRecordStore is the best-effort key/value store for job records.
// Implementations must be safe for concurrent use by multiple processes with
// last-writer-wins semantics; individual field updates need not be atomic with each other.
type JobRecordStore interface {
	// Create stores a new record. An existing record with the same id is replaced.
	Create(ctx context.Context, rec *model.JobRecord) error
	// Get returns ErrJobRecordNotFound when the id is unknown.
	Get(ctx context.Context, id string) (*model.JobRecord, error)
	// Update applies patch and reports whether a record was found.
	// Updating a missing record is a no-op, never an error.
	Update(ctx context.Context, id string, patch model.JobRecordPatch) (bool, error)
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, id string) (bool, error)
	// List returns records matching filter, oldest first.
	List(ctx context.Context, filter model.JobRecordFilter) ([]*model.JobRecord, error)
}

// JobRecordExpirer is implemented by stores that can expire records natively.
type JobRecordExpirer interface {
	Expire(ctx context.Context, id string, ttl time.Duration) error
}

// JobRecordBulkDeleter is implemented by stores that can remove many records in one call.
type JobRecordBulkDeleter interface {
	DeleteMany(ctx context.Context, ids []string) (int, error)
}

// CountInProgress returns the number of records that occupy a capacity slot in scope.
func CountInProgress(ctx context.Context, store JobRecordStore, scope model.Tags) (int, error) {
	recs, err := store.List(ctx, model.JobRecordFilter{Status: model.JobStatusInProgress, Scope: scope})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if rec.CountsTowardCapacity() {
			n++
		}
	}
	return n, nil
}
