package data

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
)

// MemoryJobRecordStore is a process-local JobRecordStore for single-instance
// deployments and tests. Records are copied on the way in and out.
type MemoryJobRecordStore struct {
	mu           sync.RWMutex
	records      map[string]*model.JobRecord
	timeProvider TimeProvider
}

var _ core.JobRecordStore = (*MemoryJobRecordStore)(nil)

// NewMemoryJobRecordStore creates an empty store. tp may be nil.
func NewMemoryJobRecordStore(tp TimeProvider) *MemoryJobRecordStore {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MemoryJobRecordStore{records: make(map[string]*model.JobRecord), timeProvider: tp}
}

func (s *MemoryJobRecordStore) Create(_ context.Context, rec *model.JobRecord) error {
	if rec == nil {
		return errors.New("job record is required")
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	now := s.timeProvider.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *MemoryJobRecordStore) Get(_ context.Context, id string) (*model.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, core.ErrJobRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryJobRecordStore) Update(_ context.Context, id string, patch model.JobRecordPatch) (bool, error) {
	now := s.timeProvider.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return false, nil
	}
	patch.Apply(rec, now)
	return true, nil
}

func (s *MemoryJobRecordStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *MemoryJobRecordStore) List(_ context.Context, filter model.JobRecordFilter) ([]*model.JobRecord, error) {
	s.mu.RLock()
	out := make([]*model.JobRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Matches(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func cloneRecord(rec *model.JobRecord) *model.JobRecord {
	c := *rec
	if rec.Result != nil {
		c.Result = append([]byte(nil), rec.Result...)
	}
	return &c
}
