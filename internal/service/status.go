package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
)

// ErrJobNotFound is returned by StatusService.Get for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// StatusServiceOptions groups dependencies for StatusService.
type StatusServiceOptions struct {
	Store     core.JobRecordStore // Required
	Admission *AdmissionService   // Optional: enables Capacity
}

// StatusService is the read path over job records.
type StatusService struct {
	store     core.JobRecordStore
	admission *AdmissionService
}

// NewStatusService constructs a StatusService.
func NewStatusService(opts StatusServiceOptions) (*StatusService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobRecordStore is required")
	}
	return &StatusService{store: opts.Store, admission: opts.Admission}, nil
}

// Get returns the public projection of a job record.
func (s *StatusService) Get(ctx context.Context, jobID string) (*model.JobRecordView, error) {
	if jobID == "" {
		return nil, model.ErrJobIDRequired
	}
	rec, err := s.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, core.ErrJobRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job record %s: %w", jobID, err)
	}
	view := rec.View()
	return &view, nil
}

// List returns job records matching filter.
func (s *StatusService) List(ctx context.Context, filter model.JobRecordFilter) ([]model.JobRecordView, error) {
	recs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list job records: %w", err)
	}
	out := make([]model.JobRecordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.View())
	}
	return out, nil
}

// Capacity reports the current admission decision without admitting anything.
func (s *StatusService) Capacity(ctx context.Context) (model.AdmissionDecision, error) {
	if s.admission == nil {
		return model.AdmissionDecision{}, errors.New("capacity reporting is not configured")
	}
	return s.admission.CanExecute(ctx), nil
}
