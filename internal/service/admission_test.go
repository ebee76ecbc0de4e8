package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/mocks"
	"github.com/target/smart-agent/internal/observability/statsd"
)

func TestNewAdmissionService(t *testing.T) {
	_, err := NewAdmissionService(AdmissionServiceOptions{})
	require.Error(t, err)

	ctrl := gomock.NewController(t)
	svc, err := NewAdmissionService(AdmissionServiceOptions{Store: mocks.NewMockJobRecordStore(ctrl)})
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Limit(), "limit defaults to one")
}

func TestAdmissionService_CanExecute(t *testing.T) {
	scope := model.Tags{AgentName: "discovery", Environment: "prod"}
	running := &model.JobRecord{ID: "a", Status: model.JobStatusInProgress, IsExecutionContinue: true}
	aborted := &model.JobRecord{ID: "b", Status: model.JobStatusInProgress, IsExecutionContinue: false}

	tests := []struct {
		name        string
		limit       int
		records     []*model.JobRecord
		listErr     error
		wantStatus  model.AdmissionStatus
		wantRunning int
	}{
		{name: "empty store", limit: 1, wantStatus: model.AdmissionAvailable},
		{name: "at limit", limit: 1, records: []*model.JobRecord{running}, wantStatus: model.AdmissionSaturated, wantRunning: 1},
		{name: "below limit", limit: 2, records: []*model.JobRecord{running}, wantStatus: model.AdmissionAvailable, wantRunning: 1},
		{
			name:       "records not continuing do not count",
			limit:      1,
			records:    []*model.JobRecord{aborted},
			wantStatus: model.AdmissionAvailable,
		},
		{name: "store failure counts as zero", limit: 1, listErr: errors.New("redis down"), wantStatus: model.AdmissionAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			store := mocks.NewMockJobRecordStore(ctrl)
			store.EXPECT().
				List(gomock.Any(), model.JobRecordFilter{Status: model.JobStatusInProgress, Scope: scope}).
				Return(tt.records, tt.listErr)

			rec := &statsd.Recorder{}
			svc, err := NewAdmissionService(AdmissionServiceOptions{
				Store:   store,
				Config:  AdmissionConfig{Limit: tt.limit, Scope: scope},
				Logger:  discardLogger(),
				Metrics: rec,
			})
			require.NoError(t, err)

			got := svc.CanExecute(context.Background())
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantRunning, got.Running)
			assert.Equal(t, tt.limit, got.Limit)

			gauges := rec.Named("capacity.running")
			require.Len(t, gauges, 1)
			assert.InDelta(t, float64(tt.wantRunning), gauges[0].Value, 0)
		})
	}
}
