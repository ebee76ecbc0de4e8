package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/smart-agent/internal/data"
	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/mocks"
)

func TestStatusService_Get(t *testing.T) {
	store := data.NewMemoryJobRecordStore(nil)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &model.JobRecord{
		ID: "job-1", Status: model.JobStatusInProgress, IsExecutionContinue: true,
		WorkerRef: "internal", Tags: testTags,
	}))

	svc, err := NewStatusService(StatusServiceOptions{Store: store})
	require.NoError(t, err)

	view, err := svc.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, view.Status)
	assert.Equal(t, "discovery", view.AgentName)

	_, err = svc.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)

	_, err = svc.Get(ctx, "")
	require.ErrorIs(t, err, model.ErrJobIDRequired)
}

func TestStatusService_GetStoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockJobRecordStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "job-1").Return(nil, errors.New("timeout"))

	svc, err := NewStatusService(StatusServiceOptions{Store: store})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "job-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrJobNotFound)
}

func TestStatusService_ListAndCapacity(t *testing.T) {
	store := data.NewMemoryJobRecordStore(nil)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &model.JobRecord{ID: "a", Status: model.JobStatusInProgress, IsExecutionContinue: true, Tags: testTags}))
	require.NoError(t, store.Create(ctx, &model.JobRecord{ID: "b", Status: model.JobStatusCompleted, Tags: testTags}))

	admission, err := NewAdmissionService(AdmissionServiceOptions{Store: store, Config: AdmissionConfig{Limit: 1, Scope: testTags}})
	require.NoError(t, err)
	svc, err := NewStatusService(StatusServiceOptions{Store: store, Admission: admission})
	require.NoError(t, err)

	views, err := svc.List(ctx, model.JobRecordFilter{Status: model.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "b", views[0].ID)

	decision, err := svc.Capacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.AdmissionSaturated, decision.Status)

	bare, err := NewStatusService(StatusServiceOptions{Store: store})
	require.NoError(t, err)
	_, err = bare.Capacity(ctx)
	require.Error(t, err)

	_, err = NewStatusService(StatusServiceOptions{})
	require.Error(t, err)
}
