package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/smart-agent/config"
	"github.com/target/smart-agent/internal/data"
	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/mocks"
	"github.com/target/smart-agent/internal/observability/statsd"
)

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:       5 * time.Minute,
		TerminalMaxAge: 24 * time.Hour,
		StaleMaxAge:    2 * time.Hour,
		BatchSize:      2,
	}
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Store:  data.NewMemoryJobRecordStore(nil),
			Config: testReaperConfig(),
			Logger: slog.Default(),
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when store is nil", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})
		require.Error(t, err)
	})

	t.Run("returns error without an interval", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Store: data.NewMemoryJobRecordStore(nil)})
		require.Error(t, err)
	})
}

func TestReaperService_RunOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := data.NewMemoryJobRecordStore(data.NewFixedTimeProvider(now))
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-30 * time.Minute)

	var recs []*model.JobRecord
	for i := range 5 {
		recs = append(recs, &model.JobRecord{
			ID: fmt.Sprintf("done-%d", i), Status: model.JobStatusCompleted,
			CreatedAt: old, UpdatedAt: old, Tags: testTags,
		})
	}
	recs = append(recs,
		&model.JobRecord{ID: "failed-old", Status: model.JobStatusError, CreatedAt: old, UpdatedAt: old, Tags: testTags},
		&model.JobRecord{ID: "aborted-old", Status: model.JobStatusAborted, CreatedAt: old, UpdatedAt: old, Tags: testTags},
		&model.JobRecord{ID: "stale", Status: model.JobStatusInProgress, IsExecutionContinue: true, CreatedAt: old, UpdatedAt: old, Tags: testTags},
		&model.JobRecord{ID: "running", Status: model.JobStatusInProgress, IsExecutionContinue: true, CreatedAt: recent, UpdatedAt: recent, Tags: testTags},
		&model.JobRecord{ID: "done-recent", Status: model.JobStatusCompleted, CreatedAt: recent, UpdatedAt: recent, Tags: testTags},
		&model.JobRecord{ID: "other-agent", Status: model.JobStatusCompleted, CreatedAt: old, UpdatedAt: old, Tags: model.Tags{AgentName: "other"}},
	)
	seedRecords(t, store, recs...)

	rec := &statsd.Recorder{}
	svc, err := NewReaperService(ReaperServiceOptions{
		Store:   store,
		Config:  testReaperConfig(),
		Scope:   model.Tags{AgentName: testTags.AgentName},
		Metrics: rec,
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.RunOnce(context.Background()))

	left, err := store.List(context.Background(), model.JobRecordFilter{})
	require.NoError(t, err)
	var ids []string
	for _, r := range left {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"running", "done-recent", "other-agent"}, ids)

	swept := rec.Named("job.swept")
	require.Len(t, swept, 1)
	assert.InDelta(t, 8, swept[0].Value, 0)
	assert.Len(t, rec.Named("reaper.last_success_epoch"), 1)
}

func TestReaperService_RunOnceListError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockJobRecordStore(ctrl)
	store.EXPECT().List(gomock.Any(), gomock.Any()).Return(nil, errors.New("redis down")).Times(4)

	rec := &statsd.Recorder{}
	svc, err := NewReaperService(ReaperServiceOptions{Store: store, Config: testReaperConfig(), Metrics: rec})
	require.NoError(t, err)

	err = svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")

	cleanup := rec.Named("reaper.cleanup")
	require.Len(t, cleanup, 1)
	assert.Equal(t, "error", cleanup[0].Tags["result"])
	assert.Empty(t, rec.Named("reaper.last_success_epoch"))
}

func TestReaperService_Run(t *testing.T) {
	t.Run("stops on context cancellation", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Store:  data.NewMemoryJobRecordStore(nil),
			Config: config.ReaperConfig{Interval: 10 * time.Millisecond, BatchSize: 10},
		})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err = svc.Run(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("returns nil when cancelled", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Store:  data.NewMemoryJobRecordStore(nil),
			Config: config.ReaperConfig{Interval: 10 * time.Millisecond, BatchSize: 10},
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Run(ctx) }()
		time.Sleep(25 * time.Millisecond)
		cancel()
		require.NoError(t, <-done)
	})
}
