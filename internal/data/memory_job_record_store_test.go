package data

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
)

func memRecord(id string, status model.JobStatus, tags model.Tags) *model.JobRecord {
	return &model.JobRecord{
		ID:                  id,
		Status:              status,
		IsExecutionContinue: status == model.JobStatusInProgress,
		Tags:                tags,
	}
}

func TestMemoryJobRecordStore_Lifecycle(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tp := NewFixedTimeProvider(start)
	store := NewMemoryJobRecordStore(tp)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, memRecord("job-1", model.JobStatusInProgress, model.Tags{AgentName: "a"})))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, start, got.CreatedAt)
	assert.Equal(t, start, got.UpdatedAt)

	tp.AddTime(time.Minute)
	found, err := store.Update(ctx, "job-1", model.JobRecordPatch{Result: json.RawMessage(`{"ok":true}`)})
	require.NoError(t, err)
	assert.True(t, found)

	got, err = store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Minute), got.UpdatedAt)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
	assert.Equal(t, model.JobStatusInProgress, got.Status)

	removed, err := store.Delete(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = store.Get(ctx, "job-1")
	require.ErrorIs(t, err, core.ErrJobRecordNotFound)
}

func TestMemoryJobRecordStore_UpdatedAtNeverMovesBackwards(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tp := NewFixedTimeProvider(start)
	store := NewMemoryJobRecordStore(tp)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, memRecord("job-1", model.JobStatusInProgress, model.Tags{})))

	tp.SetTime(start.Add(-time.Hour))
	_, err := store.Update(ctx, "job-1", model.StatusPatch(model.JobStatusCompleted, false))
	require.NoError(t, err)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, start, got.UpdatedAt)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestMemoryJobRecordStore_UpdateMissingIsNoop(t *testing.T) {
	store := NewMemoryJobRecordStore(nil)
	ctx := context.Background()

	found, err := store.Update(ctx, "ghost", model.StatusPatch(model.JobStatusCompleted, false))
	require.NoError(t, err)
	assert.False(t, found)

	all, err := store.List(ctx, model.JobRecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)

	removed, err := store.Delete(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMemoryJobRecordStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryJobRecordStore(nil)
	ctx := context.Background()
	rec := memRecord("job-1", model.JobStatusInProgress, model.Tags{})
	require.NoError(t, store.Create(ctx, rec))

	rec.Status = model.JobStatusError
	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, got.Status)

	got.Status = model.JobStatusAborted
	again, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusInProgress, again.Status)
}

func TestMemoryJobRecordStore_ListFilters(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tp := NewFixedTimeProvider(start)
	store := NewMemoryJobRecordStore(tp)
	ctx := context.Background()

	scope := model.Tags{AgentName: "discovery", Environment: "prod"}
	require.NoError(t, store.Create(ctx, memRecord("old", model.JobStatusInProgress, scope)))
	tp.AddTime(time.Hour)
	require.NoError(t, store.Create(ctx, memRecord("new", model.JobStatusInProgress, scope)))
	require.NoError(t, store.Create(ctx, memRecord("done", model.JobStatusCompleted, scope)))
	require.NoError(t, store.Create(ctx, memRecord("elsewhere", model.JobStatusInProgress,
		model.Tags{AgentName: "discovery", Environment: "dev"})))

	tests := []struct {
		name   string
		filter model.JobRecordFilter
		want   []string
	}{
		{
			name:   "status and scope oldest first",
			filter: model.JobRecordFilter{Status: model.JobStatusInProgress, Scope: scope},
			want:   []string{"old", "new"},
		},
		{
			name:   "older than",
			filter: model.JobRecordFilter{Scope: scope, OlderThan: start.Add(time.Minute)},
			want:   []string{"old"},
		},
		{
			name:   "limit",
			filter: model.JobRecordFilter{Status: model.JobStatusInProgress, Limit: 1},
			want:   []string{"old"},
		},
		{
			name:   "unscoped",
			filter: model.JobRecordFilter{Status: model.JobStatusInProgress},
			want:   []string{"old", "elsewhere", "new"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := store.List(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, len(recs))
			for i, r := range recs {
				ids[i] = r.ID
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestMemoryJobRecordStore_ConcurrentWriters(t *testing.T) {
	store := NewMemoryJobRecordStore(nil)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, memRecord("job-1", model.JobStatusInProgress, model.Tags{})))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.Update(ctx, "job-1", model.StatusPatch(model.JobStatusCompleted, false))
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Delete(ctx, "job-1")
		}()
	}
	wg.Wait()

	_, err := store.Get(ctx, "job-1")
	require.ErrorIs(t, err, core.ErrJobRecordNotFound)
}
