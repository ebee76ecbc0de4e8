package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/testutil"
)

func setupStore(t *testing.T) (*JobRecordStore, *redis.Client) {
	t.Helper()
	client := testutil.SetupTestRedis(t)

	// Unique prefix keeps parallel packages from seeing each other's records.
	store, err := NewJobRecordStore(JobRecordStoreOptions{
		Client: client,
		Prefix: "test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	return store, client
}

func newRecord(id string, tags model.Tags) *model.JobRecord {
	return &model.JobRecord{
		ID:                  id,
		Status:              model.JobStatusInProgress,
		IsExecutionContinue: true,
		PID:                 4242,
		WorkerRef:           "worker-" + id,
		WebhookURL:          "http://hooks.local/" + id,
		Tags:                tags,
	}
}

func TestNewJobRecordStore_RequiresClient(t *testing.T) {
	_, err := NewJobRecordStore(JobRecordStoreOptions{})
	require.Error(t, err)
}

func TestJobRecordStore_CreateAndGet(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	rec := newRecord("job-1", model.Tags{AgentName: "discovery", AgentType: "interview", Environment: "dev"})
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, model.JobStatusInProgress, got.Status)
	assert.True(t, got.IsExecutionContinue)
	assert.Equal(t, 4242, got.PID)
	assert.Equal(t, "worker-job-1", got.WorkerRef)
	assert.Equal(t, "http://hooks.local/job-1", got.WebhookURL)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, 5*time.Second)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestJobRecordStore_GetMissing(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, core.ErrJobRecordNotFound)
}

func TestJobRecordStore_Update(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("job-u", model.Tags{})))

	msg := "boom"
	patch := model.StatusPatch(model.JobStatusError, false)
	patch.Error = &msg
	patch.Result = json.RawMessage(`{"status":"error"}`)

	found, err := store.Update(ctx, "job-u", patch)
	require.NoError(t, err)
	assert.True(t, found)

	got, err := store.Get(ctx, "job-u")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusError, got.Status)
	assert.False(t, got.IsExecutionContinue)
	assert.Equal(t, "boom", got.Error)
	assert.JSONEq(t, `{"status":"error"}`, string(got.Result))
	assert.Equal(t, "worker-job-u", got.WorkerRef)
}

func TestJobRecordStore_UpdateAfterDeleteIsNoop(t *testing.T) {
	store, client := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("job-d", model.Tags{})))

	removed, err := store.Delete(ctx, "job-d")
	require.NoError(t, err)
	assert.True(t, removed)

	found, err := store.Update(ctx, "job-d", model.StatusPatch(model.JobStatusCompleted, false))
	require.NoError(t, err)
	assert.False(t, found)

	exists, err := client.Exists(ctx, store.key("job-d")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "update must not resurrect a deleted record")

	removed, err = store.Delete(ctx, "job-d")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestJobRecordStore_ListFiltersByStatusAndScope(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	mine := model.Tags{AgentName: "discovery", Environment: "dev"}
	other := model.Tags{AgentName: "story", Environment: "dev"}

	require.NoError(t, store.Create(ctx, newRecord("a", mine)))
	require.NoError(t, store.Create(ctx, newRecord("b", other)))
	done := newRecord("c", mine)
	done.Status = model.JobStatusCompleted
	done.IsExecutionContinue = false
	require.NoError(t, store.Create(ctx, done))

	recs, err := store.List(ctx, model.JobRecordFilter{Status: model.JobStatusInProgress, Scope: mine})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)

	all, err := store.List(ctx, model.JobRecordFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := core.CountInProgress(ctx, store, model.Tags{Environment: "dev"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJobRecordStore_ExpirePrunesIndex(t *testing.T) {
	store, client := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("short", model.Tags{})))

	require.NoError(t, store.Expire(ctx, "short", time.Hour))
	ttl, err := client.TTL(ctx, store.key("short")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	// Simulate expiry of the hash.
	require.NoError(t, client.Del(ctx, store.key("short")).Err())

	recs, err := store.List(ctx, model.JobRecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	members, err := client.ZCard(ctx, store.indexKey()).Result()
	require.NoError(t, err)
	assert.Zero(t, members)

	members, err = client.ZCard(ctx, store.statusIndexKey(model.JobStatusInProgress)).Result()
	require.NoError(t, err)
	assert.Zero(t, members)
}

func TestJobRecordStore_StatusIndexFollowsUpdates(t *testing.T) {
	store, client := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("job-s", model.Tags{})))

	inProgress := store.statusIndexKey(model.JobStatusInProgress)
	completed := store.statusIndexKey(model.JobStatusCompleted)

	ids, err := client.ZRange(ctx, inProgress, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"job-s"}, ids)

	found, err := store.Update(ctx, "job-s", model.StatusPatch(model.JobStatusCompleted, false))
	require.NoError(t, err)
	assert.True(t, found)

	n, err := client.ZCard(ctx, inProgress).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "completed records leave the in-progress index")
	ids, err = client.ZRange(ctx, completed, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"job-s"}, ids)

	count, err := core.CountInProgress(ctx, store, model.Tags{})
	require.NoError(t, err)
	assert.Zero(t, count)

	// Recreating under the same id resets the index membership.
	require.NoError(t, store.Create(ctx, newRecord("job-s", model.Tags{})))
	n, err = client.ZCard(ctx, completed).Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	removed, err := store.Delete(ctx, "job-s")
	require.NoError(t, err)
	assert.True(t, removed)
	n, err = client.ZCard(ctx, inProgress).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJobRecordStore_ListSkipsUndecodableRecords(t *testing.T) {
	store, client := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("good", model.Tags{})))
	require.NoError(t, store.Create(ctx, newRecord("bad", model.Tags{})))
	require.NoError(t, client.HSet(ctx, store.key("bad"), fieldPID, "not-a-number").Err())

	recs, err := store.List(ctx, model.JobRecordFilter{Status: model.JobStatusInProgress})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "good", recs[0].ID)

	count, err := core.CountInProgress(ctx, store, model.Tags{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
