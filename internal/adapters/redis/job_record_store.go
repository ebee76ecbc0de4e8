// Package redis provides Redis-based adapters for the smart-agent job runner.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
)

const defaultPrefix = "smart-agent:"

// Hash fields of a stored job record.
const (
	fieldID          = "id"
	fieldStatus      = "status"
	fieldContinue    = "isExecutionContinue"
	fieldPID         = "pid"
	fieldWorkerRef   = "worker_ref"
	fieldWebhookURL  = "webhookUrl"
	fieldResult      = "result"
	fieldError       = "error"
	fieldCreatedAt   = "created_at"
	fieldUpdatedAt   = "updated_at"
	fieldAgentName   = "agent_name"
	fieldAgentType   = "agent_type"
	fieldEnvironment = "environment"
)

// updateScript writes fields only when the record still exists so an update
// racing a delete is absorbed. updated_at only moves forward. It returns the
// record's created_at, or "" when the record is gone.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return ''
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'updated_at') or '0')
local ts = tonumber(ARGV[1])
if ts > cur then
  redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
end
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return redis.call('HGET', KEYS[1], 'created_at') or '0'
`)

// indexedStatuses each get a sorted set of record ids scored by creation time.
var indexedStatuses = []model.JobStatus{
	model.JobStatusPending,
	model.JobStatusInProgress,
	model.JobStatusCompleted,
	model.JobStatusError,
	model.JobStatusAborted,
}

// JobRecordStore keeps each job record in a hash. Ids are indexed in one sorted
// set for all records and one per status, both scored by creation time, so a
// capacity check reads only in-progress ids.
type JobRecordStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ core.JobRecordStore   = (*JobRecordStore)(nil)
	_ core.JobRecordExpirer = (*JobRecordStore)(nil)
)

// JobRecordStoreOptions configures a JobRecordStore.
type JobRecordStoreOptions struct {
	Client redis.UniversalClient
	Prefix string           // optional, defaults to "smart-agent:"
	Now    func() time.Time // optional, defaults to time.Now
	Logger *slog.Logger     // optional, defaults to slog.Default
}

// NewJobRecordStore creates a Redis-backed job record store.
func NewJobRecordStore(opts JobRecordStoreOptions) (*JobRecordStore, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRecordStore{
		client: opts.Client,
		prefix: prefix,
		now:    now,
		logger: logger.With("component", "redis_job_record_store"),
	}, nil
}

func (s *JobRecordStore) key(id string) string { return s.prefix + "job:" + id }

func (s *JobRecordStore) indexKey() string { return s.prefix + "jobs" }

func (s *JobRecordStore) statusIndexKey(status model.JobStatus) string {
	return s.prefix + "jobs:status:" + string(status)
}

// unindexStatus removes id from every per-status index.
func (s *JobRecordStore) unindexStatus(ctx context.Context, pipe redis.Pipeliner, id string) {
	for _, st := range indexedStatuses {
		pipe.ZRem(ctx, s.statusIndexKey(st), id)
	}
}

// Create replaces any record stored under rec.ID.
func (s *JobRecordStore) Create(ctx context.Context, rec *model.JobRecord) error {
	if rec == nil {
		return errors.New("job record is required")
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	key := s.key(rec.ID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, encodeRecord(rec))
		member := redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: rec.ID}
		pipe.ZAdd(ctx, s.indexKey(), member)
		s.unindexStatus(ctx, pipe, rec.ID)
		pipe.ZAdd(ctx, s.statusIndexKey(rec.Status), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis create job %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads a record by id.
func (s *JobRecordStore) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	if id == "" {
		return nil, core.ErrJobRecordNotFound
	}
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, core.ErrJobRecordNotFound
	}
	return decodeRecord(fields)
}

// Update applies patch to an existing record. Missing records are left absent.
// A status change moves the id to the new status index.
func (s *JobRecordStore) Update(ctx context.Context, id string, patch model.JobRecordPatch) (bool, error) {
	if id == "" {
		return false, nil
	}
	args := []any{strconv.FormatInt(s.now().UTC().UnixNano(), 10)}
	args = append(args, encodePatch(patch)...)

	created, err := updateScript.Run(ctx, s.client, []string{s.key(id)}, args...).Text()
	if err != nil {
		return false, fmt.Errorf("redis update job %s: %w", id, err)
	}
	if created == "" {
		return false, nil
	}
	if patch.Status == nil {
		return true, nil
	}

	createdAt, err := parseNanos(created)
	if err != nil {
		return true, fmt.Errorf("redis update job %s created_at: %w", id, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.unindexStatus(ctx, pipe, id)
		pipe.ZAdd(ctx, s.statusIndexKey(*patch.Status), redis.Z{Score: float64(createdAt.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("redis reindex job %s: %w", id, err)
	}
	return true, nil
}

// Delete removes the record and its index entries.
func (s *JobRecordStore) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		s.unindexStatus(ctx, pipe, id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete job %s: %w", id, err)
	}
	return del.Val() > 0, nil
}

// Expire sets a TTL on the record hash. Its index entries are pruned lazily by List.
func (s *JobRecordStore) Expire(ctx context.Context, id string, ttl time.Duration) error {
	if id == "" || ttl <= 0 {
		return nil
	}
	if err := s.client.Expire(ctx, s.key(id), ttl).Err(); err != nil {
		return fmt.Errorf("redis expire job %s: %w", id, err)
	}
	return nil
}

// List reads the status index when the filter names a status, otherwise the
// full index, oldest first. Scope and age are filtered in memory. Records that
// fail to decode are logged and skipped.
func (s *JobRecordStore) List(ctx context.Context, filter model.JobRecordFilter) ([]*model.JobRecord, error) {
	index := s.indexKey()
	if filter.Status != "" {
		index = s.statusIndexKey(filter.Status)
	}
	ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis list jobs: %w", err)
	}

	var (
		out   []*model.JobRecord
		stale []any
	)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		rec, decodeErr := decodeRecord(fields)
		if decodeErr != nil {
			s.logger.WarnContext(ctx, "skipping undecodable job record", "job_id", ids[i], "error", decodeErr)
			continue
		}
		if !filter.Matches(rec) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	if len(stale) > 0 {
		s.pruneStale(ctx, stale)
	}
	return out, nil
}

// pruneStale drops index members whose hashes have expired.
func (s *JobRecordStore) pruneStale(ctx context.Context, ids []any) {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.indexKey(), ids...)
		for _, st := range indexedStatuses {
			pipe.ZRem(ctx, s.statusIndexKey(st), ids...)
		}
		return nil
	})
	if err != nil {
		s.logger.DebugContext(ctx, "prune stale job index entries failed", "error", err)
	}
}

func encodeRecord(rec *model.JobRecord) map[string]any {
	return map[string]any{
		fieldID:          rec.ID,
		fieldStatus:      string(rec.Status),
		fieldContinue:    formatBool(rec.IsExecutionContinue),
		fieldPID:         strconv.Itoa(rec.PID),
		fieldWorkerRef:   rec.WorkerRef,
		fieldWebhookURL:  rec.WebhookURL,
		fieldResult:      string(rec.Result),
		fieldError:       rec.Error,
		fieldCreatedAt:   strconv.FormatInt(rec.CreatedAt.UTC().UnixNano(), 10),
		fieldUpdatedAt:   strconv.FormatInt(rec.UpdatedAt.UTC().UnixNano(), 10),
		fieldAgentName:   rec.AgentName,
		fieldAgentType:   rec.AgentType,
		fieldEnvironment: rec.Environment,
	}
}

func encodePatch(p model.JobRecordPatch) []any {
	var out []any
	if p.Status != nil {
		out = append(out, fieldStatus, string(*p.Status))
	}
	if p.IsExecutionContinue != nil {
		out = append(out, fieldContinue, formatBool(*p.IsExecutionContinue))
	}
	if p.WorkerRef != nil {
		out = append(out, fieldWorkerRef, *p.WorkerRef)
	}
	if p.Result != nil {
		out = append(out, fieldResult, string(p.Result))
	}
	if p.Error != nil {
		out = append(out, fieldError, *p.Error)
	}
	return out
}

func decodeRecord(fields map[string]string) (*model.JobRecord, error) {
	rec := &model.JobRecord{
		ID:                  fields[fieldID],
		Status:              model.JobStatus(fields[fieldStatus]),
		IsExecutionContinue: fields[fieldContinue] == "1",
		WorkerRef:           fields[fieldWorkerRef],
		WebhookURL:          fields[fieldWebhookURL],
		Error:               fields[fieldError],
		Tags: model.Tags{
			AgentName:   fields[fieldAgentName],
			AgentType:   fields[fieldAgentType],
			Environment: fields[fieldEnvironment],
		},
	}
	if v := fields[fieldResult]; v != "" {
		rec.Result = []byte(v)
	}
	if v := fields[fieldPID]; v != "" {
		pid, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s pid: %w", rec.ID, err)
		}
		rec.PID = pid
	}
	var err error
	if rec.CreatedAt, err = parseNanos(fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("decode job %s created_at: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = parseNanos(fields[fieldUpdatedAt]); err != nil {
		return nil, fmt.Errorf("decode job %s updated_at: %w", rec.ID, err)
	}
	return rec, nil
}

func parseNanos(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
