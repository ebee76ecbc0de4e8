package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/data/database"
	"github.com/target/smart-agent/internal/data/pgxutil"
	"github.com/target/smart-agent/internal/domain/model"
	apperrors "github.com/target/smart-agent/internal/errors"
)

// RepoConfig holds configuration options for the Postgres job record repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRecordRepo stores job records in the job_records table.
type JobRecordRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var (
	_ core.JobRecordStore       = (*JobRecordRepo)(nil)
	_ core.JobRecordBulkDeleter = (*JobRecordRepo)(nil)
)

// NewJobRecordRepo creates a new JobRecordRepo.
func NewJobRecordRepo(db *sql.DB, cfg RepoConfig) *JobRecordRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRecordRepo{DB: db, timeProvider: tp, logger: logger.With("component", "job_record_repo")}
}

const jobRecordTable = "job_records"

var jobRecordColumns = []string{
	"id", "status", "is_execution_continue", "pid", "worker_ref", "webhook_url",
	"result", "error", "agent_name", "agent_type", "environment", "created_at", "updated_at",
}

const upsertJobRecordSQL = `
	INSERT INTO job_records (
		id, status, is_execution_continue, pid, worker_ref, webhook_url,
		result, error, agent_name, agent_type, environment, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		is_execution_continue = EXCLUDED.is_execution_continue,
		pid = EXCLUDED.pid,
		worker_ref = EXCLUDED.worker_ref,
		webhook_url = EXCLUDED.webhook_url,
		result = EXCLUDED.result,
		error = EXCLUDED.error,
		agent_name = EXCLUDED.agent_name,
		agent_type = EXCLUDED.agent_type,
		environment = EXCLUDED.environment,
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at`

// Create inserts rec, replacing an existing row with the same id.
func (r *JobRecordRepo) Create(ctx context.Context, rec *model.JobRecord) error {
	if rec == nil {
		return errors.New("job record is required")
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	now := r.timeProvider.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	_, err := r.DB.ExecContext(ctx, upsertJobRecordSQL,
		rec.ID, string(rec.Status), rec.IsExecutionContinue, rec.PID, rec.WorkerRef, rec.WebhookURL,
		nullableJSON(rec.Result), rec.Error, rec.AgentName, rec.AgentType, rec.Environment,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create job record %s: %w", rec.ID, apperrors.MapDBError(err))
	}
	return nil
}

// Get loads one record.
func (r *JobRecordRepo) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	query, args := database.BuildListQuery(database.NewListQueryOptions(jobRecordTable,
		database.WithColumns(jobRecordColumns...),
		database.WithCondition(database.WhereCond("id", database.Equal, id)),
	))
	rec, err := scanJobRecord(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrJobRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job record %s: %w", id, apperrors.MapDBError(err))
	}
	return rec, nil
}

const updateJobRecordSQL = `
	UPDATE job_records SET
		status = COALESCE($2, status),
		is_execution_continue = COALESCE($3, is_execution_continue),
		worker_ref = COALESCE($4, worker_ref),
		result = COALESCE($5::jsonb, result),
		error = COALESCE($6, error),
		updated_at = GREATEST(updated_at, $7)
	WHERE id = $1`

// Update applies patch. A missing row yields (false, nil).
func (r *JobRecordRepo) Update(ctx context.Context, id string, patch model.JobRecordPatch) (bool, error) {
	var status any
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	res, err := r.DB.ExecContext(ctx, updateJobRecordSQL,
		id, status, nullableBool(patch.IsExecutionContinue), nullableString(patch.WorkerRef),
		nullableJSON(patch.Result), nullableString(patch.Error), r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("update job record %s: %w", id, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update job record %s: %w", id, err)
	}
	return n > 0, nil
}

// Delete removes one record.
func (r *JobRecordRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM job_records WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete job record %s: %w", id, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job record %s: %w", id, err)
	}
	return n > 0, nil
}

// DeleteMany removes the given ids in one transaction and returns the number removed.
func (r *JobRecordRepo) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var removed int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `DELETE FROM job_records WHERE id = ANY($1)`, ids)
			if err != nil {
				return err
			}
			removed = tag.RowsAffected()
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("delete job records: %w", apperrors.MapDBError(err))
	}
	return int(removed), nil
}

// List returns matching records ordered by creation time.
func (r *JobRecordRepo) List(ctx context.Context, filter model.JobRecordFilter) ([]*model.JobRecord, error) {
	opts := []database.ListQueryOption{
		database.WithColumns(jobRecordColumns...),
		database.WithOrderBy("created_at", "ASC"),
		database.WithLimit(filter.Limit),
	}
	if filter.Status != "" {
		opts = append(opts, database.WithCondition(database.WhereCond("status", database.Equal, string(filter.Status))))
	}
	if filter.Scope.AgentName != "" {
		opts = append(opts, database.WithCondition(database.WhereCond("agent_name", database.Equal, filter.Scope.AgentName)))
	}
	if filter.Scope.Environment != "" {
		opts = append(opts, database.WithCondition(database.WhereCond("environment", database.Equal, filter.Scope.Environment)))
	}
	if !filter.OlderThan.IsZero() {
		opts = append(opts, database.WithCondition(database.WhereCond("updated_at", database.LessThan, filter.OlderThan)))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions(jobRecordTable, opts...))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list job records: %w", apperrors.MapDBError(err))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.WarnContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var out []*model.JobRecord
	for rows.Next() {
		rec, scanErr := scanJobRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job record: %w", scanErr)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRecord(row rowScanner) (*model.JobRecord, error) {
	var (
		rec    model.JobRecord
		status string
		result []byte
	)
	err := row.Scan(
		&rec.ID, &status, &rec.IsExecutionContinue, &rec.PID, &rec.WorkerRef, &rec.WebhookURL,
		&result, &rec.Error, &rec.AgentName, &rec.AgentType, &rec.Environment,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = model.JobStatus(status)
	if len(result) > 0 {
		rec.Result = json.RawMessage(result)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
