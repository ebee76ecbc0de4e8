// Package model defines the core data types shared by the smart-agent job runner.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a job record.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// JobStatusPending indicates a job has been accepted but not yet started.
	JobStatusPending JobStatus = "pending"
	// JobStatusInProgress indicates a worker is executing the job.
	JobStatusInProgress JobStatus = "inprogress"
	// JobStatusCompleted indicates the worker finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusError indicates the worker finished with a fatal error.
	JobStatusError JobStatus = "error"
	// JobStatusAborted indicates the job was cancelled through the abort operation.
	JobStatusAborted JobStatus = "aborted"
)

// ErrJobIDRequired is returned when a record or request has no id.
var ErrJobIDRequired = errors.New("job id is required")

// Valid returns true if the JobStatus is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusError, JobStatusAborted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further worker-driven transition is expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError || s == JobStatusAborted
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Tags classify the process that owns a record. They scope capacity counting and cleanup sweeps.
type Tags struct {
	AgentName   string `json:"agent_name"`
	AgentType   string `json:"agent_type"`
	Environment string `json:"environment"`
}

// Matches reports whether the record tags fall inside the scope described by t.
// Empty scope fields match anything.
func (t Tags) Matches(other Tags) bool {
	if t.AgentName != "" && t.AgentName != other.AgentName {
		return false
	}
	if t.Environment != "" && t.Environment != other.Environment {
		return false
	}
	return true
}

// JobRecord is the best-effort durable representation of one task execution.
type JobRecord struct {
	ID                  string          `json:"id"`
	Status              JobStatus       `json:"status"`
	IsExecutionContinue bool            `json:"isExecutionContinue"`
	PID                 int             `json:"pid"`
	WorkerRef           string          `json:"worker_ref,omitempty"`
	WebhookURL          string          `json:"webhookUrl,omitempty"`
	Result              json.RawMessage `json:"result,omitempty"`
	Error               string          `json:"error,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Tags
}

// Validate checks the fields required to create a record.
func (r *JobRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrJobIDRequired
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid job status %q", r.Status)
	}
	return nil
}

// CountsTowardCapacity reports whether the record occupies an admission slot.
func (r *JobRecord) CountsTowardCapacity() bool {
	return r.Status == JobStatusInProgress && r.IsExecutionContinue
}

// JobRecordPatch describes a per-field update. Nil fields are left unchanged.
// UpdatedAt is always refreshed by the store.
type JobRecordPatch struct {
	Status              *JobStatus
	IsExecutionContinue *bool
	WorkerRef           *string
	Result              json.RawMessage
	Error               *string
}

// Empty reports whether the patch changes nothing besides the timestamp.
func (p JobRecordPatch) Empty() bool {
	return p.Status == nil && p.IsExecutionContinue == nil && p.WorkerRef == nil &&
		p.Result == nil && p.Error == nil
}

// Apply writes the patch onto rec and stamps UpdatedAt. UpdatedAt never moves backwards.
func (p JobRecordPatch) Apply(rec *JobRecord, now time.Time) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.IsExecutionContinue != nil {
		rec.IsExecutionContinue = *p.IsExecutionContinue
	}
	if p.WorkerRef != nil {
		rec.WorkerRef = *p.WorkerRef
	}
	if p.Result != nil {
		rec.Result = append(json.RawMessage(nil), p.Result...)
	}
	if p.Error != nil {
		rec.Error = *p.Error
	}
	if now.After(rec.UpdatedAt) {
		rec.UpdatedAt = now
	}
}

// StatusPatch is a convenience constructor for the common terminal update.
func StatusPatch(status JobStatus, executionContinues bool) JobRecordPatch {
	return JobRecordPatch{
		Status:              &status,
		IsExecutionContinue: &executionContinues,
	}
}

// JobRecordFilter scopes list queries.
type JobRecordFilter struct {
	Status JobStatus
	Scope  Tags
	// OlderThan restricts results to records whose UpdatedAt is before the given time (zero = no bound).
	OlderThan time.Time
	Limit     int
}

// Matches reports whether rec satisfies the filter.
func (f JobRecordFilter) Matches(rec *JobRecord) bool {
	if rec == nil {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if !f.Scope.Matches(rec.Tags) {
		return false
	}
	if !f.OlderThan.IsZero() && !rec.UpdatedAt.Before(f.OlderThan) {
		return false
	}
	return true
}

// JobRecordView is the public projection returned by status queries.
type JobRecordView struct {
	ID                  string          `json:"id"`
	Status              JobStatus       `json:"status"`
	IsExecutionContinue bool            `json:"isExecutionContinue"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	AgentName           string          `json:"agent_name"`
	AgentType           string          `json:"agent_type"`
	Environment         string          `json:"environment"`
	Result              json.RawMessage `json:"result,omitempty"`
	Error               string          `json:"error,omitempty"`
}

// View projects a record for external status queries.
func (r *JobRecord) View() JobRecordView {
	return JobRecordView{
		ID:                  r.ID,
		Status:              r.Status,
		IsExecutionContinue: r.IsExecutionContinue,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		AgentName:           r.AgentName,
		AgentType:           r.AgentType,
		Environment:         r.Environment,
		Result:              r.Result,
		Error:               r.Error,
	}
}
