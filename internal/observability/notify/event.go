// Package notify defines the operator alert payload for failed agent jobs.
package notify

import (
	"context"
	"time"
)

// Severity levels understood by the alert sinks.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
)

// JobFailurePayload describes one failed agent job.
type JobFailurePayload struct {
	JobID       string
	AgentName   string
	Variant     string
	Environment string
	// Path is the provider path that was active when the job failed, when known.
	Path       string
	Error      string
	ErrorClass string
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink receives job failure alerts.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements Sink.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}

// Label returns "agent/variant" for display, skipping empty parts.
func (p JobFailurePayload) Label() string {
	switch {
	case p.AgentName != "" && p.Variant != "":
		return p.AgentName + "/" + p.Variant
	case p.AgentName != "":
		return p.AgentName
	default:
		return p.Variant
	}
}
