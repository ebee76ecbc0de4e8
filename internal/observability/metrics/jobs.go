// Package metrics emits the agent job lifecycle metrics.
package metrics

import (
	"time"

	obserrors "github.com/target/smart-agent/internal/observability/errors"
	"github.com/target/smart-agent/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Lifecycle transitions.
const (
	TransitionAdmitted  = "admitted"
	TransitionRejected  = "rejected"
	TransitionCompleted = "completed"
	TransitionAborted   = "aborted"
	TransitionCleaned   = "cleaned"
	TransitionReaped    = "reaped"
)

// JobMetric captures one job lifecycle event.
type JobMetric struct {
	Variant    string
	Transition string
	Result     string
	// Path is the provider path that produced the turn, if any.
	Path     string
	Duration time.Duration
	Err      error
}

// EmitJobLifecycle emits job.transition and, when a duration is known, job.duration.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"variant":    in.Variant,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Path != "" {
		tags["path"] = in.Path
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// EmitCapacity records the running count seen by an admission check.
func EmitCapacity(sink statsd.Sink, running, limit int) {
	if sink == nil {
		return
	}
	sink.Gauge("capacity.running", float64(running), nil)
	sink.Gauge("capacity.limit", float64(limit), nil)
}

// EmitSweep records how many records a cleanup or reaper pass removed.
func EmitSweep(sink statsd.Sink, transition string, removed int, err error) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	switch {
	case err != nil:
		result = ResultError
	case removed == 0:
		result = ResultNoop
	}
	tags := map[string]string{"transition": transition, "result": result}
	sink.Count("job.swept", int64(removed), tags)
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
