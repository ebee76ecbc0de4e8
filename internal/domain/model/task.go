package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Well-known task input names.
const (
	InputUserInput = "userInput"
	InputHistory   = "history"
	InputOutput    = "output"
	InputRequestID = "request_id"
	// InputThreadID carries the provider thread of a threaded variant.
	InputThreadID     = "threadId"
	InputSelectedText = "selectedText"
	InputInstructions = "instructions"
)

// TaskInput is one named input supplied by the external orchestrator.
type TaskInput struct {
	Name string          `json:"name"`
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data"`
}

// TaskRequest is the inbound execute payload.
type TaskRequest struct {
	ID         string      `json:"id"`
	WebhookURL string      `json:"webhookUrl"`
	Inputs     []TaskInput `json:"inputs"`
}

// Validate checks the request shape before admission.
func (r TaskRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrJobIDRequired
	}
	for i, in := range r.Inputs {
		if strings.TrimSpace(in.Name) == "" {
			return fmt.Errorf("input %d: name is required", i)
		}
	}
	return nil
}

// TaskInputs is the flattened name→value view of a request's inputs.
type TaskInputs map[string]string

// Normalize flattens the inputs list into a map. Later duplicates win.
// String data is unquoted; any other JSON value is kept as its raw text.
func (r TaskRequest) Normalize() TaskInputs {
	out := make(TaskInputs, len(r.Inputs))
	for _, in := range r.Inputs {
		out[in.Name] = inputText(in.Data)
	}
	return out
}

func inputText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return trimmed
}

// Get returns the named input or "" when absent.
func (in TaskInputs) Get(name string) string {
	if in == nil {
		return ""
	}
	return in[name]
}

// NormalizedTask is what the execution worker receives.
type NormalizedTask struct {
	ID         string
	WebhookURL string
	Inputs     TaskInputs
}

// NormalizedTask builds the worker payload from the request.
func (r TaskRequest) NormalizedTask() NormalizedTask {
	return NormalizedTask{
		ID:         r.ID,
		WebhookURL: r.WebhookURL,
		Inputs:     r.Normalize(),
	}
}

// AdmissionStatus is the outcome of a capacity check.
type AdmissionStatus string

const (
	// AdmissionAvailable means a new job may start.
	AdmissionAvailable AdmissionStatus = "available"
	// AdmissionSaturated means the concurrency limit is reached.
	AdmissionSaturated AdmissionStatus = "saturated"
)

// AdmissionDecision is returned by the admission controller.
type AdmissionDecision struct {
	Status  AdmissionStatus `json:"status"`
	Running int             `json:"running"`
	Limit   int             `json:"limit"`
}

// Available reports whether the decision admits a new job.
func (d AdmissionDecision) Available() bool {
	return d.Status == AdmissionAvailable
}

// OutputField is a named, typed output value as used in results and webhooks.
type OutputField struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Output field types understood by the external orchestrator.
const (
	OutputTypeLongText              = "longText"
	OutputTypeShortText             = "shortText"
	OutputTypeMarkdown              = "markdown"
	OutputTypeBoolean               = "boolean"
	OutputTypeNextTaskAwaitingInput = "nextTaskAwaitingInput"
)

// TaskResult is the successful execute response body.
type TaskResult struct {
	Result     OutputField `json:"result"`
	IsComplete bool        `json:"isComplete"`
	History    string      `json:"history"`
	Summary    *string     `json:"summary"`
	// Explanation is the provider's reasoning summary, when one was requested.
	Explanation *string `json:"explanation,omitempty"`
	// ResponseID repeats History for variants that continue by thread id.
	ResponseID string `json:"responseId,omitempty"`
}

// ErrorEnvelope is returned to the caller when the worker fails.
type ErrorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RunResult is the orchestrator's outcome for one execute call.
// Exactly one of the pointer fields is set.
type RunResult struct {
	Admission *AdmissionDecision
	Task      *TaskResult
	Failure   *ErrorEnvelope
}

// Rejected reports whether admission refused the job.
func (r *RunResult) Rejected() bool {
	return r != nil && r.Admission != nil
}

// ErrNoWorkerResult is reported when the worker exits without delivering a result.
var ErrNoWorkerResult = errors.New("no response received from worker")
