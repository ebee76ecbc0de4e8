package model

import "fmt"

// WebhookStatus is the status field of an outbound notification.
type WebhookStatus string

const (
	WebhookInProgress WebhookStatus = "inprogress"
	WebhookCompleted  WebhookStatus = "completed"
	WebhookError      WebhookStatus = "error"
	// WebhookSaturated reports an admission rejection; no job record exists for it.
	WebhookSaturated WebhookStatus = "saturated"
)

// WebhookData is the data section of a progress or terminal notification.
type WebhookData struct {
	Title  string       `json:"title,omitempty"`
	Info   string       `json:"info,omitempty"`
	Output *OutputField `json:"output,omitempty"`
}

// WebhookErrorData is the data section of an error notification.
type WebhookErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WebhookPayload is posted to the task's webhook URL.
type WebhookPayload struct {
	ID     string        `json:"id,omitempty"`
	Status WebhookStatus `json:"status"`
	Data   any           `json:"data"`
}

// NextTaskOutputName names the continuation checkpoint output.
const NextTaskOutputName = "next_task_awaiting_input"

// NextTask describes the follow-up task the external orchestrator should schedule.
type NextTask struct {
	AgentIdentifier string          `json:"agentIdentifier"`
	TaskDetails     NextTaskDetails `json:"taskDetails"`
}

// NextTaskDetails carries the inputs of the follow-up task.
type NextTaskDetails struct {
	Inputs []NextTaskInput `json:"inputs"`
}

// NextTaskInput is one input of the follow-up task.
type NextTaskInput struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// NextTaskEnvelope wraps a NextTask the way the orchestrator expects it.
type NextTaskEnvelope struct {
	NextTask NextTask `json:"nextTask"`
}

// NextTaskOutput builds the continuation checkpoint output for a non-final turn.
func NextTaskOutput(agentIdentifier, token, text string) OutputField {
	return OutputField{
		Name: NextTaskOutputName,
		Type: OutputTypeNextTaskAwaitingInput,
		Data: []NextTaskEnvelope{{
			NextTask: NextTask{
				AgentIdentifier: agentIdentifier,
				TaskDetails: NextTaskDetails{Inputs: []NextTaskInput{
					{Name: InputHistory, Data: token},
					{Name: InputOutput, Data: text},
				}},
			},
		}},
	}
}

// ProgressPayload builds an inprogress notification carrying one output field.
func ProgressPayload(id, title, info string, out *OutputField) WebhookPayload {
	return WebhookPayload{
		ID:     id,
		Status: WebhookInProgress,
		Data:   WebhookData{Title: title, Info: info, Output: out},
	}
}

// CompletedPayload builds a terminal success notification.
func CompletedPayload(id, title, info string, out OutputField) WebhookPayload {
	return WebhookPayload{
		ID:     id,
		Status: WebhookCompleted,
		Data:   WebhookData{Title: title, Info: info, Output: &out},
	}
}

// ErrorPayload builds the terminal error notification.
func ErrorPayload(id string, code int, message string) WebhookPayload {
	return WebhookPayload{
		ID:     id,
		Status: WebhookError,
		Data:   WebhookErrorData{Code: code, Message: message},
	}
}

// SaturatedPayload builds the single notification sent for a rejected request.
func SaturatedPayload(id string, decision AdmissionDecision) WebhookPayload {
	return WebhookPayload{
		ID:     id,
		Status: WebhookSaturated,
		Data: WebhookData{
			Title: "Agent busy",
			Info:  fmt.Sprintf("Agent is at capacity (%d/%d running)", decision.Running, decision.Limit),
		},
	}
}
