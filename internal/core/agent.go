package core

import (
	"context"
	"errors"

	"github.com/target/smart-agent/internal/domain/model"
)

// ErrPromptTemplate marks prompt template faults: unreadable file, missing
// message blocks, or an unresolved substitution.
var ErrPromptTemplate = errors.New("prompt template error")

// Prompt is a rendered system/user pair plus the model settings it declares.
type Prompt struct {
	System string
	User   string
	Params model.ModelParameters
}

// PromptSource loads and renders a named prompt template.
type PromptSource interface {
	Render(ctx context.Context, name string, vars map[string]string) (*Prompt, error)
}

// ResponseRequest is a call on the primary, server-side-stateful provider path.
// System is sent only when PreviousResponseID is empty.
type ResponseRequest struct {
	Params             model.ModelParameters
	System             string
	User               string
	PreviousResponseID string
	// ReasoningSummary asks the provider for a reasoning summary ("auto", "concise", "detailed").
	ReasoningSummary string
}

// ResponseReply is the primary path's answer.
type ResponseReply struct {
	Text       string
	ResponseID string
	// Reasoning joins the reasoning summary parts, when requested and returned.
	Reasoning string
}

// ResponseProvider is the primary call path.
type ResponseProvider interface {
	Respond(ctx context.Context, req ResponseRequest) (*ResponseReply, error)
}

// ChatRequest carries an explicit ordered history for the fallback path.
type ChatRequest struct {
	Params   model.ModelParameters
	Messages []model.Message
}

// ChatProvider is the fallback call path.
type ChatProvider interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// WebhookSender delivers one payload to one URL.
type WebhookSender interface {
	Send(ctx context.Context, url string, payload model.WebhookPayload) error
}

// Notifier queues outbound notifications without blocking the caller.
// Notifications for the same job id are delivered in submission order.
type Notifier interface {
	Notify(ctx context.Context, url string, payload model.WebhookPayload)
}
