package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/target/smart-agent/internal/agent"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
	"github.com/target/smart-agent/internal/observability/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingNotifier captures every push synchronously.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []model.WebhookPayload
	urls  []string
	// onNotify runs before the payload is recorded.
	onNotify func(model.WebhookPayload)
}

func (n *recordingNotifier) Notify(_ context.Context, url string, payload model.WebhookPayload) {
	if n.onNotify != nil {
		n.onNotify(payload)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, payload)
	n.urls = append(n.urls, url)
}

func (n *recordingNotifier) payloads() []model.WebhookPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.WebhookPayload(nil), n.calls...)
}

// terminal returns the pushes that end a job: completed, error, or saturated.
func (n *recordingNotifier) terminal() []model.WebhookPayload {
	var out []model.WebhookPayload
	for _, p := range n.payloads() {
		if p.Status != model.WebhookInProgress {
			out = append(out, p)
		}
	}
	return out
}

// outputs returns the output fields of the inprogress pushes, by name.
func (n *recordingNotifier) outputs() map[string]model.OutputField {
	out := map[string]model.OutputField{}
	for _, p := range n.payloads() {
		d, ok := p.Data.(model.WebhookData)
		if !ok || p.Status != model.WebhookInProgress || d.Output == nil {
			continue
		}
		out[d.Output.Name] = *d.Output
	}
	return out
}

type recordingFailures struct {
	mu       sync.Mutex
	payloads []notify.JobFailurePayload
}

func (r *recordingFailures) NotifyJobFailure(_ context.Context, p notify.JobFailurePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
}

// stubPrompts renders a fixed system prompt and echoes the substituted input.
type stubPrompts struct {
	err error
}

func (s *stubPrompts) Render(_ context.Context, _ string, vars map[string]string) (*core.Prompt, error) {
	if s.err != nil {
		return nil, s.err
	}
	var input string
	for _, v := range vars {
		input = v
	}
	return &core.Prompt{System: "You are an interviewer.", User: input}, nil
}

// scriptedPrimary answers Respond calls from a script and records the requests.
type scriptedPrimary struct {
	mu       sync.Mutex
	requests []core.ResponseRequest
	replies  []string
	err      error
	// reasoning is attached to every reply.
	reasoning string
	// block, when set, is waited on before answering.
	block chan struct{}
}

func (p *scriptedPrimary) Respond(ctx context.Context, req core.ResponseRequest) (*core.ResponseReply, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	n := len(p.requests)
	if n > len(p.replies) {
		return nil, errors.New("script exhausted")
	}
	return &core.ResponseReply{
		Text:       p.replies[n-1],
		ResponseID: "resp_" + strings.Repeat("x", n),
		Reasoning:  p.reasoning,
	}, nil
}

func (p *scriptedPrimary) seen() []core.ResponseRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.ResponseRequest(nil), p.requests...)
}

type failingChat struct{ err error }

func (c failingChat) Chat(context.Context, core.ChatRequest) (string, error) { return "", c.err }

func newInterviewConversation(t *testing.T, primary core.ResponseProvider, chat core.ChatProvider) *agent.Conversation {
	t.Helper()
	return newVariantConversation(t, agent.InterviewVariant(), primary, chat)
}

func newVariantConversation(t *testing.T, v agent.Variant, primary core.ResponseProvider, chat core.ChatProvider) *agent.Conversation {
	t.Helper()
	conv, err := agent.NewConversation(agent.ConversationOptions{
		Prompts:  &stubPrompts{},
		Primary:  primary,
		Fallback: chat,
		Variant:  v,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	return conv
}

// panicRunner blows up inside the worker goroutine.
type panicRunner struct{}

func (panicRunner) Execute(context.Context, model.ConversationTurn) (*agent.TurnResult, error) {
	panic("provider client exploded")
}

func (panicRunner) Variant() agent.Variant { return agent.InterviewVariant() }

func taskRequest(id string, inputs ...model.TaskInput) model.TaskRequest {
	return model.TaskRequest{ID: id, WebhookURL: "http://hooks.local/" + id, Inputs: inputs}
}

func textInput(name, value string) model.TaskInput {
	raw, _ := json.Marshal(value)
	return model.TaskInput{Name: name, Data: raw}
}
