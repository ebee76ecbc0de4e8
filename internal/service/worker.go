package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/target/smart-agent/internal/agent"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
)

// TurnRunner runs one conversation turn for a fixed agent variant.
type TurnRunner interface {
	Execute(ctx context.Context, turn model.ConversationTurn) (*agent.TurnResult, error)
	Variant() agent.Variant
}

// WorkerResult crosses the goroutine boundary in place of a panic or exception.
// Exactly one of Value and Err is set.
type WorkerResult struct {
	Value *model.TaskResult
	Path  agent.Path
	Err   error
}

// WorkerServiceOptions groups dependencies for WorkerService.
type WorkerServiceOptions struct {
	Conversation TurnRunner    // Required
	Notifier     core.Notifier // Optional: progress and terminal webhooks
	Logger       *slog.Logger  // Optional
}

// WorkerService executes one task on its own goroutine.
type WorkerService struct {
	conversation TurnRunner
	notifier     core.Notifier
	logger       *slog.Logger
	now          func() time.Time
}

// NewWorkerService constructs a WorkerService.
func NewWorkerService(opts WorkerServiceOptions) (*WorkerService, error) {
	if opts.Conversation == nil {
		return nil, errors.New("conversation is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerService{
		conversation: opts.Conversation,
		notifier:     opts.Notifier,
		logger:       logger.With("component", "worker"),
		now:          time.Now,
	}, nil
}

// Start runs task on a new goroutine. The returned channel yields exactly one
// result and is then closed. A panic in the task becomes an error result.
func (w *WorkerService) Start(ctx context.Context, task model.NormalizedTask) <-chan WorkerResult {
	out := make(chan WorkerResult, 1)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				w.logger.ErrorContext(ctx, "worker panicked",
					"job_id", task.ID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				out <- WorkerResult{Err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		value, path, err := w.Execute(ctx, task)
		if err != nil {
			out <- WorkerResult{Path: path, Err: err}
			return
		}
		out <- WorkerResult{Value: value, Path: path}
	}()
	return out
}

// Execute runs one turn synchronously and pushes the progress and terminal
// webhooks for a successful turn. Failures are reported by the caller.
func (w *WorkerService) Execute(ctx context.Context, task model.NormalizedTask) (*model.TaskResult, agent.Path, error) {
	variant := w.conversation.Variant()
	requestID := task.Inputs.Get(model.InputRequestID)
	if requestID == "" {
		requestID = newRequestID(w.now())
	}
	logger := w.logger.With("job_id", task.ID, "request_id", requestID)
	pusher := newJobPusher(w.notifier, task.ID, task.WebhookURL)

	userInput := task.Inputs.Get(model.InputUserInput)
	if userInput == "" && variant.InputKey != "" {
		userInput = task.Inputs.Get(variant.InputKey)
	}
	var token model.ContinuationToken
	if variant.Continues() {
		token = model.ParseContinuationToken(task.Inputs.Get(tokenInput(variant)))
	}

	logger.InfoContext(ctx, "executing turn",
		"variant", variant.Name,
		"mode", variant.Mode.String(),
		"continuing", !token.IsZero(),
		"token_kind", token.Kind.String(),
	)
	pusher.progress(ctx, variant.StartTitle, variant.StartInfo)

	res, err := w.conversation.Execute(ctx, model.ConversationTurn{
		UserInput: userInput,
		Token:     token,
		Inputs:    task.Inputs,
	})
	if err != nil {
		return nil, "", fmt.Errorf("execute turn: %w", err)
	}

	history, err := res.Token.Encode()
	if err != nil {
		return nil, res.Path, fmt.Errorf("encode continuation token: %w", err)
	}

	var out *model.TaskResult
	switch variant.Mode {
	case agent.ModeThread:
		out = reportThreadTurn(ctx, pusher, variant, res, history)
	case agent.ModeSingleShot:
		out = reportSingleShot(ctx, pusher, variant, res)
	default:
		out = reportInterviewTurn(ctx, pusher, variant, res, history)
	}

	logger.InfoContext(ctx, "turn finished",
		"path", res.Path,
		"is_complete", res.IsComplete,
		"reply_len", len(res.Text),
	)
	return out, res.Path, nil
}

func tokenInput(v agent.Variant) string {
	if v.TokenInput == "" {
		return model.InputHistory
	}
	return v.TokenInput
}

// reportInterviewTurn pushes the turn outputs and either the final summary or a
// next-task envelope that carries the continuation token.
func reportInterviewTurn(ctx context.Context, pusher jobPusher, variant agent.Variant, res *agent.TurnResult, history string) *model.TaskResult {
	pusher.output(ctx, OutputNameOutput, model.OutputTypeLongText, res.Text)
	pusher.output(ctx, OutputNameHistory, model.OutputTypeLongText, history)
	if res.IsComplete {
		pusher.output(ctx, OutputNameIsComplete, model.OutputTypeBoolean, true)
		if res.Summary != nil {
			pusher.output(ctx, OutputNameSummary, variant.SummaryType, *res.Summary)
		}
		final := res.Text
		if res.Summary != nil {
			final = *res.Summary
		}
		pusher.completed(ctx, variant.CompletedTitle, variant.CompletedInfo, model.OutputField{
			Name: OutputNameOutput,
			Type: variant.SummaryType,
			Data: final,
		})
	} else {
		pusher.completed(ctx, "", "", model.NextTaskOutput(variant.AgentIdentifier, history, res.Text))
	}

	return &model.TaskResult{
		Result:     model.OutputField{Name: OutputNameOutput, Type: model.OutputTypeLongText, Data: res.Text},
		IsComplete: res.IsComplete,
		History:    history,
		Summary:    res.Summary,
	}
}

// reportThreadTurn pushes the reasoning explanation and the thread id, then
// completes with the answer. The caller continues by sending the thread id back.
func reportThreadTurn(ctx context.Context, pusher jobPusher, variant agent.Variant, res *agent.TurnResult, history string) *model.TaskResult {
	result := model.OutputField{Name: variant.ResultName, Type: variant.ResultType, Data: res.Text}
	if res.Explanation != nil {
		pusher.output(ctx, OutputNameExplanation, model.OutputTypeLongText, *res.Explanation)
	}
	pusher.output(ctx, OutputNameThreadID, model.OutputTypeShortText, history)
	pusher.completed(ctx, variant.CompletedTitle, variant.CompletedInfo, result)

	return &model.TaskResult{
		Result:      result,
		IsComplete:  true,
		History:     history,
		Explanation: res.Explanation,
		ResponseID:  history,
	}
}

// reportSingleShot tells the caller the result is ready and completes with it.
func reportSingleShot(ctx context.Context, pusher jobPusher, variant agent.Variant, res *agent.TurnResult) *model.TaskResult {
	result := model.OutputField{Name: variant.ResultName, Type: variant.ResultType, Data: res.Text}
	pusher.progress(ctx, variant.ReadyTitle, variant.ReadyInfo)
	pusher.completed(ctx, variant.CompletedTitle, variant.CompletedInfo, result)

	return &model.TaskResult{Result: result, IsComplete: true}
}

// newRequestID returns ids like req-20250301-120000-1a2b3c4d.
func newRequestID(now time.Time) string {
	return fmt.Sprintf("req-%s-%s", now.UTC().Format("20060102-150405"), uuid.NewString()[:8])
}
