// Package agent implements one turn of a multi-turn conversation with a language model.
// It keeps no conversation state: prior context lives with the provider or in the
// continuation token handed back to the caller.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
)

var (
	// ErrProviderFailed is returned when both the primary and the fallback path fail.
	ErrProviderFailed = errors.New("language model provider failed")
	// ErrMalformedTurn is returned for turn input that cannot be turned into a request.
	ErrMalformedTurn = errors.New("malformed conversation turn")
)

// Path names the provider path that produced a reply.
type Path string

const (
	PathPrimary  Path = "primary"
	PathFallback Path = "fallback"
)

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	Text       string
	Token      model.ContinuationToken
	IsComplete bool
	Summary    *string
	Path       Path
	// Explanation is the provider's reasoning summary, primary path only.
	Explanation *string
}

// ConversationOptions configures a Conversation.
type ConversationOptions struct {
	Prompts  core.PromptSource
	Primary  core.ResponseProvider
	Fallback core.ChatProvider // optional; without it a primary failure is fatal
	Variant  Variant
	Logger   *slog.Logger
}

// Conversation runs turns for one agent variant.
type Conversation struct {
	prompts  core.PromptSource
	primary  core.ResponseProvider
	fallback core.ChatProvider
	variant  Variant
	logger   *slog.Logger
}

// NewConversation validates options and builds a Conversation.
func NewConversation(opts ConversationOptions) (*Conversation, error) {
	if opts.Prompts == nil {
		return nil, errors.New("prompt source is required")
	}
	if opts.Primary == nil && opts.Fallback == nil {
		return nil, errors.New("at least one provider is required")
	}
	if opts.Variant.Detector == nil {
		return nil, errors.New("variant detector is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{
		prompts:  opts.Prompts,
		primary:  opts.Primary,
		fallback: opts.Fallback,
		variant:  opts.Variant,
		logger:   logger.With("component", "conversation", "variant", opts.Variant.Name),
	}, nil
}

// Variant returns the variant this conversation runs.
func (c *Conversation) Variant() Variant { return c.variant }

// Execute runs one turn. Only a turn without a token sends the system instruction
// on the primary path; a history token skips the primary path entirely.
// Single-shot variants ignore any token.
func (c *Conversation) Execute(ctx context.Context, turn model.ConversationTurn) (*TurnResult, error) {
	input := turn.UserInput
	if strings.TrimSpace(input) == "" {
		input = c.variant.Greeting
	}
	if !c.variant.Continues() {
		turn.Token = model.ContinuationToken{}
	}

	prompt, err := c.prompts.Render(ctx, c.variant.PromptFile, c.variant.PromptVars(input, turn.Inputs))
	if err != nil {
		if errors.Is(err, core.ErrPromptTemplate) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedTurn, err)
		}
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	params := overrideParams(prompt.Params, turn.Params).WithDefaults()

	c.logger.DebugContext(ctx, "executing turn",
		"mode", c.variant.Mode.String(),
		"token_kind", turn.Token.Kind.String(),
		"model", params.Model,
		"reasoning_effort", params.ReasoningEffort,
	)

	var primaryErr error
	if turn.Token.Kind != model.TokenHistory && c.primary != nil {
		req := core.ResponseRequest{
			Params:           params,
			User:             prompt.User,
			ReasoningSummary: c.variant.ReasoningSummary,
		}
		if turn.Token.Kind == model.TokenProvider {
			req.PreviousResponseID = turn.Token.ProviderID
		} else {
			req.System = prompt.System
		}
		reply, respErr := c.primary.Respond(ctx, req)
		if respErr == nil {
			res := c.finish(reply.Text, model.ProviderToken(reply.ResponseID), PathPrimary)
			if strings.TrimSpace(reply.Reasoning) != "" {
				explanation := reply.Reasoning
				res.Explanation = &explanation
			}
			return res, nil
		}
		primaryErr = respErr
		c.logger.WarnContext(ctx, "primary provider failed, falling back", "error", respErr)
	}

	if c.fallback == nil {
		return nil, errors.Join(ErrProviderFailed, primaryErr)
	}

	messages := fallbackHistory(turn.Token, prompt.System)
	messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt.User})

	raw, chatErr := c.fallback.Chat(ctx, core.ChatRequest{Params: params, Messages: messages})
	if chatErr != nil {
		return nil, errors.Join(ErrProviderFailed, primaryErr, chatErr)
	}
	raw = strings.TrimSpace(raw)
	messages = append(messages, model.Message{Role: model.RoleAssistant, Content: raw})
	return c.finish(raw, model.HistoryToken(messages), PathFallback), nil
}

func (c *Conversation) finish(raw string, token model.ContinuationToken, path Path) *TurnResult {
	done := c.variant.Detector.Detect(raw)
	return &TurnResult{
		Text:       done.Text,
		Token:      token,
		IsComplete: done.Complete,
		Summary:    done.Summary,
		Path:       path,
	}
}

// fallbackHistory seeds the explicit history. A provider token cannot be
// replayed, so the conversation restarts from the system instruction.
func fallbackHistory(token model.ContinuationToken, system string) []model.Message {
	if token.Kind == model.TokenHistory {
		return append([]model.Message(nil), token.History...)
	}
	return []model.Message{{Role: model.RoleSystem, Content: system}}
}

// overrideParams applies the non-zero fields of override on top of base.
func overrideParams(base, override model.ModelParameters) model.ModelParameters {
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.Temperature != 0 {
		base.Temperature = override.Temperature
	}
	if override.MaxOutputTokens > 0 {
		base.MaxOutputTokens = override.MaxOutputTokens
	}
	if override.Verbosity != "" {
		base.Verbosity = override.Verbosity
	}
	if override.ReasoningEffort != "" {
		base.ReasoningEffort = override.ReasoningEffort
	}
	return base
}
