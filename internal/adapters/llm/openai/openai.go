// Package openai adapts the OpenAI API to the agent's provider ports.
// The Responses API is the primary path (the provider keeps the conversation
// and hands back a response id); Chat Completions is the stateless fallback.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
)

// DefaultFallbackModel is used by the chat path when no model is configured.
const DefaultFallbackModel = "gpt-4o"

// ErrEmptyReply is returned when the provider answers without any text.
var ErrEmptyReply = errors.New("openai returned an empty reply")

// Options configures the OpenAI client.
type Options struct {
	APIKey  string
	BaseURL string
	// Timeout bounds a single API call. Zero leaves it to the caller's context.
	Timeout time.Duration
	// MaxRetries is the SDK-level retry count for transient HTTP failures.
	MaxRetries int
	// FallbackModel replaces the turn's model on the chat path.
	FallbackModel string
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client implements core.ResponseProvider and core.ChatProvider.
type Client struct {
	client        openai.Client
	timeout       time.Duration
	fallbackModel string
	logger        *slog.Logger
}

var (
	_ core.ResponseProvider = (*Client)(nil)
	_ core.ChatProvider     = (*Client)(nil)
)

// New builds a Client. An empty APIKey falls back to OPENAI_API_KEY via the SDK.
func New(opts Options) *Client {
	reqOpts := []option.RequestOption{option.WithMaxRetries(opts.MaxRetries)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	fallback := strings.TrimSpace(opts.FallbackModel)
	if fallback == "" {
		fallback = DefaultFallbackModel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:        openai.NewClient(reqOpts...),
		timeout:       opts.Timeout,
		fallbackModel: fallback,
		logger:        logger.With("component", "openai"),
	}
}

// Respond calls the Responses API with store=true so the reply id can continue the conversation.
func (c *Client) Respond(ctx context.Context, req core.ResponseRequest) (*core.ResponseReply, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := responseParams(req)
	var extra []option.RequestOption
	if v := strings.TrimSpace(req.Params.Verbosity); v != "" {
		extra = append(extra, option.WithJSONSet("text.verbosity", v))
	}

	resp, err := c.client.Responses.New(ctx, params, extra...)
	if err != nil {
		return nil, fmt.Errorf("openai responses: %w", err)
	}
	text := resp.OutputText()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyReply
	}
	reasoning := reasoningSummary(resp.Output)
	c.logger.DebugContext(ctx, "response received",
		"response_id", resp.ID,
		"model", req.Params.Model,
		"continued", req.PreviousResponseID != "",
		"reasoning_len", len(reasoning),
	)
	return &core.ResponseReply{Text: text, ResponseID: resp.ID, Reasoning: reasoning}, nil
}

// reasoningSummary joins the summary text of every reasoning item, one
// paragraph per item.
func reasoningSummary(items []responses.ResponseOutputItemUnion) string {
	var parts []string
	for _, item := range items {
		if item.Type != "reasoning" {
			continue
		}
		var texts []string
		for _, part := range item.Summary {
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
		if len(texts) > 0 {
			parts = append(parts, strings.Join(texts, "\n"))
		}
	}
	return strings.Join(parts, "\n\n")
}

// responseParams sends the system prompt as an input message on the first turn.
// Instructions are not carried across previous_response_id; stored input is.
func responseParams(req core.ResponseRequest) responses.ResponseNewParams {
	p := req.Params.WithDefaults()
	params := responses.ResponseNewParams{
		Model:           shared.ResponsesModel(p.Model),
		Input:           responseInput(req),
		Store:           openai.Bool(true),
		MaxOutputTokens: openai.Int(p.MaxOutputTokens),
		Reasoning:       shared.ReasoningParam{Effort: shared.ReasoningEffort(p.ReasoningEffort)},
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}
	if v := strings.TrimSpace(req.ReasoningSummary); v != "" {
		params.Reasoning.Summary = shared.ReasoningSummary(v)
	}
	if p.UsesTemperature() {
		params.Temperature = openai.Float(p.Temperature)
	}
	return params
}

func responseInput(req core.ResponseRequest) responses.ResponseNewParamsInputUnion {
	if req.PreviousResponseID != "" || req.System == "" {
		return responses.ResponseNewParamsInputUnion{OfString: openai.String(req.User)}
	}
	return responses.ResponseNewParamsInputUnion{OfInputItemList: responses.ResponseInputParam{
		responses.ResponseInputItemParamOfMessage(req.System, responses.EasyInputMessageRoleSystem),
		responses.ResponseInputItemParamOfMessage(req.User, responses.EasyInputMessageRoleUser),
	}}
}

// Chat calls Chat Completions with the explicit history.
func (c *Client) Chat(ctx context.Context, req core.ChatRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("chat request has no messages")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    c.fallbackModel,
		Messages: chatMessages(req.Messages),
	}
	if req.Params.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.Params.MaxOutputTokens)
	}
	if req.Params.Temperature > 0 {
		params.Temperature = openai.Float(req.Params.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completions: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyReply
	}
	return resp.Choices[0].Message.Content, nil
}

func chatMessages(history []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
