// Package anthropic provides a chat fallback backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/target/smart-agent/internal/core"
	"github.com/target/smart-agent/internal/domain/model"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// ErrEmptyReply is returned when the reply carries no text blocks.
var ErrEmptyReply = errors.New("anthropic returned an empty reply")

// Options configures the Anthropic client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int64
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements core.ChatProvider.
type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
	logger    *slog.Logger
}

var _ core.ChatProvider = (*Client)(nil)

// New builds a Client.
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

	name := strings.TrimSpace(opts.Model)
	if name == "" {
		name = DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.DefaultMaxOutputTokens
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:    anthropic.NewClient(reqOpts...),
		model:     anthropic.Model(name),
		maxTokens: maxTokens,
		timeout:   opts.Timeout,
		logger:    logger.With("component", "anthropic"),
	}
}

// Chat sends the history as a Messages request. System messages are lifted
// into the request's system blocks.
func (c *Client) Chat(ctx context.Context, req core.ChatRequest) (string, error) {
	system, messages := splitHistory(req.Messages)
	if len(messages) == 0 {
		return "", errors.New("chat request has no user or assistant messages")
	}

	maxTokens := c.maxTokens
	if req.Params.MaxOutputTokens > 0 {
		maxTokens = req.Params.MaxOutputTokens
	}
	params := anthropic.MessageNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Params.Temperature > 0 {
		params.Temperature = anthropic.Float(min(req.Params.Temperature, 1))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyReply
	}
	c.logger.DebugContext(ctx, "message received", "model", string(c.model), "stop_reason", string(resp.StopReason))
	return b.String(), nil
}

func splitHistory(history []model.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case model.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case model.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, messages
}
