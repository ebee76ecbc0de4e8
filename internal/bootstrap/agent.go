package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	smartagent "github.com/target/smart-agent"
	"github.com/target/smart-agent/config"
	"github.com/target/smart-agent/internal/adapters/llm/anthropic"
	"github.com/target/smart-agent/internal/adapters/llm/openai"
	"github.com/target/smart-agent/internal/adapters/prompt"
	"github.com/target/smart-agent/internal/agent"
	"github.com/target/smart-agent/internal/core"
)

// BuildConversation wires prompts, the primary Responses-API provider, and the
// configured fallback chat provider into a Conversation for the configured variant.
func BuildConversation(cfg *config.AppConfig, logger *slog.Logger) (*agent.Conversation, error) {
	if cfg == nil {
		return nil, errors.New("app config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	variant, err := agent.LookupVariant(agent.VariantOptions{
		Name:            cfg.Agent.Variant,
		PromptFile:      cfg.Agent.PromptFile,
		AgentIdentifier: cfg.Agent.Identifier,
	})
	if err != nil {
		return nil, err
	}

	prompts, err := prompt.NewStore(prompt.Options{
		Dir:      cfg.Prompt.Dir,
		DevDir:   cfg.Prompt.DevDir,
		Mode:     prompt.Mode(cfg.PromptMode()),
		Embedded: smartagent.PromptFS(),
		Strict:   cfg.Prompt.Strict,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create prompt store: %w", err)
	}

	primary := openai.New(openai.Options{
		APIKey:        cfg.LLM.OpenAIAPIKey,
		BaseURL:       cfg.LLM.OpenAIBaseURL,
		Timeout:       cfg.LLM.Timeout,
		MaxRetries:    cfg.LLM.MaxRetries,
		FallbackModel: cfg.LLM.FallbackModel,
		Logger:        logger,
	})

	conv, err := agent.NewConversation(agent.ConversationOptions{
		Prompts:  prompts,
		Primary:  primary,
		Fallback: fallbackProvider(cfg.LLM, primary, logger),
		Variant:  variant,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	logger.Info("agent conversation ready",
		"variant", variant.Name,
		"prompt_file", variant.PromptFile,
		"fallback", cfg.LLM.FallbackProvider,
	)
	return conv, nil
}

//nolint:ireturn // the fallback is chosen at runtime and may be absent.
func fallbackProvider(cfg config.LLMConfig, primary *openai.Client, logger *slog.Logger) core.ChatProvider {
	switch cfg.FallbackProvider {
	case "none":
		return nil
	case "anthropic":
		return anthropic.New(anthropic.Options{
			APIKey:     cfg.AnthropicAPIKey,
			BaseURL:    cfg.AnthropicBaseURL,
			Model:      cfg.AnthropicModel,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Logger:     logger,
		})
	default:
		return primary
	}
}
