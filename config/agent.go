package config

import (
	"strings"
	"time"
)

// AgentConfig identifies this process and bounds how many jobs it runs at once.
type AgentConfig struct {
	// Name, Type and Environment tag every job record. Name and Environment
	// scope capacity counting and cleanup sweeps.
	Name        string `env:"AGENT_NAME"        envDefault:"smart-agent"`
	Type        string `env:"AGENT_TYPE"        envDefault:"interview"`
	Environment string `env:"ENVIRONMENT"       envDefault:"local"`

	// Variant selects the conversation flavour: interview, story, thread or rewrite.
	Variant string `env:"AGENT_VARIANT" envDefault:"interview"`
	// Identifier overrides the agentIdentifier sent in next-task webhooks.
	Identifier string `env:"AGENT_IDENTIFIER"`
	// PromptFile overrides the variant's template file name.
	PromptFile string `env:"AGENT_PROMPT_FILE"`

	ConcurrencyLimit int `env:"AGENT_CONCURRENCY_LIMIT" envDefault:"1"`
}

// Sanitize applies guardrails to agent configuration values.
func (a *AgentConfig) Sanitize() {
	a.Name = strings.TrimSpace(a.Name)
	a.Type = strings.TrimSpace(a.Type)
	a.Environment = strings.TrimSpace(a.Environment)
	a.Variant = strings.ToLower(strings.TrimSpace(a.Variant))
	if a.ConcurrencyLimit < 1 {
		a.ConcurrencyLimit = 1
	}
}

// StoreBackend names a job record store implementation.
type StoreBackend string

const (
	StoreRedis    StoreBackend = "redis"
	StorePostgres StoreBackend = "postgres"
	StoreMemory   StoreBackend = "memory"
)

// StoreConfig selects and tunes the job record store.
type StoreConfig struct {
	Backend StoreBackend `env:"JOB_STORE" envDefault:"redis"`
	// KeyPrefix namespaces Redis keys.
	KeyPrefix string `env:"JOB_STORE_PREFIX" envDefault:"smart-agent:"`
	// RecordTTL is applied to terminal records where the backend supports expiry.
	RecordTTL time.Duration `env:"JOB_RECORD_TTL" envDefault:"24h"`
}

// Sanitize applies guardrails to store configuration values.
func (s *StoreConfig) Sanitize() {
	s.Backend = StoreBackend(strings.ToLower(strings.TrimSpace(string(s.Backend))))
	switch s.Backend {
	case StoreRedis, StorePostgres, StoreMemory:
	default:
		s.Backend = StoreRedis
	}
	if s.RecordTTL < 0 {
		s.RecordTTL = 0
	}
}

// LLMConfig configures the primary and fallback model providers.
type LLMConfig struct {
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	// FallbackProvider is openai (chat completions) or anthropic.
	FallbackProvider string `env:"LLM_FALLBACK_PROVIDER" envDefault:"openai"`
	FallbackModel    string `env:"FALLBACK_MODEL"        envDefault:"gpt-4o"`

	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `env:"ANTHROPIC_BASE_URL"`
	AnthropicModel   string `env:"ANTHROPIC_MODEL"`

	Timeout    time.Duration `env:"LLM_TIMEOUT"     envDefault:"120s"`
	MaxRetries int           `env:"LLM_MAX_RETRIES" envDefault:"1"`
}

// Sanitize applies guardrails to LLM configuration values.
func (l *LLMConfig) Sanitize() {
	l.FallbackProvider = strings.ToLower(strings.TrimSpace(l.FallbackProvider))
	switch l.FallbackProvider {
	case "openai", "anthropic", "none":
	default:
		l.FallbackProvider = "openai"
	}
	if l.MaxRetries < 0 {
		l.MaxRetries = 0
	}
	if l.Timeout < 0 {
		l.Timeout = 0
	}
}

// PromptConfig locates prompt templates.
type PromptConfig struct {
	Dir    string `env:"PROMPT_DIR"     envDefault:"Prompt"`
	DevDir string `env:"PROMPT_DEV_DIR" envDefault:"/tmp/Prompt"`
	// Strict rejects templates that leave {{placeholders}} unresolved.
	Strict bool `env:"PROMPT_STRICT" envDefault:"false"`
}

// Sanitize applies guardrails to prompt configuration values.
func (p *PromptConfig) Sanitize() {
	if p.Dir = strings.TrimSpace(p.Dir); p.Dir == "" {
		p.Dir = "Prompt"
	}
	p.DevDir = strings.TrimSpace(p.DevDir)
}

// WebhookConfig controls outbound status notifications.
type WebhookConfig struct {
	// DefaultURL receives notifications for requests that carry no webhookUrl.
	DefaultURL string        `env:"WEBHOOK_URL"`
	Timeout    time.Duration `env:"WEBHOOK_TIMEOUT"     envDefault:"10s"`
	RetryLimit int           `env:"WEBHOOK_RETRY_LIMIT" envDefault:"2"`
	AuthHeader string        `env:"WEBHOOK_AUTH_HEADER"`
	AuthToken  string        `env:"WEBHOOK_AUTH_TOKEN"`
	// BodyExpr is a JMESPath expression that reshapes the payload before sending.
	BodyExpr  string `env:"WEBHOOK_BODY_EXPR"`
	Shards    int    `env:"WEBHOOK_SHARDS"     envDefault:"4"`
	QueueSize int    `env:"WEBHOOK_QUEUE_SIZE" envDefault:"128"`
}

// Sanitize applies guardrails to webhook configuration values.
func (w *WebhookConfig) Sanitize() {
	w.DefaultURL = strings.TrimSpace(w.DefaultURL)
	w.AuthHeader = strings.TrimSpace(w.AuthHeader)
	if w.AuthToken == "" {
		w.AuthHeader = ""
	}
	if w.Timeout <= 0 {
		w.Timeout = 10 * time.Second
	}
	if w.RetryLimit < 0 {
		w.RetryLimit = 0
	}
	if w.Shards < 1 {
		w.Shards = 1
	}
	if w.QueueSize < 1 {
		w.QueueSize = 1
	}
}

// CleanupConfig bounds the process-exit sweep.
type CleanupConfig struct {
	Timeout     time.Duration `env:"CLEANUP_TIMEOUT"     envDefault:"10s"`
	Concurrency int           `env:"CLEANUP_CONCURRENCY" envDefault:"8"`
}

// Sanitize applies guardrails to cleanup configuration values.
func (c *CleanupConfig) Sanitize() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
}
