package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - agent.go: agent identity, variant, job store, LLM, prompts, webhooks, cleanup
//   - database.go: Postgres and Redis connections
//   - http.go: HTTP server configuration
//   - services.go: service mode and reaper configuration
//   - observability.go: metrics and failure notifications
type AppConfig struct {
	// IsDev selects dev-mode behaviour such as prompt overrides from Prompt.DevDir.
	// Set DEV=true or MODE=dev.
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Agent   AgentConfig
	Store   StoreConfig
	LLM     LLMConfig
	Prompt  PromptConfig
	Webhook WebhookConfig
	Cleanup CleanupConfig

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	HTTP HTTPConfig

	// Services is a comma-delimited list of enabled services.
	Services string `env:"SERVICES" envDefault:"http"`

	Reaper ReaperConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.detectDevMode()
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))

	c.Agent.Sanitize()
	c.Store.Sanitize()
	c.Postgres.Sanitize()
	c.Redis.Sanitize()
	c.LLM.Sanitize()
	c.Prompt.Sanitize()
	c.Webhook.Sanitize()
	c.Cleanup.Sanitize()
	c.HTTP.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()

	slack := &c.Observability.Notifications.Slack
	if slack.StatusURLPrefix == "" && c.HTTP.BaseURL != "" {
		slack.StatusURLPrefix = strings.TrimRight(c.HTTP.BaseURL, "/") + "/status"
	}
}

// detectDevMode treats MODE=dev as an alias for DEV=true.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		mode := strings.ToLower(strings.TrimSpace(os.Getenv("MODE")))
		c.IsDev = mode == "dev" || mode == "development"
	}
}

// PromptMode returns "dev" or "prod".
func (c *AppConfig) PromptMode() string {
	if c.IsDev {
		return "dev"
	}
	return "prod"
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
