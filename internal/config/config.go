package config

import (
	"fmt"
)

// Config is the top-level kemudi configuration.
type Config struct {
	// Agent holds run-loop defaults.
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Providers holds model provider credentials.
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Tools configures built-in tool execution.
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Logging configures structured logging.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Tracing configures OpenTelemetry span export.
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// AgentConfig holds the run-loop defaults applied to new agents.
type AgentConfig struct {
	Provider     string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model        string  `json:"model" mapstructure:"model"`
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	TopP         float64 `json:"top_p" mapstructure:"top_p"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	SteerMode    string  `json:"steer_mode" mapstructure:"steer_mode"`         // one, all
	FollowUpMode string  `json:"follow_up_mode" mapstructure:"follow_up_mode"` // one, all
}

// ProvidersConfig holds per-provider API keys.
type ProvidersConfig struct {
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
}

// ToolsConfig configures built-in tools. An empty Allow list allows every
// registered tool; Deny entries override Allow.
type ToolsConfig struct {
	Enabled   bool        `json:"enabled" mapstructure:"enabled"`
	Workspace string      `json:"workspace" mapstructure:"workspace"`
	Allow     []string    `json:"allow" mapstructure:"allow"`
	Deny      []string    `json:"deny" mapstructure:"deny"`
	TimeoutS  int         `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	Retry     RetryConfig `json:"retry" mapstructure:"retry"`
}

// RetryConfig controls automatic retry of transient tool failures.
type RetryConfig struct {
	Enabled          bool `json:"enabled" mapstructure:"enabled"`
	MaxAttempts      int  `json:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int  `json:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int  `json:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"` // fraction of root traces sampled
	Exporter    string  `json:"exporter" mapstructure:"exporter"`         // none, stdout
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:     "anthropic",
			Model:        "claude-sonnet-4-20250514",
			Temperature:  0.7,
			MaxTokens:    4096,
			SteerMode:    "one",
			FollowUpMode: "all",
		},
		Tools: ToolsConfig{
			Enabled:   true,
			Workspace: ".",
			TimeoutS:  30,
			Retry: RetryConfig{
				MaxAttempts:      3,
				InitialBackoffMS: 250,
				MaxBackoffMS:     5000,
			},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
			Exporter:    "none",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Agent.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unsupported provider: %s", c.Agent.Provider)
	}

	if c.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}

	if err := validateMode("steer_mode", c.Agent.SteerMode); err != nil {
		return err
	}
	if err := validateMode("follow_up_mode", c.Agent.FollowUpMode); err != nil {
		return err
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("unsupported trace exporter: %s", c.Tracing.Exporter)
	}

	if c.APIKey() == "" {
		return fmt.Errorf("no API key configured for provider %s", c.Agent.Provider)
	}
	return nil
}

func validateMode(field, mode string) error {
	switch mode {
	case "", "one", "all":
		return nil
	default:
		return fmt.Errorf("invalid %s: %s (must be one or all)", field, mode)
	}
}

// APIKey returns the key for the configured provider.
func (c *Config) APIKey() string {
	switch c.Agent.Provider {
	case "anthropic":
		return c.Providers.AnthropicAPIKey
	case "openai":
		return c.Providers.OpenAIAPIKey
	default:
		return ""
	}
}
