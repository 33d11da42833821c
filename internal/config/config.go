package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config represents the main Kova configuration
type Config struct {
	// Providers holds model provider credentials
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Agents are the configured agent definitions; the entry with ID
	// "default" governs unrouted sessions
	Agents []AgentConfig `json:"agents" mapstructure:"agents"`

	// Routes map session keys to agents, first match wins
	Routes []RouteConfig `json:"routes" mapstructure:"routes"`

	// Memory holds hybrid retrieval settings
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Session holds context-window and retention settings
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Tools holds declarative tool settings
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Hooks holds lifecycle hook settings
	Hooks HooksConfig `json:"hooks" mapstructure:"hooks"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory, defaults to ~/.kova
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProvidersConfig holds model provider credentials
type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai" mapstructure:"openai"`
	Anthropic ProviderConfig `json:"anthropic" mapstructure:"anthropic"`
}

// ProviderConfig holds one provider's credentials
type ProviderConfig struct {
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// AgentConfig represents an agent definition
type AgentConfig struct {
	ID           string   `json:"id" mapstructure:"id"`
	Name         string   `json:"name" mapstructure:"name"`
	Description  string   `json:"description" mapstructure:"description"`
	Model        string   `json:"model" mapstructure:"model"` // "provider/model"
	SystemPrompt string   `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature  float64  `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int      `json:"max_tokens" mapstructure:"max_tokens"`
	Tools        []string `json:"tools" mapstructure:"tools"` // nil allows every registered tool
}

// RouteConfig maps a session key pattern to an agent
type RouteConfig struct {
	Pattern string `json:"pattern" mapstructure:"pattern"` // whole-key glob, "*" spans segments
	AgentID string `json:"agent_id" mapstructure:"agent_id"`
}

// MemoryConfig holds hybrid retrieval settings
type MemoryConfig struct {
	TopK            int     `json:"top_k" mapstructure:"top_k"`
	Threshold       float64 `json:"threshold" mapstructure:"threshold"`
	EmbeddingModel  string  `json:"embedding_model" mapstructure:"embedding_model"`
	EmbeddingAPIKey string  `json:"embedding_api_key" mapstructure:"embedding_api_key"`
}

// SessionConfig holds context-window and retention settings
type SessionConfig struct {
	MaxContextMessages int `json:"max_context_messages" mapstructure:"max_context_messages"`
	RetentionMessages  int `json:"retention_messages" mapstructure:"retention_messages"`
	RetentionIdleDays  int `json:"retention_idle_days" mapstructure:"retention_idle_days"`
}

// ToolsConfig holds declarative tool settings
type ToolsConfig struct {
	// DeclarativeDir is scanned for *.json tool definitions and hot-reloaded
	DeclarativeDir string `json:"declarative_dir" mapstructure:"declarative_dir"`
}

// HooksConfig holds lifecycle hook settings
type HooksConfig struct {
	Enabled bool              `json:"enabled" mapstructure:"enabled"`
	Scripts map[string]string `json:"scripts" mapstructure:"scripts"` // event -> script path
	Timeout int               `json:"timeout" mapstructure:"timeout"` // seconds
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the /metrics listener configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agents: []AgentConfig{
			{
				ID:           "default",
				Name:         "Default Agent",
				Description:  "General-purpose assistant that can delegate to specialists",
				Model:        "anthropic/claude-sonnet-4-20250514",
				SystemPrompt: "You are a helpful assistant.",
				Temperature:  0.7,
				MaxTokens:    4096,
			},
		},
		Memory: MemoryConfig{
			TopK:           5,
			Threshold:      0.25,
			EmbeddingModel: "text-embedding-3-small",
		},
		Session: SessionConfig{
			MaxContextMessages: 50,
			RetentionMessages:  200,
			RetentionIdleDays:  30,
		},
		Hooks: HooksConfig{
			Timeout: 10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

var validProviders = map[string]bool{"openai": true, "anthropic": true}

// Validate checks if the configuration is valid. Route patterns and agent
// definitions fail fast here rather than at turn time.
func (c *Config) Validate() error {
	if c.Providers.OpenAI.APIKey == "" && c.Providers.Anthropic.APIKey == "" {
		return fmt.Errorf("no provider credentials configured: set providers.openai.api_key or providers.anthropic.api_key")
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}

	seen := make(map[string]bool)
	hasDefault := false
	for i, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent %d: ID is required", i)
		}
		if seen[agent.ID] {
			return fmt.Errorf("agent %s: duplicate ID", agent.ID)
		}
		seen[agent.ID] = true
		if agent.ID == "default" {
			hasDefault = true
		}

		if agent.Model == "" {
			return fmt.Errorf("agent %s: model is required", agent.ID)
		}
		provider, _, ok := strings.Cut(agent.Model, "/")
		if !ok || !validProviders[provider] {
			return fmt.Errorf("agent %s: model must be provider/model with provider openai or anthropic, got %q", agent.ID, agent.Model)
		}

		// Only the default agent may carry the delegation tools, and the
		// wildcard allowance would grant them implicitly.
		if agent.ID != "default" {
			for _, tool := range agent.Tools {
				if tool == "delegate" || tool == "list_agents" {
					return fmt.Errorf("agent %s: specialists may not be granted the %s tool", agent.ID, tool)
				}
				if tool == "*" {
					return fmt.Errorf("agent %s: the wildcard tool allowance is reserved for the default agent", agent.ID)
				}
			}
		}
	}
	if !hasDefault {
		return fmt.Errorf("an agent with ID %q is required", "default")
	}

	for i, route := range c.Routes {
		if err := validateRoutePattern(route.Pattern); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
		if route.AgentID == "" {
			return fmt.Errorf("route %d (%s): agent_id is required", i, route.Pattern)
		}
		if !seen[route.AgentID] {
			return fmt.Errorf("route %d (%s): unknown agent %q", i, route.Pattern, route.AgentID)
		}
	}

	if c.Memory.TopK < 0 {
		return fmt.Errorf("memory.top_k must not be negative")
	}
	if c.Memory.Threshold < 0 || c.Memory.Threshold > 1 {
		return fmt.Errorf("memory.threshold must be in [0,1], got %v", c.Memory.Threshold)
	}

	return nil
}

func validateRoutePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	if strings.ContainsAny(pattern, " \t") {
		return fmt.Errorf("pattern %q must not contain whitespace", pattern)
	}
	for _, segment := range strings.Split(pattern, ":") {
		if segment == "" {
			return fmt.Errorf("pattern %q has an empty segment", pattern)
		}
	}
	return nil
}
