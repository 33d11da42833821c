package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Providers.Anthropic.APIKey = "test-key"
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresProviderCredentials(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider credentials")
}

func TestValidateRequiresDefaultAgent(t *testing.T) {
	cfg := validConfig()
	cfg.Agents = []AgentConfig{
		{ID: "researcher", Model: "openai/gpt-4o"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"default"`)
}

func TestValidateRejectsDuplicateAgentIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Agents = append(cfg.Agents, cfg.Agents[0])
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestValidateModelFormat(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		wantErr bool
	}{
		{"anthropic model", "anthropic/claude-sonnet-4-20250514", false},
		{"openai model", "openai/gpt-4o", false},
		{"missing provider", "gpt-4o", true},
		{"unknown provider", "gemini/gemini-pro", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Agents[0].Model = tt.model
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSpecialistsMayNotDelegate(t *testing.T) {
	cfg := validConfig()
	cfg.Agents = append(cfg.Agents, AgentConfig{
		ID:    "researcher",
		Model: "openai/gpt-4o",
		Tools: []string{"memory_search", "delegate"},
	})
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delegate")

	// The default agent keeps both delegation tools.
	cfg = validConfig()
	cfg.Agents[0].Tools = []string{"delegate", "list_agents"}
	assert.NoError(t, cfg.Validate())
}

func TestValidateSpecialistsMayNotHoldWildcard(t *testing.T) {
	cfg := validConfig()
	cfg.Agents = append(cfg.Agents, AgentConfig{
		ID:    "researcher",
		Model: "openai/gpt-4o",
		Tools: []string{"*"},
	})
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wildcard")

	cfg = validConfig()
	cfg.Agents[0].Tools = []string{"*"}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRoutes(t *testing.T) {
	tests := []struct {
		name    string
		route   RouteConfig
		wantErr string
	}{
		{"valid exact", RouteConfig{Pattern: "slack:eng:*", AgentID: "default"}, ""},
		{"valid wildcard", RouteConfig{Pattern: "*:*:andris", AgentID: "default"}, ""},
		{"empty pattern", RouteConfig{Pattern: "", AgentID: "default"}, "pattern is required"},
		{"empty segment", RouteConfig{Pattern: "slack::bob", AgentID: "default"}, "empty segment"},
		{"whitespace", RouteConfig{Pattern: "slack :x:y", AgentID: "default"}, "whitespace"},
		{"missing agent", RouteConfig{Pattern: "slack:eng:*", AgentID: ""}, "agent_id is required"},
		{"unknown agent", RouteConfig{Pattern: "slack:eng:*", AgentID: "ghost"}, "unknown agent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Routes = []RouteConfig{tt.route}
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateMemorySettings(t *testing.T) {
	cfg := validConfig()
	cfg.Memory.Threshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Memory.TopK = -1
	assert.Error(t, cfg.Validate())
}
