package agent

import (
	"context"
	"fmt"
)

// Supported provider ids, the closed set of wire dialects.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Provider is one vendor wire dialect behind the controller
type Provider interface {
	// Call makes a single model call
	Call(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider id
	Name() string
}

// Request contains the parameters for one model call. Tools carry
// provider-native schema maps rendered by the controller.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []map[string]interface{}
	Temperature  float64
	MaxTokens    int
}

// Response is the normalized model output: either a textual answer, a set of
// requested tool calls, or both.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
}

// NewProvider creates the adapter for a provider id
func NewProvider(providerID, apiKey string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: API key is required", providerID)
	}
	switch providerID {
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
