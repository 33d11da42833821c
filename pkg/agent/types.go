package agent

import (
	"fmt"
	"strings"

	"github.com/andris/kova/pkg/tool"
)

// Message is one conversation turn in the controller's internal shape, which
// both provider adapters translate from and to.
type Message struct {
	Role       string                 `json:"role"` // user | assistant | tool
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is one tool invocation requested by the model
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption across a turn
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *Usage) add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Result is the outcome of one completed turn
type Result struct {
	Response   string            `json:"response"`
	Trace      []tool.CallRecord `json:"trace,omitempty"`
	Usage      Usage             `json:"usage"`
	Iterations int               `json:"iterations"`
}

// ResolveModel splits a "provider/model" identifier. The provider id selects
// the wire dialect; the remainder is passed to the vendor verbatim.
func ResolveModel(identifier string) (provider, model string, err error) {
	provider, model, ok := strings.Cut(identifier, "/")
	if !ok || provider == "" || model == "" {
		return "", "", fmt.Errorf("model identifier %q must be provider/model", identifier)
	}
	switch provider {
	case ProviderOpenAI, ProviderAnthropic:
		return provider, model, nil
	default:
		return "", "", fmt.Errorf("unsupported provider: %s", provider)
	}
}
