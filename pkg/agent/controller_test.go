package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andris/kova/pkg/tool"
)

// scriptedProvider returns queued responses in order and records every
// request it receives.
type scriptedProvider struct {
	name      string
	responses []*Response
	err       error
	requests  []Request
}

func (p *scriptedProvider) Call(_ context.Context, request Request) (*Response, error) {
	p.requests = append(p.requests, request)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &Response{Content: "default answer"}, nil
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	return next, nil
}

func (p *scriptedProvider) Name() string {
	if p.name == "" {
		return ProviderOpenAI
	}
	return p.name
}

func newTestController(t *testing.T) (*Controller, *tool.Registry) {
	t.Helper()
	registry := tool.NewRegistry(zerolog.Nop())
	require.NoError(t, registry.Register(tool.Definition{
		Name:        "echo",
		Description: "Echoes its input",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"text"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (string, error) {
			text, _ := args["text"].(string)
			return "echo: " + text, nil
		},
	}))
	return NewController(registry, zerolog.Nop()), registry
}

func TestRunReturnsTextAnswer(t *testing.T) {
	controller, _ := newTestController(t)
	provider := &scriptedProvider{responses: []*Response{
		{Content: "the answer", Usage: &Usage{InputTokens: 10, OutputTokens: 5}},
	}}

	result, err := controller.Run(context.Background(), RunParams{
		Provider:     provider,
		Model:        "gpt-4o",
		SystemPrompt: "You are helpful.",
		Messages:     []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", result.Response)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 10, result.Usage.InputTokens)
	assert.Empty(t, result.Trace)
}

func TestRunExecutesRequestedTools(t *testing.T) {
	controller, _ := newTestController(t)
	provider := &scriptedProvider{responses: []*Response{
		{ToolCalls: []ToolCall{
			{ID: "call_1", Name: "echo", Parameters: map[string]interface{}{"text": "one"}},
			{ID: "call_2", Name: "echo", Parameters: map[string]interface{}{"text": "two"}},
		}},
		{Content: "done", Usage: &Usage{InputTokens: 3, OutputTokens: 2}},
	}}

	var events []ToolEvent
	result, err := controller.Run(context.Background(), RunParams{
		Provider:    provider,
		Model:       "gpt-4o",
		Messages:    []Message{{Role: "user", Content: "run the tools"}},
		OnToolEvent: func(e ToolEvent) { events = append(events, e) },
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Response)
	assert.Equal(t, 2, result.Iterations)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "echo", result.Trace[0].Tool)
	assert.Equal(t, "echo: one", result.Trace[0].Result)
	assert.Equal(t, "echo: two", result.Trace[1].Result)

	// The second model call sees the assistant turn plus one tool result
	// per call, with matching ids.
	require.Len(t, provider.requests, 2)
	second := provider.requests[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, "assistant", second[1].Role)
	require.Len(t, second[1].ToolCalls, 2)
	assert.Equal(t, "tool", second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.Equal(t, "echo: one", second[2].Content)
	assert.Equal(t, "call_2", second[3].ToolCallID)

	// Events come in executing/done pairs, in execution order.
	require.Len(t, events, 4)
	assert.Equal(t, EventExecuting, events[0].Type)
	assert.Equal(t, EventDone, events[1].Type)
	assert.Equal(t, "echo: one", events[1].Result)
	assert.Equal(t, EventExecuting, events[2].Type)
	assert.Equal(t, EventDone, events[3].Type)
}

func TestRunToolFailureBecomesErrorString(t *testing.T) {
	controller, _ := newTestController(t)
	provider := &scriptedProvider{responses: []*Response{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: "missing", Parameters: map[string]interface{}{}}}},
		{Content: "recovered"},
	}}

	result, err := controller.Run(context.Background(), RunParams{
		Provider: provider,
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: "go"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Response)

	require.Len(t, result.Trace, 1)
	assert.Contains(t, result.Trace[0].Result, "Error executing missing:")
	assert.Contains(t, result.Trace[0].Result, "tool not found")

	// The error string is fed back as an ordinary tool result.
	second := provider.requests[1].Messages
	assert.Equal(t, "tool", second[len(second)-1].Role)
	assert.Contains(t, second[len(second)-1].Content, "Error executing missing:")
}

func TestRunIterationBoundYieldsFallback(t *testing.T) {
	controller, _ := newTestController(t)
	// A provider that never stops asking for tools.
	provider := &scriptedProvider{}
	for i := 0; i < MaxToolIterations+5; i++ {
		provider.responses = append(provider.responses, &Response{
			ToolCalls: []ToolCall{{ID: "c", Name: "echo", Parameters: map[string]interface{}{"text": "again"}}},
		})
	}

	result, err := controller.Run(context.Background(), RunParams{
		Provider: provider,
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: "loop forever"}},
	})
	require.NoError(t, err)
	assert.Equal(t, ExhaustedResponse, result.Response)
	assert.Equal(t, MaxToolIterations, result.Iterations)
	assert.Len(t, provider.requests, MaxToolIterations)
}

func TestRunProviderErrorPropagates(t *testing.T) {
	controller, _ := newTestController(t)
	provider := &scriptedProvider{err: errors.New("rate limited")}

	_, err := controller.Run(context.Background(), RunParams{
		Provider: provider,
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRunPolicyFiltersToolSchemas(t *testing.T) {
	controller, registry := newTestController(t)
	require.NoError(t, registry.Register(tool.Definition{
		Name:        "other",
		Description: "Another tool",
		Handler: func(context.Context, map[string]interface{}) (string, error) {
			return "ok", nil
		},
	}))

	provider := &scriptedProvider{responses: []*Response{{Content: "hi"}}}
	_, err := controller.Run(context.Background(), RunParams{
		Provider: provider,
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: "hi"}},
		Policy:   &tool.Policy{Allow: []string{"echo"}},
	})
	require.NoError(t, err)

	require.Len(t, provider.requests, 1)
	require.Len(t, provider.requests[0].Tools, 1)
	function := provider.requests[0].Tools[0]["function"].(map[string]interface{})
	assert.Equal(t, "echo", function["name"])
}

func TestRunAnthropicSchemaShape(t *testing.T) {
	controller, _ := newTestController(t)
	provider := &scriptedProvider{
		name:      ProviderAnthropic,
		responses: []*Response{{Content: "hi"}},
	}

	_, err := controller.Run(context.Background(), RunParams{
		Provider: provider,
		Model:    "claude-sonnet-4-20250514",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	require.Len(t, provider.requests[0].Tools, 1)
	schema := provider.requests[0].Tools[0]
	assert.Equal(t, "echo", schema["name"])
	assert.NotNil(t, schema["input_schema"])
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		identifier string
		provider   string
		model      string
		wantErr    bool
	}{
		{"openai/gpt-4o", "openai", "gpt-4o", false},
		{"anthropic/claude-sonnet-4-20250514", "anthropic", "claude-sonnet-4-20250514", false},
		{"gpt-4o", "", "", true},
		{"gemini/pro", "", "", true},
		{"/model", "", "", true},
		{"openai/", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			provider, model, err := ResolveModel(tt.identifier)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.model, model)
		})
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderAnthropic, "key")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, p.Name())

	p, err = NewProvider(ProviderOpenAI, "key")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.Name())

	_, err = NewProvider("gemini", "key")
	assert.Error(t, err)

	_, err = NewProvider(ProviderOpenAI, "")
	assert.Error(t, err)
}
