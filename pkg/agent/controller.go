package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/andris/kova/internal/observability"
	"github.com/andris/kova/internal/tracing"
	"github.com/andris/kova/pkg/tool"
)

// MaxToolIterations bounds the tool-calling loop. It is the only built-in
// protection against a model that never stops asking for tools.
const MaxToolIterations = 25

// ExhaustedResponse is returned instead of an error when the iteration bound
// is reached without a textual answer.
const ExhaustedResponse = "I hit the maximum number of tool steps for this request without reaching an answer. Try breaking the task into smaller pieces."

// Tool event types emitted around each execution.
const (
	EventExecuting = "executing"
	EventDone      = "done"
)

// ToolEvent is the observability callback payload
type ToolEvent struct {
	Type   string                 `json:"type"`
	Tool   string                 `json:"tool"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Result string                 `json:"result,omitempty"`
}

// ToolEventFunc receives before/after notifications for each tool execution
type ToolEventFunc func(event ToolEvent)

// RunParams is the input to one turn
type RunParams struct {
	Provider     Provider
	Model        string
	SystemPrompt string
	Messages     []Message
	Policy       *tool.Policy
	Temperature  float64
	MaxTokens    int
	OnToolEvent  ToolEventFunc
}

// Controller drives the bounded tool-calling loop against one provider
type Controller struct {
	registry *tool.Registry
	logger   zerolog.Logger
}

// NewController creates a turn controller over a tool registry
func NewController(registry *tool.Registry, logger zerolog.Logger) *Controller {
	observability.EnsureRegistered()
	return &Controller{
		registry: registry,
		logger:   logger.With().Str("component", "turn").Logger(),
	}
}

// Run executes one turn: iterate model calls and tool executions until the
// model answers with text or the iteration bound is exhausted. Tool failures
// become error strings fed back to the model; provider failures propagate to
// the caller.
func (c *Controller) Run(ctx context.Context, params RunParams) (*Result, error) {
	if params.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if params.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	ctx, span := tracing.Span(ctx, "turn.run",
		attribute.String("provider", params.Provider.Name()),
		attribute.String("model", params.Model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	start := time.Now()
	result := &Result{}
	success := false
	defer func() {
		observability.RecordTurn(params.Provider.Name(), time.Since(start), result.Iterations, success)
	}()

	schemas := c.renderSchemas(params.Provider.Name(), params.Policy)
	messages := make([]Message, len(params.Messages))
	copy(messages, params.Messages)

	for iteration := 0; iteration < MaxToolIterations; iteration++ {
		result.Iterations = iteration + 1

		response, err := params.Provider.Call(ctx, Request{
			Model:        params.Model,
			SystemPrompt: params.SystemPrompt,
			Messages:     messages,
			Tools:        schemas,
			Temperature:  params.Temperature,
			MaxTokens:    params.MaxTokens,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("provider call failed: %w", err)
		}
		result.Usage.add(response.Usage)

		// No tool calls means the text is the final answer.
		if len(response.ToolCalls) == 0 {
			result.Response = response.Content
			success = true
			logger.Debug().
				Int("iterations", result.Iterations).
				Int("tool_calls", len(result.Trace)).
				Msg("Turn completed")
			return result, nil
		}

		// Append the model's raw turn, then execute each requested tool
		// sequentially and feed the results back.
		messages = append(messages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, call := range response.ToolCalls {
			output := c.executeTool(ctx, call, params)
			messages = append(messages, Message{
				Role:       "tool",
				Content:    output,
				ToolCallID: call.ID,
			})
			result.Trace = append(result.Trace, tool.CallRecord{
				Tool:   call.Name,
				Args:   call.Parameters,
				Result: output,
			})
		}
	}

	// Bound exhausted: a fixed answer, never an error.
	logger.Warn().
		Int("iterations", MaxToolIterations).
		Msg("Turn exhausted tool iteration bound")
	result.Response = ExhaustedResponse
	success = true
	return result, nil
}

// executeTool runs one requested call. Failures are converted into an error
// string passed back into the conversation; they never abort the turn.
func (c *Controller) executeTool(ctx context.Context, call ToolCall, params RunParams) string {
	if params.OnToolEvent != nil {
		params.OnToolEvent(ToolEvent{Type: EventExecuting, Tool: call.Name, Args: call.Parameters})
	}

	output, err := c.registry.Execute(ctx, call.Name, call.Parameters, params.Policy)
	if err != nil {
		output = fmt.Sprintf("Error executing %s: %v", call.Name, err)
		logger := tracing.LoggerFromContext(ctx, c.logger)
		logger.Warn().
			Str("tool", call.Name).
			Err(err).
			Msg("Tool execution failed")
	}

	if params.OnToolEvent != nil {
		params.OnToolEvent(ToolEvent{Type: EventDone, Tool: call.Name, Args: call.Parameters, Result: output})
	}
	return output
}

// renderSchemas builds the provider-native tool schemas for the allowed set
func (c *Controller) renderSchemas(providerID string, policy *tool.Policy) []map[string]interface{} {
	defs := c.registry.Allowed(policy)
	if len(defs) == 0 {
		return nil
	}
	schemas := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		switch providerID {
		case ProviderAnthropic:
			schemas = append(schemas, def.AnthropicSchema())
		default:
			schemas = append(schemas, def.OpenAISchema())
		}
	}
	return schemas
}
