// Package delegate lets the orchestrator hand scoped subtasks to specialist
// agents. A delegation is a fresh, history-less turn: the specialist sees
// exactly one user message and its own tool allow-list, never the calling
// session. Every failure mode comes back as a descriptive string, not a Go
// error, so the orchestrator's own loop can react to it as ordinary tool
// output.
package delegate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/andris/kova/internal/observability"
	"github.com/andris/kova/internal/tracing"
	"github.com/andris/kova/pkg/agent"
	"github.com/andris/kova/pkg/agents"
	"github.com/andris/kova/pkg/tool"
)

// ProviderResolver returns the provider adapter for a provider id
type ProviderResolver func(providerID string) (agent.Provider, error)

// Engine runs delegations
type Engine struct {
	agents     *agents.Store
	controller *agent.Controller
	providers  ProviderResolver
	tracker    *Tracker
	logger     zerolog.Logger
}

// NewEngine creates a delegation engine. The tracker is optional.
func NewEngine(store *agents.Store, controller *agent.Controller, providers ProviderResolver, tracker *Tracker, logger zerolog.Logger) (*Engine, error) {
	observability.EnsureRegistered()

	if store == nil {
		return nil, fmt.Errorf("agent store is required")
	}
	if controller == nil {
		return nil, fmt.Errorf("turn controller is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider resolver is required")
	}

	return &Engine{
		agents:     store,
		controller: controller,
		providers:  providers,
		tracker:    tracker,
		logger:     logger.With().Str("component", "delegate").Logger(),
	}, nil
}

// Delegate runs a task on a specialist and returns its textual answer. All
// failures come back as strings.
func (e *Engine) Delegate(ctx context.Context, agentID, task string) string {
	ctx, span := tracing.Span(ctx, "delegate.run",
		attribute.String("specialist_id", agentID),
	)
	defer span.End()

	def, err := e.agents.Get(ctx, agentID)
	if err != nil {
		return fmt.Sprintf("Error: failed to look up agent '%s': %v", agentID, err)
	}
	if def == nil || !def.Enabled {
		return fmt.Sprintf("Error: agent '%s' not found. Available agents: %s", agentID, e.availableIDs(ctx))
	}

	// Recursion prevention: a specialist holding the delegate tool could
	// delegate further. Refuse before running anything.
	for _, name := range def.ToolsAllowed {
		if name == agents.ToolDelegate {
			return fmt.Sprintf("Error: cannot delegate to agent '%s': its tool list contains the delegate tool", agentID)
		}
	}

	providerID, model, err := agent.ResolveModel(def.Model)
	if err != nil {
		return fmt.Sprintf("Error: agent '%s' has an invalid model: %v", agentID, err)
	}
	provider, err := e.providers(providerID)
	if err != nil {
		return fmt.Sprintf("Error: no provider available for agent '%s': %v", agentID, err)
	}

	// Strip the delegation tools from the effective allow-list even if the
	// stored definition is somehow mis-configured.
	policy := &tool.Policy{Allow: def.ToolsAllowed}
	policy = policy.Without(agents.ToolDelegate, agents.ToolListAgents)

	var runID string
	if e.tracker != nil {
		runID, err = e.tracker.Begin(tracing.GetSessionKey(ctx), agentID, task)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Failed to track delegation run")
		}
	}

	start := time.Now()
	specialistCtx := tracing.PropagateToSpecialist(ctx, agentID)
	result, err := e.controller.Run(specialistCtx, agent.RunParams{
		Provider:     provider,
		Model:        model,
		SystemPrompt: def.SystemPrompt,
		Messages:     []agent.Message{{Role: "user", Content: task}},
		Policy:       policy,
	})
	if err != nil {
		observability.RecordDelegation(agentID, false)
		observability.AuditDelegation(ctx, tracing.GetSessionKey(ctx), agentID, false)
		if runID != "" {
			e.tracker.Fail(runID, err.Error())
		}
		logger := tracing.LoggerFromContext(ctx, e.logger)
		logger.Warn().
			Str("specialist_id", agentID).
			Err(err).
			Msg("Delegation failed")
		return fmt.Sprintf("Specialist agent '%s' failed: %v", agentID, err)
	}

	observability.RecordDelegation(agentID, true)
	observability.AuditDelegation(ctx, tracing.GetSessionKey(ctx), agentID, true)
	if runID != "" {
		e.tracker.Complete(runID, result.Response)
	}
	logger := tracing.LoggerFromContext(ctx, e.logger)
	logger.Info().
		Str("specialist_id", agentID).
		Int("iterations", result.Iterations).
		Dur("duration", time.Since(start)).
		Msg("Delegation completed")
	return result.Response
}

// ListAgents returns a formatted listing of every configured agent
func (e *Engine) ListAgents(ctx context.Context) string {
	defs, err := e.agents.List(ctx)
	if err != nil {
		return fmt.Sprintf("Error: failed to list agents: %v", err)
	}

	var b strings.Builder
	b.WriteString("Available agents:\n")
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		tools := "none"
		if len(def.ToolsAllowed) > 0 {
			tools = strings.Join(def.ToolsAllowed, ", ")
		}
		fmt.Fprintf(&b, "- %s (%s): %s [model: %s, tools: %s]\n",
			def.ID, def.Name, def.Description, def.Model, tools)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *Engine) availableIDs(ctx context.Context) string {
	defs, err := e.agents.List(ctx)
	if err != nil {
		return "(unavailable)"
	}
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		if def.Enabled {
			ids = append(ids, def.ID)
		}
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return "(none)"
	}
	return strings.Join(ids, ", ")
}

// RegisterTools adds the delegate and list_agents tools to the registry.
// Only the orchestrator's policy should allow them.
func RegisterTools(registry *tool.Registry, engine *Engine) error {
	delegateTool := tool.Definition{
		Name:        agents.ToolDelegate,
		Description: "Delegate a task to a specialist agent. The specialist runs the task in isolation and returns its answer.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"agent_id": map[string]interface{}{
					"type":        "string",
					"description": "The id of the specialist agent",
				},
				"task": map[string]interface{}{
					"type":        "string",
					"description": "The task for the specialist, phrased as a self-contained request",
				},
			},
			"required": []interface{}{"agent_id", "task"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			agentID, _ := args["agent_id"].(string)
			task, _ := args["task"].(string)
			return engine.Delegate(ctx, agentID, task), nil
		},
	}

	listTool := tool.Definition{
		Name:        agents.ToolListAgents,
		Description: "List every configured agent with its id, description, model, and allowed tools.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Handler: func(ctx context.Context, _ map[string]interface{}) (string, error) {
			return engine.ListAgents(ctx), nil
		},
	}

	if err := registry.Register(delegateTool); err != nil {
		return err
	}
	return registry.Register(listTool)
}
