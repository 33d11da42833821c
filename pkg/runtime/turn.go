package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/andris/kova/internal/observability"
	"github.com/andris/kova/internal/tracing"
	"github.com/andris/kova/pkg/agent"
	"github.com/andris/kova/pkg/agents"
	"github.com/andris/kova/pkg/hooks"
	"github.com/andris/kova/pkg/routing"
	"github.com/andris/kova/pkg/session"
	"github.com/andris/kova/pkg/tool"
)

// Truncation limits for tool summaries re-injected into later turns
const (
	summaryArgsLimit   = 150
	summaryResultLimit = 300
)

// HandleMessage runs one full exchange: resolve the governing agent, build
// the prompt and window, run the turn, persist both sides, and kick off
// extraction in the background. A provider failure marks the session as
// errored and surfaces as the returned error.
func (r *Runtime) HandleMessage(ctx context.Context, sessionKey, userMessage string) (string, error) {
	if strings.TrimSpace(userMessage) == "" {
		return "", fmt.Errorf("message is empty")
	}

	agentID := r.router.Resolve(sessionKey)
	def, err := r.agents.Get(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("failed to look up agent %s: %w", agentID, err)
	}
	if def == nil || !def.Enabled {
		// A route can point at an agent that was since removed or disabled;
		// the default agent picks up the session.
		agentID = routing.DefaultAgentID
		if def, err = r.agents.Get(ctx, agentID); err != nil || def == nil {
			return "", fmt.Errorf("no agent available for session %s", sessionKey)
		}
	}

	ctx = tracing.NewTurnContext(ctx, agentID, sessionKey)
	ctx, span := tracing.Span(ctx, "runtime.handle_message",
		attribute.String("session_key", sessionKey),
		attribute.String("agent_id", agentID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	if _, err := r.sessions.GetOrCreate(ctx, sessionKey, agentID); err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	if err := r.sessions.SetStatus(ctx, sessionKey, session.StatusActive); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark session active")
	}
	r.trigger(ctx, hooks.EventTurnStart, map[string]interface{}{
		"session_key": sessionKey,
		"agent_id":    agentID,
	})

	if err := r.sessions.AppendMessage(ctx, sessionKey, session.Message{
		Role:    "user",
		Content: userMessage,
	}); err != nil {
		return "", fmt.Errorf("failed to persist user message: %w", err)
	}

	window := def.MaxContextMessages
	if window <= 0 {
		window = r.maxContextMessages
	}
	history, err := r.sessions.Messages(ctx, sessionKey, window)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}

	providerID, model, err := agent.ResolveModel(def.Model)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", agentID, err)
	}
	provider, err := r.providers(providerID)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", agentID, err)
	}

	var policy *tool.Policy
	if len(def.ToolsAllowed) > 0 {
		policy = &tool.Policy{Allow: def.ToolsAllowed}
	}

	start := time.Now()
	result, err := r.controller.Run(ctx, agent.RunParams{
		Provider:     provider,
		Model:        model,
		SystemPrompt: r.buildSystemPrompt(ctx, def, agentID, userMessage),
		Messages:     buildMessages(history),
		Policy:       policy,
		OnToolEvent:  r.toolEventHook(ctx, sessionKey),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if statusErr := r.sessions.SetStatus(ctx, sessionKey, session.StatusError); statusErr != nil {
			logger.Warn().Err(statusErr).Msg("Failed to mark session errored")
		}
		observability.AuditTurn(ctx, sessionKey, agentID, false)
		return "", fmt.Errorf("turn failed: %w", err)
	}

	if err := r.sessions.AppendMessage(ctx, sessionKey, session.Message{
		Role:      "assistant",
		Content:   result.Response,
		ToolCalls: result.Trace,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist assistant message")
	}
	if err := r.sessions.SetStatus(ctx, sessionKey, session.StatusIdle); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark session idle")
	}

	observability.AuditTurn(ctx, sessionKey, agentID, true)
	r.trigger(ctx, hooks.EventTurnEnd, map[string]interface{}{
		"session_key": sessionKey,
		"agent_id":    agentID,
		"iterations":  result.Iterations,
	})
	r.enqueueExtraction(ctx, sessionKey, agentID, userMessage, result.Response)

	logger.Info().
		Str("session_key", sessionKey).
		Str("agent_id", agentID).
		Int("iterations", result.Iterations).
		Dur("duration", time.Since(start)).
		Msg("Turn completed")
	return result.Response, nil
}

// buildSystemPrompt composes the prompt sections in fixed order: base,
// skills, current time, relevant memory, profile facts, known people.
// Absent collaborators and empty sections simply drop out.
func (r *Runtime) buildSystemPrompt(ctx context.Context, def *agents.Definition, agentID, userMessage string) string {
	sections := []string{strings.TrimSpace(def.SystemPrompt)}

	if r.skills != nil {
		sections = append(sections, r.skills.BuildPrompt(ctx, agentID))
	}
	sections = append(sections, r.currentTimeSection(ctx))
	if r.memory != nil {
		sections = append(sections, r.memory.ContextSection(ctx, userMessage, agentID, r.memoryTopK, r.memoryThreshold))
	}
	if r.profile != nil {
		sections = append(sections, r.profile.ContextSection(ctx))
		sections = append(sections, r.profile.PeopleSection(ctx))
	}

	var kept []string
	for _, section := range sections {
		if section != "" {
			kept = append(kept, section)
		}
	}
	return strings.Join(kept, "\n\n")
}

func (r *Runtime) currentTimeSection(ctx context.Context) string {
	loc := time.UTC
	if r.profile != nil {
		loc = r.profile.Location(ctx)
	}
	return "## Current Time\n" + time.Now().In(loc).Format("Monday, January 2, 2006 at 3:04 PM MST")
}

// buildMessages converts persisted history into provider messages. Assistant
// turns that used tools get a compact summary of those calls appended, so
// later turns keep that context without replaying full tool transcripts.
func buildMessages(history []session.Message) []agent.Message {
	messages := make([]agent.Message, 0, len(history))
	for _, msg := range history {
		content := msg.Content
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			content = strings.TrimRight(content+"\n\n"+summarizeToolCalls(msg.ToolCalls), "\n")
		}
		if content == "" {
			continue
		}
		messages = append(messages, agent.Message{Role: msg.Role, Content: content})
	}
	return messages
}

func summarizeToolCalls(calls []tool.CallRecord) string {
	var b strings.Builder
	b.WriteString("[Tools used:\n")
	for _, call := range calls {
		args := ""
		if len(call.Args) > 0 {
			if data, err := json.Marshal(call.Args); err == nil {
				args = truncate(string(data), summaryArgsLimit)
			}
		}
		fmt.Fprintf(&b, "- %s(%s) -> %s\n", call.Tool, args, truncate(call.Result, summaryResultLimit))
	}
	b.WriteString("]")
	return b.String()
}

// truncate cuts s to at most limit bytes, backing up so a multi-byte rune
// is never split.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// toolEventHook bridges controller tool events to lifecycle hooks
func (r *Runtime) toolEventHook(ctx context.Context, sessionKey string) agent.ToolEventFunc {
	if r.hooks == nil {
		return nil
	}
	return func(event agent.ToolEvent) {
		hookEvent := hooks.EventToolExecuting
		if event.Type == agent.EventDone {
			hookEvent = hooks.EventToolDone
		}
		r.trigger(ctx, hookEvent, map[string]interface{}{
			"session_key": sessionKey,
			"tool_name":   event.Tool,
		})
	}
}

func (r *Runtime) trigger(ctx context.Context, event string, data map[string]interface{}) {
	if r.hooks == nil {
		return
	}
	// Best effort; executeHook already logged the details.
	_ = r.hooks.Trigger(ctx, event, data)
}

// enqueueExtraction schedules the post-turn learning work: memory storage,
// profile facts, and people mentions. Detached, serialized, failure-proof.
func (r *Runtime) enqueueExtraction(ctx context.Context, sessionKey, agentID, question, answer string) {
	if r.jobs == nil {
		return
	}
	r.jobs.Enqueue(ctx, "extraction", "", func(jobCtx context.Context) error {
		if r.memory != nil {
			if _, err := r.memory.StoreExchange(jobCtx, question, answer, sessionKey, agentID); err != nil {
				return err
			}
		}
		if r.profile != nil {
			if err := r.profile.ExtractFacts(jobCtx, question); err != nil {
				return err
			}
			if err := r.profile.ExtractPeople(jobCtx, question); err != nil {
				return err
			}
		}
		return nil
	})
}
