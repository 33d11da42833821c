package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/andris/kova/internal/observability"
	"github.com/andris/kova/internal/tracing"
)

const (
	defaultTimeout = 30 * time.Second
	maxOutputSize  = 10 * 1024
)

// Registry holds tool definitions and their compiled argument schemas.
// It is explicit injected state; there is no package-level registry.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
}

// NewRegistry creates an empty tool registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger.With().Str("component", "tool_registry").Logger(),
	}
}

// Register validates a tool definition, compiles its argument schema, and
// adds it to the registry. Re-registering a name replaces the tool.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool %s: description cannot be empty", def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler cannot be nil", def.Name)
	}

	var schema *gojsonschema.Schema
	if def.Parameters != nil {
		var err error
		schema, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Parameters))
		if err != nil {
			return fmt.Errorf("tool %s: invalid parameter schema: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	r.logger.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Unregister removes a tool
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tools, name)
	delete(r.schemas, name)

	r.logger.Info().Str("tool", name).Msg("Tool unregistered")
}

// Get returns a tool definition by name, or nil
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.tools[name]
}

// List returns all registered tool names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Allowed returns the definitions the policy exposes, sorted by name
func (r *Registry) Allowed(policy *Policy) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.tools))
	for name, def := range r.tools {
		if policy.Allows(name) {
			defs = append(defs, def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a tool. Policy violations, unknown tools, invalid arguments,
// handler errors and timeouts all come back as errors; the turn controller
// turns them into result strings for the model.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, policy *Policy) (string, error) {
	start := time.Now()

	if !policy.Allows(name) {
		r.logger.Warn().Str("tool", name).Msg("Tool execution blocked by policy")
		observability.RecordToolExecution(name, time.Since(start), false)
		observability.AuditToolDenied(ctx, tracing.GetAgentID(ctx), name)
		return "", fmt.Errorf("tool %q is not allowed by agent policy", name)
	}

	r.mu.RLock()
	def := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if def == nil {
		observability.RecordToolExecution(name, time.Since(start), false)
		return "", fmt.Errorf("tool not found: %s", name)
	}

	if schema != nil {
		if args == nil {
			args = map[string]interface{}{}
		}
		result, err := schema.Validate(gojsonschema.NewGoLoader(args))
		if err != nil {
			observability.RecordToolExecution(name, time.Since(start), false)
			return "", fmt.Errorf("argument validation failed: %w", err)
		}
		if !result.Valid() {
			details := []string{}
			for _, e := range result.Errors() {
				details = append(details, e.String())
			}
			observability.RecordToolExecution(name, time.Since(start), false)
			return "", fmt.Errorf("invalid arguments: %v", details)
		}
	}

	r.logger.Debug().Str("tool", name).Msg("Executing tool")

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		out, err := def.Handler(timeoutCtx, args)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- out
	}()

	select {
	case out := <-resultCh:
		duration := time.Since(start)
		out, truncated := truncateOutput(out)
		r.logger.Debug().
			Str("tool", name).
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")
		observability.RecordToolExecution(name, duration, true)
		observability.AuditTool(ctx, tracing.GetAgentID(ctx), name, true)
		return out, nil

	case err := <-errCh:
		duration := time.Since(start)
		r.logger.Error().Str("tool", name).Dur("duration", duration).Err(err).Msg("Tool execution failed")
		observability.RecordToolExecution(name, duration, false)
		observability.AuditTool(ctx, tracing.GetAgentID(ctx), name, false)
		return "", err

	case <-timeoutCtx.Done():
		duration := time.Since(start)
		r.logger.Error().Str("tool", name).Dur("duration", duration).Msg("Tool execution timeout")
		observability.RecordToolExecution(name, duration, false)
		observability.AuditTool(ctx, tracing.GetAgentID(ctx), name, false)
		return "", fmt.Errorf("tool execution timeout after %v", defaultTimeout)
	}
}

func truncateOutput(out string) (string, bool) {
	if len(out) <= maxOutputSize {
		return out, false
	}
	return out[:maxOutputSize] + "\n... [output truncated]", true
}
