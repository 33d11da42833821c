// Package runtime is the front door of the agent system. It resolves which
// agent governs a session, assembles the system prompt and context window,
// runs the turn, and persists the exchange. Everything that can degrade
// gracefully does: memory, profile, skills, hooks, and background extraction
// are all optional collaborators.
package runtime

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andris/kova/pkg/agent"
	"github.com/andris/kova/pkg/agents"
	"github.com/andris/kova/pkg/delegate"
	"github.com/andris/kova/pkg/hooks"
	"github.com/andris/kova/pkg/jobs"
	"github.com/andris/kova/pkg/memory"
	"github.com/andris/kova/pkg/profile"
	"github.com/andris/kova/pkg/routing"
	"github.com/andris/kova/pkg/session"
	"github.com/andris/kova/pkg/skills"
)

// DefaultMaxContextMessages bounds the history window when neither the
// agent definition nor the config sets one.
const DefaultMaxContextMessages = 50

// Params wires a Runtime. Router, Sessions, Agents, Controller, and
// Providers are required; the rest may be nil.
type Params struct {
	Router     *routing.Router
	Sessions   *session.Manager
	Agents     *agents.Store
	Controller *agent.Controller
	Providers  delegate.ProviderResolver

	Memory  *memory.Manager
	Profile *profile.Manager
	Skills  *skills.Store
	Jobs    *jobs.Queue
	Hooks   *hooks.Manager

	MaxContextMessages int
	MemoryTopK         int
	MemoryThreshold    float64

	Logger zerolog.Logger
}

// Runtime handles inbound messages end to end
type Runtime struct {
	router     *routing.Router
	sessions   *session.Manager
	agents     *agents.Store
	controller *agent.Controller
	providers  delegate.ProviderResolver

	memory  *memory.Manager
	profile *profile.Manager
	skills  *skills.Store
	jobs    *jobs.Queue
	hooks   *hooks.Manager

	maxContextMessages int
	memoryTopK         int
	memoryThreshold    float64

	logger zerolog.Logger
}

// New validates the wiring and builds a runtime
func New(p Params) (*Runtime, error) {
	if p.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if p.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if p.Agents == nil {
		return nil, fmt.Errorf("agent store is required")
	}
	if p.Controller == nil {
		return nil, fmt.Errorf("turn controller is required")
	}
	if p.Providers == nil {
		return nil, fmt.Errorf("provider resolver is required")
	}

	maxContext := p.MaxContextMessages
	if maxContext <= 0 {
		maxContext = DefaultMaxContextMessages
	}

	return &Runtime{
		router:             p.Router,
		sessions:           p.Sessions,
		agents:             p.Agents,
		controller:         p.Controller,
		providers:          p.Providers,
		memory:             p.Memory,
		profile:            p.Profile,
		skills:             p.Skills,
		jobs:               p.Jobs,
		hooks:              p.Hooks,
		maxContextMessages: maxContext,
		memoryTopK:         p.MemoryTopK,
		memoryThreshold:    p.MemoryThreshold,
		logger:             p.Logger.With().Str("component", "runtime").Logger(),
	}, nil
}

// Close drains background jobs. The stores it was wired with are owned by
// the caller and closed there.
func (r *Runtime) Close() error {
	if r.jobs != nil {
		return r.jobs.Close()
	}
	return nil
}
