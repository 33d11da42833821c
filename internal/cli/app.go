package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/andris/kova/internal/config"
	"github.com/andris/kova/pkg/agent"
	"github.com/andris/kova/pkg/agents"
	"github.com/andris/kova/pkg/coretools"
	"github.com/andris/kova/pkg/delegate"
	"github.com/andris/kova/pkg/hooks"
	"github.com/andris/kova/pkg/jobs"
	"github.com/andris/kova/pkg/memory"
	"github.com/andris/kova/pkg/profile"
	"github.com/andris/kova/pkg/routing"
	"github.com/andris/kova/pkg/runtime"
	"github.com/andris/kova/pkg/session"
	"github.com/andris/kova/pkg/skills"
	"github.com/andris/kova/pkg/tool"
)

// app holds every wired component for the lifetime of a command
type app struct {
	cfg      *config.Config
	runtime  *runtime.Runtime
	sessions *session.Manager
	cleanup  *session.Cleanup
	agents   *agents.Store
	memory   *memory.Manager
	profile  *profile.Manager
	skills   *skills.Store
	registry *tool.Registry
	watcher  *tool.Watcher
	jobs     *jobs.Queue

	closers []func() error
}

// providerCompleter adapts a chat provider to the small completion surface
// profile extraction needs.
type providerCompleter struct {
	provider agent.Provider
	model    string
}

func (c *providerCompleter) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	resp, err := c.provider.Call(ctx, agent.Request{
		Model:        c.model,
		SystemPrompt: systemPrompt,
		Messages:     []agent.Message{{Role: "user", Content: userMessage}},
		MaxTokens:    1024,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// newApp wires the full runtime from a validated config
func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	providers := make(map[string]agent.Provider)
	if cfg.Providers.OpenAI.APIKey != "" {
		p, err := agent.NewProvider(agent.ProviderOpenAI, cfg.Providers.OpenAI.APIKey)
		if err != nil {
			return nil, err
		}
		providers[agent.ProviderOpenAI] = p
	}
	if cfg.Providers.Anthropic.APIKey != "" {
		p, err := agent.NewProvider(agent.ProviderAnthropic, cfg.Providers.Anthropic.APIKey)
		if err != nil {
			return nil, err
		}
		providers[agent.ProviderAnthropic] = p
	}
	resolver := func(providerID string) (agent.Provider, error) {
		p, ok := providers[providerID]
		if !ok {
			return nil, fmt.Errorf("provider %s is not configured", providerID)
		}
		return p, nil
	}

	agentStore, defaultAgent, err := a.buildAgentStore(cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}

	sessions, err := session.NewManager(filepath.Join(cfg.DataDir, "sessions.db"), log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.sessions = sessions
	a.closers = append(a.closers, sessions.Close)
	a.cleanup = session.NewCleanup(sessions,
		time.Duration(cfg.Session.RetentionIdleDays)*24*time.Hour,
		cfg.Session.RetentionMessages, log)

	prof, err := a.buildProfile(cfg, defaultAgent, resolver, log)
	if err != nil {
		a.close()
		return nil, err
	}

	registry := tool.NewRegistry(log)
	a.registry = registry
	workspaceRoot := filepath.Join(cfg.DataDir, "workspace")
	if err := os.MkdirAll(workspaceRoot, 0755); err != nil {
		a.close()
		return nil, err
	}
	if err := coretools.Register(registry, coretools.Options{
		WorkspaceRoot: workspaceRoot,
		Location:      prof.Location,
	}); err != nil {
		a.close()
		return nil, err
	}

	mem, err := a.buildMemory(cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}
	if mem != nil {
		if err := memory.RegisterTools(registry, mem); err != nil {
			a.close()
			return nil, err
		}
	}

	skillStore, err := skills.NewStore(filepath.Join(cfg.DataDir, "skills.db"), log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.skills = skillStore
	a.closers = append(a.closers, skillStore.Close)

	if err := a.loadDeclarativeTools(cfg, log); err != nil {
		a.close()
		return nil, err
	}

	controller := agent.NewController(registry, log)

	tracker, err := delegate.NewTracker(filepath.Join(cfg.DataDir, "delegations.json"), log)
	if err != nil {
		a.close()
		return nil, err
	}
	engine, err := delegate.NewEngine(agentStore, controller, resolver, tracker, log)
	if err != nil {
		a.close()
		return nil, err
	}
	if err := delegate.RegisterTools(registry, engine); err != nil {
		a.close()
		return nil, err
	}

	hookManager, err := buildHooks(cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}

	router, err := routing.NewRouter(buildRoutes(cfg), log)
	if err != nil {
		a.close()
		return nil, err
	}

	queue := jobs.NewQueue(log)
	a.jobs = queue
	a.closers = append(a.closers, queue.Close)

	rt, err := runtime.New(runtime.Params{
		Router:             router,
		Sessions:           sessions,
		Agents:             agentStore,
		Controller:         controller,
		Providers:          resolver,
		Memory:             mem,
		Profile:            prof,
		Skills:             skillStore,
		Jobs:               queue,
		Hooks:              hookManager,
		MaxContextMessages: cfg.Session.MaxContextMessages,
		MemoryTopK:         cfg.Memory.TopK,
		MemoryThreshold:    cfg.Memory.Threshold,
		Logger:             log,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.runtime = rt

	return a, nil
}

func (a *app) buildAgentStore(cfg *config.Config, log zerolog.Logger) (*agents.Store, config.AgentConfig, error) {
	var defaultAgent config.AgentConfig
	defs := make([]agents.Definition, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		if ac.ID == routing.DefaultAgentID {
			defaultAgent = ac
		}
		defs = append(defs, agents.Definition{
			ID:                 ac.ID,
			Name:               ac.Name,
			Description:        ac.Description,
			Model:              ac.Model,
			SystemPrompt:       ac.SystemPrompt,
			MaxContextMessages: cfg.Session.MaxContextMessages,
			ToolsAllowed:       ac.Tools,
			Enabled:            true,
		})
	}

	fallback := &agents.Definition{
		Name:         defaultAgent.Name,
		Description:  defaultAgent.Description,
		Model:        defaultAgent.Model,
		SystemPrompt: defaultAgent.SystemPrompt,
		ToolsAllowed: defaultAgent.Tools,
	}
	store, err := agents.NewStore(filepath.Join(cfg.DataDir, "agents.db"), routing.DefaultAgentID, fallback, log)
	if err != nil {
		return nil, defaultAgent, err
	}
	a.agents = store
	a.closers = append(a.closers, store.Close)

	if err := store.Seed(context.Background(), defs); err != nil {
		return nil, defaultAgent, err
	}
	return store, defaultAgent, nil
}

func (a *app) buildProfile(cfg *config.Config, defaultAgent config.AgentConfig, resolver delegate.ProviderResolver, log zerolog.Logger) (*profile.Manager, error) {
	var completer profile.Completer
	if providerID, model, err := agent.ResolveModel(defaultAgent.Model); err == nil {
		if provider, err := resolver(providerID); err == nil {
			completer = &providerCompleter{provider: provider, model: model}
		}
	}

	prof, err := profile.NewManager(filepath.Join(cfg.DataDir, "profile.db"), completer, log)
	if err != nil {
		return nil, err
	}
	a.profile = prof
	a.closers = append(a.closers, prof.Close)
	return prof, nil
}

func (a *app) buildMemory(cfg *config.Config, log zerolog.Logger) (*memory.Manager, error) {
	if cfg.Memory.EmbeddingAPIKey == "" {
		log.Warn().Msg("No embedding API key configured, memory retrieval disabled")
		return nil, nil
	}
	store, err := memory.NewStore(filepath.Join(cfg.DataDir, "memory.db"), log)
	if err != nil {
		return nil, err
	}
	embedder := memory.NewOpenAIEmbedder(cfg.Memory.EmbeddingAPIKey, cfg.Memory.EmbeddingModel)
	mem, err := memory.NewManager(store, embedder, routing.DefaultAgentID, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.memory = mem
	a.closers = append(a.closers, mem.Close)
	return mem, nil
}

// loadDeclarativeTools loads *.json tool specs and hot-reloads on change
func (a *app) loadDeclarativeTools(cfg *config.Config, log zerolog.Logger) error {
	dir := cfg.Tools.DeclarativeDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	loader := tool.NewDeclarativeLoader(dir, a.registry, log)
	if err := loader.Load(); err != nil {
		return err
	}

	watcher, err := tool.NewWatcher(log, func() {
		if err := loader.Load(); err != nil {
			log.Warn().Err(err).Msg("Declarative tool reload failed")
		}
	})
	if err != nil {
		return err
	}
	if err := watcher.Watch(dir); err != nil {
		watcher.Stop()
		return err
	}
	a.watcher = watcher
	a.closers = append(a.closers, watcher.Stop)
	return nil
}

func buildHooks(cfg *config.Config, log zerolog.Logger) (*hooks.Manager, error) {
	var configured []hooks.Hook
	for event, script := range cfg.Hooks.Scripts {
		configured = append(configured, hooks.Hook{
			ID:      event,
			Event:   event,
			Script:  script,
			Timeout: time.Duration(cfg.Hooks.Timeout) * time.Second,
			Enabled: true,
		})
	}
	return hooks.NewManager(hooks.Config{
		Enabled: cfg.Hooks.Enabled,
		Hooks:   configured,
		Logger:  log,
	})
}

func buildRoutes(cfg *config.Config) []routing.Rule {
	rules := make([]routing.Rule, 0, len(cfg.Routes))
	for _, route := range cfg.Routes {
		rules = append(rules, routing.Rule{Pattern: route.Pattern, AgentID: route.AgentID})
	}
	return rules
}

// close tears components down in reverse wiring order
func (a *app) close() {
	if a.cleanup != nil && a.cleanup.IsRunning() {
		_ = a.cleanup.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
