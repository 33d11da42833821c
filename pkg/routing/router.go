package routing

import (
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultAgentID governs every session no rule claims.
const DefaultAgentID = "default"

// Rule binds a session key pattern to an agent. Patterns are globs matched
// against the whole key, and "*" crosses segment boundaries: "slack:eng-*:*"
// covers the engineering channels, "webchat:*" covers every WebChat session,
// and "*" is a catch-all.
type Rule struct {
	Pattern string `json:"pattern"`
	AgentID string `json:"agent_id"`
}

// Router resolves session keys to agent IDs. Rules are ordered; the first
// match wins.
type Router struct {
	rules  []Rule
	logger zerolog.Logger
}

// NewRouter validates the rules and builds a router. Malformed patterns fail
// here, not at resolve time.
func NewRouter(rules []Rule, logger zerolog.Logger) (*Router, error) {
	for i, rule := range rules {
		if rule.Pattern == "" {
			return nil, fmt.Errorf("rule %d: pattern is required", i)
		}
		if rule.AgentID == "" {
			return nil, fmt.Errorf("rule %d (%s): agent_id is required", i, rule.Pattern)
		}
		for _, segment := range strings.Split(rule.Pattern, ":") {
			if segment == "" {
				return nil, fmt.Errorf("rule %d: pattern %q has an empty segment", i, rule.Pattern)
			}
		}
		if _, err := path.Match(rule.Pattern, "probe"); err != nil {
			return nil, fmt.Errorf("rule %d: pattern %q is malformed: %w", i, rule.Pattern, err)
		}
	}

	return &Router{
		rules:  rules,
		logger: logger.With().Str("component", "router").Logger(),
	}, nil
}

// Resolve returns the agent governing the session key, or DefaultAgentID
// when no rule matches.
func (r *Router) Resolve(sessionKey string) string {
	for _, rule := range r.rules {
		if matchKey(rule.Pattern, sessionKey) {
			r.logger.Debug().
				Str("session_key", sessionKey).
				Str("pattern", rule.Pattern).
				Str("agent_id", rule.AgentID).
				Msg("Route matched")
			return rule.AgentID
		}
	}
	return DefaultAgentID
}

// Rules returns a copy of the ordered rule list
func (r *Router) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// matchKey matches a glob pattern against the whole session key. Keys never
// contain "/", so path.Match gives fnmatch semantics here: "*" spans colons,
// which is what makes "webchat:*" and the bare "*" catch-all work.
func matchKey(pattern, key string) bool {
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}
