package routing

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFirstMatchWins(t *testing.T) {
	router, err := NewRouter([]Rule{
		{Pattern: "slack:eng:*", AgentID: "coder"},
		{Pattern: "slack:*:*", AgentID: "generalist"},
	}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "coder", router.Resolve("slack:eng:andris"))
	assert.Equal(t, "generalist", router.Resolve("slack:sales:andris"))
}

func TestResolveFallsBackToDefault(t *testing.T) {
	router, err := NewRouter([]Rule{
		{Pattern: "slack:eng:*", AgentID: "coder"},
	}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, DefaultAgentID, router.Resolve("email:inbox:andris"))
}

func TestResolveCatchAllRule(t *testing.T) {
	router, err := NewRouter([]Rule{
		{Pattern: "slack:eng:*", AgentID: "coder"},
		{Pattern: "webchat:*", AgentID: "concierge"},
		{Pattern: "*", AgentID: "support"},
	}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "coder", router.Resolve("slack:eng:andris"))
	assert.Equal(t, "concierge", router.Resolve("webchat:main:anonymous"))
	assert.Equal(t, "support", router.Resolve("chan:room2:bob"))
}

func TestResolveNoRules(t *testing.T) {
	router, err := NewRouter(nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultAgentID, router.Resolve("anything:at:all"))
}

func TestMatchKey(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"slack:eng:andris", "slack:eng:andris", true},
		{"slack:eng:andris", "slack:eng:sam", false},
		{"slack:*:*", "slack:eng:andris", true},
		{"*:*:andris", "email:inbox:andris", true},
		{"slack:eng-*:*", "slack:eng-infra:andris", true},
		{"slack:eng-*:*", "slack:design:andris", false},
		// Wildcards span colons: a short pattern covers a whole channel.
		{"slack:*", "slack:eng:andris", true},
		{"webchat:*", "webchat:main:anonymous", true},
		{"*", "slack:eng:andris", true},
		{"slack:eng:andris:extra", "slack:eng:andris", false},
		{"email:*", "slack:eng:andris", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_vs_"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, matchKey(tt.pattern, tt.key))
		})
	}
}

func TestNewRouterRejectsMalformedRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"empty pattern", []Rule{{Pattern: "", AgentID: "x"}}},
		{"empty agent", []Rule{{Pattern: "slack:*:*", AgentID: ""}}},
		{"empty segment", []Rule{{Pattern: "slack::x", AgentID: "x"}}},
		{"bad glob", []Rule{{Pattern: "slack:[:x", AgentID: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRouter(tt.rules, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestRulesReturnsCopy(t *testing.T) {
	router, err := NewRouter([]Rule{{Pattern: "a:b:c", AgentID: "x"}}, zerolog.Nop())
	require.NoError(t, err)

	rules := router.Rules()
	rules[0].AgentID = "mutated"
	assert.Equal(t, "x", router.Rules()[0].AgentID)
}
