package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andris/kova/internal/tracing"
	"github.com/andris/kova/pkg/tool"
)

func TestMemoryToolsRoundTrip(t *testing.T) {
	m := newTestManager(t, nil)
	registry := tool.NewRegistry(zerolog.Nop())
	require.NoError(t, RegisterTools(registry, m))

	ctx := tracing.WithAgentID(context.Background(), "coder")
	ctx = tracing.WithSessionKey(ctx, "slack:eng:andris")

	out, err := registry.Execute(ctx, "memory_store",
		map[string]interface{}{"content": "the staging cluster lives in eu-west-1"}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Stored memory")

	out, err = registry.Execute(ctx, "memory_search",
		map[string]interface{}{"query": "staging cluster"}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "eu-west-1")

	// The record belongs to the agent from the turn context.
	records, err := m.store.AllEmbedded(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "coder", records[0].AgentID)
	assert.Equal(t, "slack:eng:andris", records[0].SessionID)
}

func TestMemorySearchToolNoResults(t *testing.T) {
	m := newTestManager(t, nil)
	registry := tool.NewRegistry(zerolog.Nop())
	require.NoError(t, RegisterTools(registry, m))

	out, err := registry.Execute(context.Background(), "memory_search",
		map[string]interface{}{"query": "nothing stored yet"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "No relevant memories found.", out)
}

func TestMemorySearchToolValidatesArgs(t *testing.T) {
	m := newTestManager(t, nil)
	registry := tool.NewRegistry(zerolog.Nop())
	require.NoError(t, RegisterTools(registry, m))

	_, err := registry.Execute(context.Background(), "memory_search", map[string]interface{}{}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid arguments"))
}
