package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithAgentID(ctx, "default")
	ctx = WithSessionKey(ctx, "cli:main:andris")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Equal(t, "default", GetAgentID(ctx))
	assert.Equal(t, "cli:main:andris", GetSessionKey(ctx))
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetAgentID(ctx))
	assert.Empty(t, GetSessionKey(ctx))
}

func TestFromContextAndNewContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-2")
	ctx = WithAgentID(ctx, "researcher")

	tc := FromContext(ctx)
	require.NotNil(t, tc)
	assert.Equal(t, "trace-2", tc.TraceID)
	assert.Equal(t, "researcher", tc.AgentID)
	assert.Empty(t, tc.RunID)

	rebuilt := NewContext(context.Background(), tc)
	assert.Equal(t, "trace-2", GetTraceID(rebuilt))
	assert.Equal(t, "researcher", GetAgentID(rebuilt))
	assert.Empty(t, GetRunID(rebuilt))
}

func TestNewTurnContext(t *testing.T) {
	ctx := NewTurnContext(context.Background(), "default", "cli:main:andris")

	assert.NotEmpty(t, GetTraceID(ctx))
	assert.NotEmpty(t, GetRunID(ctx))
	assert.Equal(t, "default", GetAgentID(ctx))
	assert.Equal(t, "cli:main:andris", GetSessionKey(ctx))
}

func TestNewTurnContextKeepsExistingTraceID(t *testing.T) {
	parent := WithTraceID(context.Background(), "trace-keep")
	ctx := NewTurnContext(parent, "default", "")

	assert.Equal(t, "trace-keep", GetTraceID(ctx))
}

func TestNewIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, NewTraceID(), NewTraceID())
	assert.NotEqual(t, NewRunID(), NewRunID())
}
