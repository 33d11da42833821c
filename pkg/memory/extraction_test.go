package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreExchangeSkipsShortAnswers(t *testing.T) {
	m := newTestManager(t, nil)

	record, err := m.StoreExchange(context.Background(), "what time is it?", "3pm", "s1", "default")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Zero(t, m.IndexSize())
}

func TestStoreExchangeStoresSubstantiveAnswers(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	answer := strings.Repeat("the deploy pipeline has three stages. ", 4)
	record, err := m.StoreExchange(ctx, "how does the deploy work?", answer, "s1", "default")
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.True(t, strings.HasPrefix(record.Content, "Q: how does the deploy work?\nA: "))
	assert.Equal(t, SourceConversation, record.Source)
	assert.Equal(t, "s1", record.SessionID)
	assert.Equal(t, 1, m.IndexSize())
}
