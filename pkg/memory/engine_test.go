package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns preset vectors per text and a fixed fallback for
// anything else, so scores in tests are fully deterministic.
type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding provider unavailable")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func (f *fakeEmbedder) Dimension() int { return 4 }

func newTestManager(t *testing.T, embedder EmbeddingProvider) *Manager {
	t.Helper()
	if embedder == nil {
		embedder = &fakeEmbedder{vectors: map[string][]float32{}}
	}
	m, err := NewManager(newTestStore(t), embedder, "default", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestStoreThenSearchExactContent(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"the capital of France is Paris": {1, 0, 0, 0},
	}}
	m := newTestManager(t, embedder)
	ctx := context.Background()

	record, err := m.Store(ctx, "the capital of France is Paris", "s1", "default", "conversation", nil)
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)
	assert.Equal(t, 1, m.IndexSize())

	results, err := m.Search(ctx, "the capital of France is Paris", "default", 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, record.ID, results[0].ID)
	assert.GreaterOrEqual(t, results[0].Score, 0.9)
	require.NotNil(t, results[0].VectorScore)
	assert.InDelta(t, 1.0, *results[0].VectorScore, 1e-6)
	require.NotNil(t, results[0].KeywordScore)
}

func TestSearchAgentIsolation(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"shared fact about databases": {1, 0, 0, 0},
	}}
	m := newTestManager(t, embedder)
	ctx := context.Background()

	_, err := m.Store(ctx, "shared fact about databases", "s1", "default", "conversation", nil)
	require.NoError(t, err)
	_, err = m.Store(ctx, "shared fact about databases", "s2", "coder", "conversation", nil)
	require.NoError(t, err)

	// The default agent sees all agents' records.
	results, err := m.Search(ctx, "shared fact about databases", "default", 10, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// A specialist only sees its own.
	results, err = m.Search(ctx, "shared fact about databases", "coder", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "coder", results[0].AgentID)
}

func TestSearchThresholdExcludesWeakVectorOnlyHits(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"alpha content": {1, 0, 0, 0},
		"unrelated":     {0, 1, 0, 0},
	}}
	m := newTestManager(t, embedder)
	ctx := context.Background()

	_, err := m.Store(ctx, "alpha content", "s1", "default", "conversation", nil)
	require.NoError(t, err)

	// Orthogonal vector, no shared keywords: excluded by the threshold.
	results, err := m.Search(ctx, "unrelated", "default", 5, 0.25)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchKeywordOnlyHitIncluded(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"grafana dashboard setup": {1, 0, 0, 0},
		"grafana":                 {0, 1, 0, 0},
	}}
	m := newTestManager(t, embedder)
	ctx := context.Background()

	_, err := m.Store(ctx, "grafana dashboard setup", "s1", "default", "conversation", nil)
	require.NoError(t, err)

	// Vector similarity is 0, but the keyword hit carries it in with a
	// vector contribution of zero.
	results, err := m.Search(ctx, "grafana", "default", 5, 0.25)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, keywordWeight, results[0].Score, 1e-6)
	require.NotNil(t, results[0].KeywordScore)
}

func TestRebuildPreservesSearchResults(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"first note":  {1, 0, 0, 0},
		"second note": {0.9, 0.1, 0, 0},
		"third note":  {0, 0, 1, 0},
		"first":       {1, 0, 0, 0},
	}}
	m := newTestManager(t, embedder)
	ctx := context.Background()

	for _, content := range []string{"first note", "second note", "third note"} {
		_, err := m.Store(ctx, content, "s1", "default", "conversation", nil)
		require.NoError(t, err)
	}

	before, err := m.Search(ctx, "first", "default", 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	require.NoError(t, m.Rebuild(ctx))
	assert.Equal(t, 3, m.IndexSize())

	after, err := m.Search(ctx, "first", "default", 5, 0)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
	}
}

func TestDeleteTriggersRebuild(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"keep me":   {1, 0, 0, 0},
		"delete me": {0, 1, 0, 0},
	}}
	m := newTestManager(t, embedder)
	ctx := context.Background()

	keep, err := m.Store(ctx, "keep me", "s1", "default", "conversation", nil)
	require.NoError(t, err)
	doomed, err := m.Store(ctx, "delete me", "s1", "default", "conversation", nil)
	require.NoError(t, err)
	require.Equal(t, 2, m.IndexSize())

	require.NoError(t, m.Delete(ctx, doomed.ID))
	assert.Equal(t, 1, m.IndexSize())

	results, err := m.Search(ctx, "keep me", "default", 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, keep.ID, results[0].ID)
}

func TestSearchDegradesWhenEmbeddingFails(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"postgres tuning tips": {1, 0, 0, 0},
	}}
	m := newTestManager(t, embedder)
	ctx := context.Background()

	_, err := m.Store(ctx, "postgres tuning tips", "s1", "default", "conversation", nil)
	require.NoError(t, err)

	embedder.fail = true
	results, err := m.Search(ctx, "postgres", "default", 5, 0.25)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].VectorScore)
	require.NotNil(t, results[0].KeywordScore)
}

func TestStoreFailsWhenEmbeddingFails(t *testing.T) {
	m := newTestManager(t, &fakeEmbedder{fail: true})

	// Construction rebuilds from an empty store, so fail only afterwards.
	_, err := m.Store(context.Background(), "anything", "s1", "default", "conversation", nil)
	assert.Error(t, err)
}

func TestSearchEmptyQuery(t *testing.T) {
	m := newTestManager(t, nil)

	results, err := m.Search(context.Background(), "", "default", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
