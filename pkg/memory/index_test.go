package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAddAndSearch(t *testing.T) {
	idx := NewVectorIndex()
	require.NoError(t, idx.Add("a", "default", []float32{1, 0, 0}))
	require.NoError(t, idx.Add("b", "default", []float32{0, 1, 0}))
	require.NoError(t, idx.Add("c", "coder", []float32{0.9, 0.1, 0}))

	hits, err := idx.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].id)
	assert.InDelta(t, 1.0, hits[0].similarity, 1e-6)
	assert.Equal(t, "c", hits[1].id)
}

func TestIndexRejectsDegenerateVectors(t *testing.T) {
	idx := NewVectorIndex()
	assert.Error(t, idx.Add("a", "default", nil))
	assert.Error(t, idx.Add("a", "default", []float32{0, 0, 0}))

	_, err := idx.Search([]float32{0, 0}, 5)
	assert.Error(t, err)
}

func TestIndexBuildReplaces(t *testing.T) {
	idx := NewVectorIndex()
	require.NoError(t, idx.Add("old", "default", []float32{1, 0}))

	require.NoError(t, idx.Build([]Record{
		{ID: "x", AgentID: "default", Embedding: []float32{1, 0}},
		{ID: "y", AgentID: "coder", Embedding: []float32{0, 1}},
		{ID: "skipped", AgentID: "coder"}, // no embedding
	}))

	assert.Equal(t, 2, idx.Size())
	hits, err := idx.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].id)
}

func TestIndexSkipsDimensionMismatch(t *testing.T) {
	idx := NewVectorIndex()
	require.NoError(t, idx.Add("a", "default", []float32{1, 0, 0}))

	hits, err := idx.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
