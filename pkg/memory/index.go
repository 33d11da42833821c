package memory

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

type indexEntry struct {
	id      string
	agentID string
	vector  []float32
}

// VectorIndex is the in-process nearest-neighbor cache over the store.
// Entries hold normalized embeddings so search reduces to dot products. The
// index is derived state: it can be rebuilt from the store at any time and is
// never the source of truth.
type VectorIndex struct {
	mu      sync.RWMutex
	entries []indexEntry
}

// NewVectorIndex creates an empty index
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{}
}

type vectorHit struct {
	id         string
	agentID    string
	similarity float64
}

// Add inserts one normalized entry into the live index
func (idx *VectorIndex) Add(id, agentID string, embedding []float32) error {
	normalized, err := normalize(embedding)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = append(idx.entries, indexEntry{id: id, agentID: agentID, vector: normalized})
	return nil
}

// Build replaces the whole index from a record set. Records without an
// embedding or with a degenerate (zero) vector are skipped.
func (idx *VectorIndex) Build(records []Record) error {
	entries := make([]indexEntry, 0, len(records))
	for _, record := range records {
		normalized, err := normalize(record.Embedding)
		if err != nil {
			continue
		}
		entries = append(entries, indexEntry{id: record.ID, agentID: record.AgentID, vector: normalized})
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = entries
	return nil
}

// Search returns the limit nearest entries by cosine similarity, best first.
// Agent filtering happens in the caller, after the scan.
func (idx *VectorIndex) Search(query []float32, limit int) ([]vectorHit, error) {
	normalized, err := normalize(query)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	hits := make([]vectorHit, 0, len(idx.entries))
	for _, entry := range idx.entries {
		if len(entry.vector) != len(normalized) {
			continue
		}
		hits = append(hits, vectorHit{
			id:         entry.id,
			agentID:    entry.agentID,
			similarity: dot(entry.vector, normalized),
		})
	}
	idx.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].similarity > hits[j].similarity })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Size returns the number of live entries
func (idx *VectorIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func normalize(vector []float32) ([]float32, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, fmt.Errorf("zero-magnitude embedding")
	}
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
