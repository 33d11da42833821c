package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/andris/kova/internal/observability"
	"github.com/andris/kova/internal/tracing"
)

const (
	// DefaultTopK is the result count when the caller does not specify one.
	DefaultTopK = 5
	// DefaultThreshold is the minimum raw vector similarity for inclusion.
	// Keyword hits bypass it.
	DefaultThreshold = 0.25

	vectorWeight    = 0.7
	keywordWeight   = 0.3
	overFetchFactor = 4
)

// SearchResult is one ranked memory with its sub-scores kept for
// explainability.
type SearchResult struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	AgentID      string    `json:"agent_id"`
	Source       string    `json:"source,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Score        float64   `json:"score"`
	VectorScore  *float64  `json:"vector_score,omitempty"`
	KeywordScore *float64  `json:"keyword_score,omitempty"`
}

// Manager is the hybrid retrieval engine: durable store, live vector index,
// and an embedding provider.
type Manager struct {
	store          *Store
	index          *VectorIndex
	embedder       EmbeddingProvider
	defaultAgentID string
	logger         zerolog.Logger
}

// NewManager builds the engine and warms the index from the store
func NewManager(store *Store, embedder EmbeddingProvider, defaultAgentID string, logger zerolog.Logger) (*Manager, error) {
	observability.EnsureRegistered()

	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if defaultAgentID == "" {
		return nil, fmt.Errorf("default agent id is required")
	}

	m := &Manager{
		store:          store,
		index:          NewVectorIndex(),
		embedder:       embedder,
		defaultAgentID: defaultAgentID,
		logger:         logger.With().Str("component", "memory").Logger(),
	}

	if err := m.Rebuild(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to warm vector index: %w", err)
	}

	m.logger.Info().Int("index_size", m.index.Size()).Msg("Memory engine initialized")
	return m, nil
}

// Store embeds the content, persists the record, and adds it to the live
// index. A record without an index entry is a correctness bug, so an index
// failure fails the whole operation.
func (m *Manager) Store(ctx context.Context, content, sessionID, agentID, source string, metadata map[string]interface{}) (*Record, error) {
	ctx, span := tracing.Span(ctx, "memory.store",
		attribute.String("agent_id", agentID),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordMemoryStore(time.Since(start)) }()

	if agentID == "" {
		agentID = m.defaultAgentID
	}

	embedding, err := m.embedder.GenerateEmbedding(ctx, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	record := &Record{
		Content:   content,
		Embedding: embedding,
		AgentID:   agentID,
		SessionID: sessionID,
		Source:    source,
		Metadata:  metadata,
	}
	if err := m.store.Insert(ctx, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := m.index.Add(record.ID, record.AgentID, record.Embedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to index memory %s: %w", record.ID, err)
	}
	observability.SetMemoryIndexSize(m.index.Size())

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Debug().
		Str("memory_id", record.ID).
		Str("agent_id", agentID).
		Str("source", source).
		Msg("Memory stored")
	return record, nil
}

// Search runs the hybrid query. The default agent searches across all
// agents; every other agentID is restricted to its own records. A candidate
// is included when its raw vector similarity meets the threshold OR the
// keyword query found it; keyword-only hits blend with a vector contribution
// of zero.
func (m *Manager) Search(ctx context.Context, query, agentID string, topK int, threshold float64) ([]SearchResult, error) {
	ctx, span := tracing.Span(ctx, "memory.search",
		attribute.String("agent_id", agentID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, m.logger)
	start := time.Now()
	defer func() { observability.RecordMemorySearch(time.Since(start)) }()

	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	restrictAgent := ""
	if agentID != "" && agentID != m.defaultAgentID {
		restrictAgent = agentID
	}

	// The index scan cannot filter by agent, so over-fetch before filtering.
	candidateLimit := topK * overFetchFactor

	var vectorHits []vectorHit
	var keywordHits []keywordHit
	var vectorErr, keywordErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		var embedding []float32
		embedding, vectorErr = m.embedder.GenerateEmbedding(ctx, query)
		if vectorErr != nil {
			return
		}
		vectorHits, vectorErr = m.index.Search(embedding, candidateLimit)
	}()
	go func() {
		defer wg.Done()
		keywordHits, keywordErr = m.store.KeywordSearch(ctx, query, restrictAgent, candidateLimit)
	}()
	wg.Wait()

	// Graceful degradation: one leg failing narrows the search, both
	// failing fails it.
	if vectorErr != nil {
		logger.Warn().Err(vectorErr).Msg("Vector search failed, using keyword only")
		span.RecordError(vectorErr)
	}
	if keywordErr != nil {
		logger.Warn().Err(keywordErr).Msg("Keyword search failed, using vector only")
		span.RecordError(keywordErr)
	}
	if vectorErr != nil && keywordErr != nil {
		span.SetStatus(codes.Error, "both search methods failed")
		return nil, fmt.Errorf("memory search failed: %v", vectorErr)
	}

	results := m.merge(vectorHits, keywordHits, restrictAgent, threshold)
	if len(results) > topK {
		results = results[:topK]
	}

	// Hydrate from the store.
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		record, err := m.store.Get(ctx, r.ID)
		if err != nil || record == nil {
			logger.Warn().Err(err).Str("memory_id", r.ID).Msg("Failed to hydrate search result")
			continue
		}
		r.Content = record.Content
		r.AgentID = record.AgentID
		r.Source = record.Source
		r.CreatedAt = record.CreatedAt
		out = append(out, r)
	}

	logger.Debug().
		Str("agent_id", agentID).
		Int("results", len(out)).
		Msg("Memory search completed")
	return out, nil
}

func (m *Manager) merge(vectorHits []vectorHit, keywordHits []keywordHit, restrictAgent string, threshold float64) []SearchResult {
	vectorMap := make(map[string]float64)
	for _, hit := range vectorHits {
		if restrictAgent != "" && hit.agentID != restrictAgent {
			continue
		}
		vectorMap[hit.id] = hit.similarity
	}

	keywordMap := make(map[string]float64)
	var maxKeyword float64
	for _, hit := range keywordHits {
		keywordMap[hit.id] = hit.bm25Score
		if hit.bm25Score > maxKeyword {
			maxKeyword = hit.bm25Score
		}
	}

	ids := make(map[string]bool)
	for id := range vectorMap {
		ids[id] = true
	}
	for id := range keywordMap {
		ids[id] = true
	}

	var results []SearchResult
	for id := range ids {
		vectorScore, hasVector := vectorMap[id]
		keywordScore, hasKeyword := keywordMap[id]

		// Inclusion rule: vector similarity meets the threshold OR the
		// keyword query found it.
		if !hasKeyword && (!hasVector || vectorScore < threshold) {
			continue
		}

		var normalizedKeyword float64
		if hasKeyword && maxKeyword > 0 {
			normalizedKeyword = keywordScore / maxKeyword
		}
		var vectorContribution float64
		if hasVector {
			vectorContribution = vectorScore
		}

		result := SearchResult{
			ID:    id,
			Score: vectorWeight*vectorContribution + keywordWeight*normalizedKeyword,
		}
		if hasVector {
			v := vectorScore
			result.VectorScore = &v
		}
		if hasKeyword {
			k := normalizedKeyword
			result.KeywordScore = &k
		}
		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}

// Delete removes a record. The index has no delete-in-place, so every
// deletion triggers a full rebuild.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := m.Rebuild(ctx); err != nil {
		return fmt.Errorf("failed to rebuild index after delete: %w", err)
	}
	m.logger.Info().Str("memory_id", id).Msg("Memory deleted")
	return nil
}

// Rebuild reloads every embedded record into a fresh index
func (m *Manager) Rebuild(ctx context.Context) error {
	ctx, span := tracing.Span(ctx, "memory.rebuild")
	defer span.End()

	records, err := m.store.AllEmbedded(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := m.index.Build(records); err != nil {
		span.RecordError(err)
		return err
	}

	observability.SetMemoryIndexSize(m.index.Size())
	m.logger.Debug().Int("index_size", m.index.Size()).Msg("Vector index rebuilt")
	return nil
}

// IndexSize returns the number of live index entries
func (m *Manager) IndexSize() int {
	return m.index.Size()
}

// DefaultAgentID returns the orchestrator agent id this engine was built with
func (m *Manager) DefaultAgentID() string {
	return m.defaultAgentID
}

// Close closes the underlying store
func (m *Manager) Close() error {
	m.logger.Info().Msg("Memory engine closed")
	return m.store.Close()
}
