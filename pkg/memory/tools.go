package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/andris/kova/internal/tracing"
	"github.com/andris/kova/pkg/tool"
)

// RegisterTools adds memory_search and memory_store to the registry. The
// acting agent and session come from the turn context, so the same two tools
// serve every agent under the isolation rule.
func RegisterTools(registry *tool.Registry, m *Manager) error {
	search := tool.Definition{
		Name:        "memory_search",
		Description: "Search long-term memory for information relevant to a query. Returns the best matching memories with relevance scores.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What to look for",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (default 5)",
				},
			},
			"required": []interface{}{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)
			topK := 0
			if v, ok := args["top_k"].(float64); ok {
				topK = int(v)
			}

			agentID := tracing.GetAgentID(ctx)
			if agentID == "" {
				agentID = m.defaultAgentID
			}

			results, err := m.Search(ctx, query, agentID, topK, 0)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No relevant memories found.", nil
			}

			var b strings.Builder
			for i, r := range results {
				fmt.Fprintf(&b, "%d. [%.2f] %s\n", i+1, r.Score, r.Content)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}

	store := tool.Definition{
		Name:        "memory_store",
		Description: "Store a piece of information in long-term memory for later retrieval.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"content": map[string]interface{}{
					"type":        "string",
					"description": "The information to remember",
				},
			},
			"required": []interface{}{"content"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			content, _ := args["content"].(string)

			agentID := tracing.GetAgentID(ctx)
			if agentID == "" {
				agentID = m.defaultAgentID
			}
			sessionID := tracing.GetSessionKey(ctx)

			record, err := m.Store(ctx, content, sessionID, agentID, "tool", nil)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Stored memory %s.", record.ID), nil
		},
	}

	if err := registry.Register(search); err != nil {
		return err
	}
	return registry.Register(store)
}
