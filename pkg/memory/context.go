package memory

import (
	"context"
	"fmt"
	"strings"
)

// ContextSection renders the "## Relevant Memory" system-prompt section for a
// turn. Any failure degrades to an empty contribution; retrieval problems
// must never fail the turn.
func (m *Manager) ContextSection(ctx context.Context, query, agentID string, topK int, threshold float64) string {
	results, err := m.Search(ctx, query, agentID, topK, threshold)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Memory context lookup failed, omitting section")
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Relevant Memory\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s\n", strings.ReplaceAll(r.Content, "\n", " "))
	}
	return strings.TrimRight(b.String(), "\n")
}
