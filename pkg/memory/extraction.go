package memory

import (
	"context"
	"fmt"
)

// minAnswerLength gates post-turn extraction: short answers are usually
// acknowledgements and not worth remembering.
const minAnswerLength = 100

// SourceConversation tags records extracted from completed exchanges.
const SourceConversation = "conversation"

// StoreExchange persists one question/answer pair after a completed turn.
// Returns the record, or nil when the answer is too short to be substantive.
func (m *Manager) StoreExchange(ctx context.Context, question, answer, sessionID, agentID string) (*Record, error) {
	if len(answer) < minAnswerLength {
		return nil, nil
	}

	content := fmt.Sprintf("Q: %s\nA: %s", question, answer)
	return m.Store(ctx, content, sessionID, agentID, SourceConversation, nil)
}
