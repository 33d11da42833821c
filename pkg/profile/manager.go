// Package profile builds a long-lived picture of the user from their own
// messages. Facts are extracted passively by a small LLM call after each
// exchange and merged by key; nothing here ever blocks or fails a turn.
package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Completer is the minimal LLM surface extraction needs. The runtime adapts
// a provider to it so this package stays decoupled from provider wiring.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Fact is one extracted statement about the user
type Fact struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Manager persists profile facts and people mentions
type Manager struct {
	db        *sql.DB
	completer Completer
	logger    zerolog.Logger
}

const factExtractionPrompt = `You extract durable personal facts about the user from their message.
Return a JSON object mapping short snake_case keys to string values, for example:
{"name": "Andris", "timezone": "Berlin", "favorite_editor": "vim"}
Only include facts the user states about themselves. Return {} when there are none.
Return ONLY the JSON object.`

// NewManager opens the profile database. The completer may be nil, which
// disables extraction but keeps reads working.
func NewManager(dbPath string, completer Completer, logger zerolog.Logger) (*Manager, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS facts (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			extracted_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS people (
			name_normalized TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT,
			team TEXT,
			relationship TEXT,
			context TEXT,
			mention_count INTEGER NOT NULL DEFAULT 1,
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Manager{
		db:        db,
		completer: completer,
		logger:    logger.With().Str("component", "profile").Logger(),
	}, nil
}

// SetFact upserts a single fact
func (m *Manager) SetFact(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("fact key is required")
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO facts (key, value, extracted_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, extracted_at = excluded.extracted_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save fact: %w", err)
	}
	return nil
}

// Fact returns the value for a key, or "" when unknown
func (m *Manager) Fact(ctx context.Context, key string) (string, error) {
	var value string
	err := m.db.QueryRowContext(ctx, "SELECT value FROM facts WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read fact: %w", err)
	}
	return value, nil
}

// Facts returns every fact ordered by key
func (m *Manager) Facts(ctx context.Context) ([]Fact, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT key, value, extracted_at FROM facts ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var fact Fact
		var extractedAt int64
		if err := rows.Scan(&fact.Key, &fact.Value, &extractedAt); err != nil {
			return nil, err
		}
		fact.ExtractedAt = time.Unix(extractedAt, 0)
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// ExtractFacts runs the extraction prompt over a user message and merges the
// result into the fact table. A nil completer or an unparseable response is
// not an error; extraction is best effort.
func (m *Manager) ExtractFacts(ctx context.Context, userMessage string) error {
	if m.completer == nil || strings.TrimSpace(userMessage) == "" {
		return nil
	}

	raw, err := m.completer.Complete(ctx, factExtractionPrompt, userMessage)
	if err != nil {
		return fmt.Errorf("fact extraction call failed: %w", err)
	}

	extracted := map[string]string{}
	if err := json.Unmarshal([]byte(extractJSON(raw, '{', '}')), &extracted); err != nil {
		m.logger.Debug().Str("response", raw).Msg("Fact extraction returned no usable JSON")
		return nil
	}

	for key, value := range extracted {
		if key == "" || strings.TrimSpace(value) == "" {
			continue
		}
		if err := m.SetFact(ctx, key, value); err != nil {
			return err
		}
	}
	if len(extracted) > 0 {
		m.logger.Info().Int("count", len(extracted)).Msg("Extracted profile facts")
	}
	return nil
}

// ContextSection renders the "## About This User" block, or "" when the
// profile is empty.
func (m *Manager) ContextSection(ctx context.Context) string {
	facts, err := m.Facts(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to load facts, omitting section")
		return ""
	}
	if len(facts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## About This User\n")
	for _, fact := range facts {
		fmt.Fprintf(&b, "- %s: %s\n", strings.ReplaceAll(fact.Key, "_", " "), fact.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

// extractJSON pulls the outermost open..close span from an LLM response,
// tolerating prose or code fences around it. Returns "" when absent.
func extractJSON(raw string, open, close byte) string {
	start := strings.IndexByte(raw, open)
	end := strings.LastIndexByte(raw, close)
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// Close closes the underlying database
func (m *Manager) Close() error {
	return m.db.Close()
}
