// Package agents persists agent definitions. The default (orchestrator)
// definition is special-cased: when no stored row exists it falls back to the
// deployment config, so a fresh install always has a working agent.
package agents

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Reserved tool names only the orchestrator may hold.
const (
	ToolDelegate   = "delegate"
	ToolListAgents = "list_agents"
)

// Definition configures one agent
type Definition struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	Model              string    `json:"model"`
	SystemPrompt       string    `json:"system_prompt,omitempty"`
	MaxContextMessages int       `json:"max_context_messages,omitempty"`
	ToolsAllowed       []string  `json:"tools_allowed,omitempty"`
	Enabled            bool      `json:"enabled"`
	CreatedAt          time.Time `json:"created_at,omitempty"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}

// Store persists definitions in SQLite
type Store struct {
	db        *sql.DB
	defaultID string
	fallback  *Definition
	logger    zerolog.Logger
}

// NewStore opens the agent database. fallback is the config-derived default
// definition returned when the default agent has no stored row.
func NewStore(dbPath, defaultID string, fallback *Definition, logger zerolog.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if defaultID == "" {
		return nil, fmt.Errorf("default agent id is required")
	}
	if fallback == nil {
		return nil, fmt.Errorf("fallback definition is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:        db,
		defaultID: defaultID,
		fallback:  fallback,
		logger:    logger.With().Str("component", "agents").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			model TEXT NOT NULL,
			system_prompt TEXT,
			max_context_messages INTEGER NOT NULL DEFAULT 0,
			tools_allowed TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// validate enforces the write-time invariants. A specialist definition may
// never hold the delegation tools, directly or through the wildcard.
func (s *Store) validate(def *Definition) error {
	if def.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if def.Name == "" {
		return fmt.Errorf("agent %s: name is required", def.ID)
	}
	if def.Model == "" {
		return fmt.Errorf("agent %s: model is required", def.ID)
	}
	if def.ID != s.defaultID {
		for _, name := range def.ToolsAllowed {
			if name == ToolDelegate || name == ToolListAgents {
				return fmt.Errorf("agent %s: specialist agents may not hold the %s tool", def.ID, name)
			}
			if name == "*" {
				return fmt.Errorf("agent %s: the wildcard tool allowance is reserved for the default agent", def.ID)
			}
		}
	}
	return nil
}

// Put upserts a definition
func (s *Store) Put(ctx context.Context, def *Definition) error {
	if err := s.validate(def); err != nil {
		return err
	}

	var toolsJSON sql.NullString
	if len(def.ToolsAllowed) > 0 {
		data, err := json.Marshal(def.ToolsAllowed)
		if err != nil {
			return fmt.Errorf("failed to marshal tools: %w", err)
		}
		toolsJSON = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, description, model, system_prompt, max_context_messages, tools_allowed, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			model = excluded.model,
			system_prompt = excluded.system_prompt,
			max_context_messages = excluded.max_context_messages,
			tools_allowed = excluded.tools_allowed,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		def.ID, def.Name, def.Description, def.Model, def.SystemPrompt,
		def.MaxContextMessages, toolsJSON, def.Enabled, def.CreatedAt.Unix(), def.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}

	s.logger.Info().Str("agent_id", def.ID).Msg("Agent definition saved")
	return nil
}

// Get returns a definition, the config fallback for an unstored default
// agent, or nil when unknown.
func (s *Store) Get(ctx context.Context, id string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, model, system_prompt, max_context_messages, tools_allowed, enabled, created_at, updated_at FROM agents WHERE id = ?",
		id,
	)
	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		if id == s.defaultID {
			fallback := *s.fallback
			fallback.ID = s.defaultID
			return &fallback, nil
		}
		return nil, nil
	}
	return def, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row rowScanner) (*Definition, error) {
	var def Definition
	var description, systemPrompt, toolsJSON sql.NullString
	var enabled int
	var createdAt, updatedAt int64

	err := row.Scan(&def.ID, &def.Name, &description, &def.Model, &systemPrompt,
		&def.MaxContextMessages, &toolsJSON, &enabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	def.Description = description.String
	def.SystemPrompt = systemPrompt.String
	def.Enabled = enabled != 0
	def.CreatedAt = time.Unix(createdAt, 0)
	def.UpdatedAt = time.Unix(updatedAt, 0)
	if toolsJSON.Valid {
		if err := json.Unmarshal([]byte(toolsJSON.String), &def.ToolsAllowed); err != nil {
			return nil, fmt.Errorf("failed to parse tools: %w", err)
		}
	}
	return &def, nil
}

// List returns every definition. The default agent appears exactly once: the
// stored row when present, otherwise the config fallback.
func (s *Store) List(ctx context.Context) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, description, model, system_prompt, max_context_messages, tools_allowed, enabled, created_at, updated_at FROM agents ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	hasDefault := false
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		if def.ID == s.defaultID {
			hasDefault = true
		}
		defs = append(defs, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !hasDefault {
		fallback := *s.fallback
		fallback.ID = s.defaultID
		defs = append([]Definition{fallback}, defs...)
	}
	return defs, nil
}

// Delete removes a stored definition. Deleting the default agent only drops
// the stored override; the config fallback remains.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("agent not found: %s", id)
	}
	s.logger.Info().Str("agent_id", id).Msg("Agent definition deleted")
	return nil
}

// Seed inserts definitions that do not exist yet, leaving stored ones alone
func (s *Store) Seed(ctx context.Context, defs []Definition) error {
	for i := range defs {
		def := defs[i]
		existing, err := s.Get(ctx, def.ID)
		if err != nil {
			return err
		}
		if existing != nil && def.ID != s.defaultID {
			continue
		}
		if def.ID == s.defaultID {
			// Only seed the default when there is no stored row.
			var count int
			if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents WHERE id = ?", def.ID).Scan(&count); err != nil {
				return err
			}
			if count > 0 {
				continue
			}
		}
		if err := s.Put(ctx, &def); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
