// Package skills stores markdown prompt extensions. A skill is a named block
// of instructions an agent carries in its system prompt; an empty agent list
// makes a skill global.
package skills

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

// Skill is one prompt extension
type Skill struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	Enabled     bool      `json:"enabled"`
	Agents      []string  `json:"agents,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// appliesTo reports whether the skill is active for an agent
func (s *Skill) appliesTo(agentID string) bool {
	if !s.Enabled {
		return false
	}
	if len(s.Agents) == 0 {
		return true
	}
	for _, id := range s.Agents {
		if id == agentID {
			return true
		}
	}
	return false
}

// Store persists skills in SQLite
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens the skills database
func NewStore(dbPath string, logger zerolog.Logger) (*Store, error) {
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

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "skills").Logger(),
	}
	schema := `
		CREATE TABLE IF NOT EXISTS skills (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			content TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			agents TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Put upserts a skill
func (s *Store) Put(ctx context.Context, skill *Skill) error {
	if skill.ID == "" {
		return fmt.Errorf("skill id is required")
	}
	if skill.Name == "" {
		return fmt.Errorf("skill %s: name is required", skill.ID)
	}
	if skill.Content == "" {
		return fmt.Errorf("skill %s: content is required", skill.ID)
	}

	var agentsJSON sql.NullString
	if len(skill.Agents) > 0 {
		data, err := json.Marshal(skill.Agents)
		if err != nil {
			return fmt.Errorf("failed to marshal agents: %w", err)
		}
		agentsJSON = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now()
	if skill.CreatedAt.IsZero() {
		skill.CreatedAt = now
	}
	skill.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skills (id, name, description, content, enabled, agents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			content = excluded.content,
			enabled = excluded.enabled,
			agents = excluded.agents,
			updated_at = excluded.updated_at`,
		skill.ID, skill.Name, skill.Description, skill.Content, skill.Enabled,
		agentsJSON, skill.CreatedAt.Unix(), skill.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save skill: %w", err)
	}
	s.logger.Info().Str("skill_id", skill.ID).Msg("Skill saved")
	return nil
}

// Get returns a skill, or nil when unknown
func (s *Store) Get(ctx context.Context, id string) (*Skill, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, description, content, enabled, agents, created_at, updated_at FROM skills WHERE id = ?", id)
	skill, err := scanSkill(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return skill, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSkill(row rowScanner) (*Skill, error) {
	var skill Skill
	var description, agentsJSON sql.NullString
	var enabled int
	var createdAt, updatedAt int64

	err := row.Scan(&skill.ID, &skill.Name, &description, &skill.Content, &enabled, &agentsJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	skill.Description = description.String
	skill.Enabled = enabled != 0
	skill.CreatedAt = time.Unix(createdAt, 0)
	skill.UpdatedAt = time.Unix(updatedAt, 0)
	if agentsJSON.Valid {
		if err := json.Unmarshal([]byte(agentsJSON.String), &skill.Agents); err != nil {
			return nil, fmt.Errorf("failed to parse agents: %w", err)
		}
	}
	return &skill, nil
}

// List returns every skill ordered by id
func (s *Store) List(ctx context.Context) ([]Skill, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, description, content, enabled, agents, created_at, updated_at FROM skills ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list skills: %w", err)
	}
	defer rows.Close()

	var skills []Skill
	for rows.Next() {
		skill, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		skills = append(skills, *skill)
	}
	return skills, rows.Err()
}

// Delete removes a skill
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM skills WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete skill: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("skill not found: %s", id)
	}
	return nil
}

// BuildPrompt renders the "## Active Skills" section for an agent, or an
// empty string when no skill applies.
func (s *Store) BuildPrompt(ctx context.Context, agentID string) string {
	skills, err := s.List(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load skills, omitting section")
		return ""
	}

	var b strings.Builder
	for i := range skills {
		if !skills[i].appliesTo(agentID) {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("## Active Skills\n")
		}
		fmt.Fprintf(&b, "### %s\n%s\n", skills[i].Name, strings.TrimSpace(skills[i].Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
