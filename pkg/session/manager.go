package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/andris/kova/internal/observability"
	"github.com/andris/kova/internal/tracing"
	"github.com/andris/kova/pkg/tool"
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
	StatusError  Status = "error"
)

// Session is one conversation, keyed by "channel:target:user"
type Session struct {
	Key          string    `json:"key"`
	AgentID      string    `json:"agent_id"`
	Status       Status    `json:"status"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Message is a single conversation turn. ToolCalls is only populated on
// assistant messages that invoked tools during their turn.
type Message struct {
	ID        int64             `json:"id,omitempty"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	ToolCalls []tool.CallRecord `json:"tool_calls,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Manager persists sessions and messages in SQLite
type Manager struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewManager opens (or creates) the session database
func NewManager(dbPath string, logger zerolog.Logger) (*Manager, error) {
	observability.EnsureRegistered()

	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	m := &Manager{
		db:     db,
		logger: logger.With().Str("component", "session").Logger(),
	}

	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	m.logger.Info().Str("db", dbPath).Msg("Session manager initialized")
	m.updateActiveSessionsMetric()

	return m, nil
}

func (m *Manager) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			key TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'idle',
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_active_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (session_key) REFERENCES sessions(key) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, id);
	`
	_, err := m.db.Exec(schema)
	return err
}

func validateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (m *Manager) updateActiveSessionsMetric() {
	var count int
	if err := m.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count); err == nil {
		observability.SetActiveSessions(count)
	}
}

// GetOrCreate returns the session for the key, creating it under the given
// agent when absent. An existing session keeps its original agent binding.
func (m *Manager) GetOrCreate(ctx context.Context, sessionKey, agentID string) (*Session, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	ctx, span := tracing.Span(ctx, "session.get_or_create",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()

	existing, err := m.Get(ctx, sessionKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	_, err = m.db.ExecContext(ctx,
		"INSERT INTO sessions (key, agent_id, status, created_at, last_active_at) VALUES (?, ?, ?, ?, ?)",
		sessionKey, agentID, StatusIdle, now.Unix(), now.Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.updateActiveSessionsMetric()
	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Info().
		Str("session_key", sessionKey).
		Str("agent_id", agentID).
		Msg("Session created")

	return &Session{
		Key:          sessionKey,
		AgentID:      agentID,
		Status:       StatusIdle,
		CreatedAt:    now,
		LastActiveAt: now,
	}, nil
}

// Get returns the session, or nil when it does not exist
func (m *Manager) Get(ctx context.Context, sessionKey string) (*Session, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	var s Session
	var status string
	var createdAt, lastActiveAt int64
	err := m.db.QueryRowContext(ctx,
		"SELECT key, agent_id, status, message_count, created_at, last_active_at FROM sessions WHERE key = ?",
		sessionKey,
	).Scan(&s.Key, &s.AgentID, &status, &s.MessageCount, &createdAt, &lastActiveAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	s.Status = Status(status)
	s.CreatedAt = time.Unix(createdAt, 0)
	s.LastActiveAt = time.Unix(lastActiveAt, 0)
	return &s, nil
}

// SetStatus transitions the session lifecycle state
func (m *Manager) SetStatus(ctx context.Context, sessionKey string, status Status) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}

	result, err := m.db.ExecContext(ctx,
		"UPDATE sessions SET status = ?, last_active_at = ? WHERE key = ?",
		status, time.Now().Unix(), sessionKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %s", sessionKey)
	}

	m.logger.Debug().
		Str("session_key", sessionKey).
		Str("status", string(status)).
		Msg("Session status updated")
	return nil
}

// AppendMessage appends a message and bumps the session counters in one
// transaction.
func (m *Manager) AppendMessage(ctx context.Context, sessionKey string, message Message) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}
	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if message.Content == "" && len(message.ToolCalls) == 0 {
		return fmt.Errorf("message content cannot be empty")
	}

	ctx, span := tracing.Span(ctx, "session.append_message",
		attribute.String("session_key", sessionKey),
		attribute.String("role", message.Role),
	)
	defer span.End()

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	var toolCallsJSON sql.NullString
	if len(message.ToolCalls) > 0 {
		data, err := json.Marshal(message.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to marshal tool calls: %w", err)
		}
		toolCallsJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO messages (session_key, role, content, tool_calls, created_at) VALUES (?, ?, ?, ?, ?)",
		sessionKey, message.Role, message.Content, toolCallsJSON, message.CreatedAt.Unix(),
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert message: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE sessions SET message_count = message_count + 1, last_active_at = ? WHERE key = ?",
		message.CreatedAt.Unix(), sessionKey,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("session not found: %s", sessionKey)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Debug().
		Str("session_key", sessionKey).
		Str("role", message.Role).
		Msg("Message appended")
	return nil
}

// Messages returns the last limit messages in chronological order. A limit
// of 0 or less returns the full history.
func (m *Manager) Messages(ctx context.Context, sessionKey string, limit int) ([]Message, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	query := "SELECT id, role, content, tool_calls, created_at FROM messages WHERE session_key = ? ORDER BY id"
	args := []interface{}{sessionKey}
	if limit > 0 {
		// Window: newest N, returned oldest-first.
		query = `SELECT id, role, content, tool_calls, created_at FROM (
			SELECT id, role, content, tool_calls, created_at FROM messages
			WHERE session_key = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var toolCallsJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &toolCallsJSON, &createdAt); err != nil {
			return nil, err
		}
		msg.CreatedAt = time.Unix(createdAt, 0)
		if toolCallsJSON.Valid {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
				m.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("Failed to parse tool calls, skipping")
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// List returns all sessions, most recently active first
func (m *Manager) List(ctx context.Context) ([]Session, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT key, agent_id, status, message_count, created_at, last_active_at FROM sessions ORDER BY last_active_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var status string
		var createdAt, lastActiveAt int64
		if err := rows.Scan(&s.Key, &s.AgentID, &status, &s.MessageCount, &createdAt, &lastActiveAt); err != nil {
			return nil, err
		}
		s.Status = Status(status)
		s.CreatedAt = time.Unix(createdAt, 0)
		s.LastActiveAt = time.Unix(lastActiveAt, 0)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Delete removes a session and its messages
func (m *Manager) Delete(ctx context.Context, sessionKey string) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_key = ?", sessionKey); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE key = ?", sessionKey); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	m.updateActiveSessionsMetric()
	m.logger.Info().Str("session_key", sessionKey).Msg("Session deleted")
	return nil
}

// Trim keeps only the newest keep messages of a session. The stored
// message_count keeps tracking lifetime appends.
func (m *Manager) Trim(ctx context.Context, sessionKey string, keep int) (int, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return 0, err
	}
	if keep <= 0 {
		return 0, nil
	}

	result, err := m.db.ExecContext(ctx, `
		DELETE FROM messages WHERE session_key = ? AND id NOT IN (
			SELECT id FROM messages WHERE session_key = ? ORDER BY id DESC LIMIT ?
		)`, sessionKey, sessionKey, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to trim messages: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		m.logger.Debug().
			Str("session_key", sessionKey).
			Int64("removed", n).
			Msg("Session trimmed")
	}
	return int(n), nil
}

// IdleSince returns sessions whose last activity is before the cutoff
func (m *Manager) IdleSince(ctx context.Context, cutoff time.Time) ([]Session, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT key, agent_id, status, message_count, created_at, last_active_at FROM sessions WHERE last_active_at < ?",
		cutoff.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var status string
		var createdAt, lastActiveAt int64
		if err := rows.Scan(&s.Key, &s.AgentID, &status, &s.MessageCount, &createdAt, &lastActiveAt); err != nil {
			return nil, err
		}
		s.Status = Status(status)
		s.CreatedAt = time.Unix(createdAt, 0)
		s.LastActiveAt = time.Unix(lastActiveAt, 0)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Close closes the underlying database
func (m *Manager) Close() error {
	m.logger.Info().Msg("Session manager closed")
	return m.db.Close()
}
