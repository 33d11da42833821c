package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Record is one stored memory. Immutable once written except for the
// reprocessed marker used by external batch jobs.
type Record struct {
	ID          string                 `json:"id"`
	Content     string                 `json:"content"`
	Embedding   []float32              `json:"-"`
	AgentID     string                 `json:"agent_id"`
	SessionID   string                 `json:"session_id,omitempty"`
	Source      string                 `json:"source,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Reprocessed bool                   `json:"reprocessed,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Store is the durable side of the engine: a SQLite table of records plus an
// FTS5 shadow table for keyword relevance.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (or creates) the memory database
func NewStore(dbPath string, logger zerolog.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// FTS5 support
	db, err := sql.Open("sqlite3", dbPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "memory_store").Logger(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding BLOB,
			agent_id TEXT NOT NULL,
			session_id TEXT,
			source TEXT,
			metadata TEXT,
			reprocessed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			memory_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert persists a record and its FTS row in one transaction. The record id
// is assigned here when empty.
func (s *Store) Insert(ctx context.Context, record *Record) error {
	if record.Content == "" {
		return fmt.Errorf("content is required")
	}
	if record.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	var embeddingJSON sql.NullString
	if len(record.Embedding) > 0 {
		data, err := json.Marshal(record.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		embeddingJSON = sql.NullString{String: string(data), Valid: true}
	}

	var metadataJSON sql.NullString
	if len(record.Metadata) > 0 {
		data, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO memories (id, content, embedding, agent_id, session_id, source, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		record.ID, record.Content, embeddingJSON, record.AgentID, record.SessionID, record.Source, metadataJSON, record.CreatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO memories_fts (memory_id, content) VALUES (?, ?)",
		record.ID, record.Content,
	); err != nil {
		return fmt.Errorf("failed to index memory: %w", err)
	}

	return tx.Commit()
}

// Get returns a record by id, or nil when absent
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, content, embedding, agent_id, session_id, source, metadata, reprocessed, created_at FROM memories WHERE id = ?",
		id,
	)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var embeddingJSON, sessionID, source, metadataJSON sql.NullString
	var reprocessed int
	var createdAt int64

	err := row.Scan(&r.ID, &r.Content, &embeddingJSON, &r.AgentID, &sessionID, &source, &metadataJSON, &reprocessed, &createdAt)
	if err != nil {
		return nil, err
	}

	r.SessionID = sessionID.String
	r.Source = source.String
	r.Reprocessed = reprocessed != 0
	r.CreatedAt = time.Unix(createdAt, 0)
	if embeddingJSON.Valid {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &r.Embedding); err != nil {
			return nil, fmt.Errorf("failed to parse embedding: %w", err)
		}
	}
	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}
	return &r, nil
}

// Delete removes a record and its FTS row. The caller owns the index rebuild.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM memories_fts WHERE memory_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete memory index row: %w", err)
	}

	return tx.Commit()
}

// AllEmbedded returns every record that carries an embedding, for index
// rebuilds.
func (s *Store) AllEmbedded(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, content, embedding, agent_id, session_id, source, metadata, reprocessed, created_at FROM memories WHERE embedding IS NOT NULL ORDER BY created_at",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded memories: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// Count returns the total number of stored records
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count)
	return count, err
}

// MarkReprocessed flags a record as handled by the external batch job
func (s *Store) MarkReprocessed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE memories SET reprocessed = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark memory reprocessed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}
	return nil
}

type keywordHit struct {
	id        string
	agentID   string
	bm25Score float64
}

// KeywordSearch runs an FTS5 bm25 query. An empty agentID searches all
// agents. bm25 scores are negative; they come back negated here.
func (s *Store) KeywordSearch(ctx context.Context, query, agentID string, limit int) ([]keywordHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT f.memory_id, m.agent_id, bm25(memories_fts) as score
		FROM memories_fts f
		JOIN memories m ON m.id = f.memory_id
		WHERE memories_fts MATCH ?`
	args := []interface{}{match}
	if agentID != "" {
		sqlQuery += " AND m.agent_id = ?"
		args = append(args, agentID)
	}
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []keywordHit
	for rows.Next() {
		var hit keywordHit
		var score float64
		if err := rows.Scan(&hit.id, &hit.agentID, &score); err != nil {
			return nil, err
		}
		hit.bm25Score = -score
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ftsQuery turns free text into a safe FTS5 MATCH expression: bare word
// tokens, quoted, joined with OR. Punctuation in the raw query would
// otherwise be parsed as match syntax.
func ftsQuery(query string) string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	for _, token := range tokens {
		quoted = append(quoted, `"`+token+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
