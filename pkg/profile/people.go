package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// peopleSectionLimit caps the prompt section to the most-mentioned people
const peopleSectionLimit = 20

// Person is someone the user has mentioned
type Person struct {
	Name         string    `json:"name"`
	Role         string    `json:"role,omitempty"`
	Team         string    `json:"team,omitempty"`
	Relationship string    `json:"relationship,omitempty"`
	Context      string    `json:"context,omitempty"`
	MentionCount int       `json:"mention_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

const peopleExtractionPrompt = `You extract mentions of specific people from the user's message.
Return a JSON array of objects with these string fields (omit unknown ones):
[{"name": "Maija", "role": "engineer", "team": "platform", "relationship": "coworker", "context": "reviewing the deploy pipeline"}]
Only include actual named people, never the assistant or the user themselves.
Return [] when no people are mentioned. Return ONLY the JSON array.`

// normalizeName is the dedupe key for people
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RecordPerson upserts one person. Repeated mentions bump mention_count and
// fill in fields the earlier mentions left empty.
func (m *Manager) RecordPerson(ctx context.Context, person Person) error {
	normalized := normalizeName(person.Name)
	if normalized == "" {
		return fmt.Errorf("person name is required")
	}

	now := time.Now().Unix()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO people (name_normalized, name, role, team, relationship, context, mention_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(name_normalized) DO UPDATE SET
			name = excluded.name,
			role = CASE WHEN excluded.role != '' THEN excluded.role ELSE people.role END,
			team = CASE WHEN excluded.team != '' THEN excluded.team ELSE people.team END,
			relationship = CASE WHEN excluded.relationship != '' THEN excluded.relationship ELSE people.relationship END,
			context = CASE WHEN excluded.context != '' THEN excluded.context ELSE people.context END,
			mention_count = people.mention_count + 1,
			last_seen = excluded.last_seen`,
		normalized, strings.TrimSpace(person.Name), person.Role, person.Team,
		person.Relationship, person.Context, now, now)
	if err != nil {
		return fmt.Errorf("failed to save person: %w", err)
	}
	return nil
}

// Person returns a person by name, or nil when unknown
func (m *Manager) Person(ctx context.Context, name string) (*Person, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT name, role, team, relationship, context, mention_count, first_seen, last_seen
		FROM people WHERE name_normalized = ?`, normalizeName(name))
	person, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return person, err
}

func scanPerson(row *sql.Row) (*Person, error) {
	var person Person
	var role, team, relationship, context sql.NullString
	var firstSeen, lastSeen int64

	err := row.Scan(&person.Name, &role, &team, &relationship, &context,
		&person.MentionCount, &firstSeen, &lastSeen)
	if err != nil {
		return nil, err
	}
	person.Role = role.String
	person.Team = team.String
	person.Relationship = relationship.String
	person.Context = context.String
	person.FirstSeen = time.Unix(firstSeen, 0)
	person.LastSeen = time.Unix(lastSeen, 0)
	return &person, nil
}

// People returns everyone ordered by mention count, most mentioned first
func (m *Manager) People(ctx context.Context, limit int) ([]Person, error) {
	if limit <= 0 {
		limit = peopleSectionLimit
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT name, role, team, relationship, context, mention_count, first_seen, last_seen
		FROM people ORDER BY mention_count DESC, name_normalized LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var person Person
		var role, team, relationship, context sql.NullString
		var firstSeen, lastSeen int64
		if err := rows.Scan(&person.Name, &role, &team, &relationship, &context,
			&person.MentionCount, &firstSeen, &lastSeen); err != nil {
			return nil, err
		}
		person.Role = role.String
		person.Team = team.String
		person.Relationship = relationship.String
		person.Context = context.String
		person.FirstSeen = time.Unix(firstSeen, 0)
		person.LastSeen = time.Unix(lastSeen, 0)
		people = append(people, person)
	}
	return people, rows.Err()
}

// ExtractPeople runs the people extraction prompt over a user message and
// records the mentions. Best effort like fact extraction.
func (m *Manager) ExtractPeople(ctx context.Context, userMessage string) error {
	if m.completer == nil || strings.TrimSpace(userMessage) == "" {
		return nil
	}

	raw, err := m.completer.Complete(ctx, peopleExtractionPrompt, userMessage)
	if err != nil {
		return fmt.Errorf("people extraction call failed: %w", err)
	}

	var people []Person
	if err := json.Unmarshal([]byte(extractJSON(raw, '[', ']')), &people); err != nil {
		m.logger.Debug().Str("response", raw).Msg("People extraction returned no usable JSON")
		return nil
	}

	recorded := 0
	for _, person := range people {
		if normalizeName(person.Name) == "" {
			continue
		}
		if err := m.RecordPerson(ctx, person); err != nil {
			return err
		}
		recorded++
	}
	if recorded > 0 {
		m.logger.Info().Int("count", recorded).Msg("Recorded people mentions")
	}
	return nil
}

// PeopleSection renders the "## People You Know About" block for the top 20
// most mentioned people, or "" when nobody has been recorded.
func (m *Manager) PeopleSection(ctx context.Context) string {
	people, err := m.People(ctx, peopleSectionLimit)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to load people, omitting section")
		return ""
	}
	if len(people) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## People You Know About\n")
	for _, person := range people {
		var details []string
		if person.Role != "" {
			details = append(details, person.Role)
		}
		if person.Team != "" {
			details = append(details, "team "+person.Team)
		}
		if person.Relationship != "" {
			details = append(details, person.Relationship)
		}
		line := "- " + person.Name
		if len(details) > 0 {
			line += " (" + strings.Join(details, ", ") + ")"
		}
		if person.Context != "" {
			line += ": " + person.Context
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
