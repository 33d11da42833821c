package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPersonDedupesByNormalizedName(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RecordPerson(ctx, Person{Name: "Maija", Role: "engineer"}))
	require.NoError(t, m.RecordPerson(ctx, Person{Name: "  maija ", Team: "platform"}))

	person, err := m.Person(ctx, "MAIJA")
	require.NoError(t, err)
	require.NotNil(t, person)
	assert.Equal(t, 2, person.MentionCount)
	assert.Equal(t, "engineer", person.Role)
	assert.Equal(t, "platform", person.Team)
}

func TestRecordPersonLaterFieldsDoNotClobber(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RecordPerson(ctx, Person{Name: "Janis", Role: "manager"}))
	require.NoError(t, m.RecordPerson(ctx, Person{Name: "Janis"}))

	person, err := m.Person(ctx, "janis")
	require.NoError(t, err)
	assert.Equal(t, "manager", person.Role)
}

func TestPeopleOrderedByMentionCount(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RecordPerson(ctx, Person{Name: "Once"}))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordPerson(ctx, Person{Name: "Often"}))
	}

	people, err := m.People(ctx, 10)
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, "Often", people[0].Name)
	assert.Equal(t, 3, people[0].MentionCount)
}

func TestExtractPeople(t *testing.T) {
	completer := &fakeCompleter{
		response: `[{"name": "Maija", "role": "engineer", "relationship": "coworker"}, {"name": ""}]`,
	}
	m := newTestManager(t, completer)
	ctx := context.Background()

	require.NoError(t, m.ExtractPeople(ctx, "Maija reviewed my PR today"))

	people, err := m.People(ctx, 10)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "Maija", people[0].Name)
	assert.Equal(t, "coworker", people[0].Relationship)
}

func TestExtractPeopleUnparseableIsNotAnError(t *testing.T) {
	m := newTestManager(t, &fakeCompleter{response: "no people here"})
	require.NoError(t, m.ExtractPeople(context.Background(), "hello"))
}

func TestPeopleSection(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	assert.Empty(t, m.PeopleSection(ctx))

	require.NoError(t, m.RecordPerson(ctx, Person{
		Name: "Maija", Role: "engineer", Team: "platform",
		Relationship: "coworker", Context: "owns the deploy pipeline",
	}))
	require.NoError(t, m.RecordPerson(ctx, Person{Name: "Janis"}))

	section := m.PeopleSection(ctx)
	assert.Contains(t, section, "## People You Know About")
	assert.Contains(t, section, "- Maija (engineer, team platform, coworker): owns the deploy pipeline")
	assert.Contains(t, section, "- Janis")
}
