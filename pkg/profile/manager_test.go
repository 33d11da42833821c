package profile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeCompleter) Complete(_ context.Context, systemPrompt, _ string) (string, error) {
	f.prompts = append(f.prompts, systemPrompt)
	return f.response, f.err
}

func newTestManager(t *testing.T, completer Completer) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "profile.db"), completer, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSetFactAndMergeByKey(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.SetFact(ctx, "name", "Andris"))
	require.NoError(t, m.SetFact(ctx, "name", "Andris Berzins"))

	value, err := m.Fact(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Andris Berzins", value)

	facts, err := m.Facts(ctx)
	require.NoError(t, err)
	assert.Len(t, facts, 1)

	value, err = m.Fact(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestExtractFacts(t *testing.T) {
	completer := &fakeCompleter{
		response: "Here you go:\n```json\n{\"name\": \"Andris\", \"timezone\": \"Berlin\"}\n```",
	}
	m := newTestManager(t, completer)
	ctx := context.Background()

	require.NoError(t, m.ExtractFacts(ctx, "hi, I'm Andris and I live in Berlin"))

	value, err := m.Fact(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Andris", value)
}

func TestExtractFactsUnparseableIsNotAnError(t *testing.T) {
	m := newTestManager(t, &fakeCompleter{response: "I could not find any facts."})
	require.NoError(t, m.ExtractFacts(context.Background(), "hello"))

	facts, err := m.Facts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestExtractFactsCompleterError(t *testing.T) {
	m := newTestManager(t, &fakeCompleter{err: errors.New("rate limited")})
	assert.Error(t, m.ExtractFacts(context.Background(), "hello"))
}

func TestExtractFactsNilCompleter(t *testing.T) {
	m := newTestManager(t, nil)
	require.NoError(t, m.ExtractFacts(context.Background(), "hello"))
}

func TestContextSection(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	assert.Empty(t, m.ContextSection(ctx))

	require.NoError(t, m.SetFact(ctx, "favorite_editor", "vim"))
	require.NoError(t, m.SetFact(ctx, "name", "Andris"))

	section := m.ContextSection(ctx)
	assert.Contains(t, section, "## About This User")
	assert.Contains(t, section, "- favorite editor: vim")
	assert.Contains(t, section, "- name: Andris")
}

func TestLocation(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	assert.Equal(t, "UTC", m.Location(ctx).String())

	require.NoError(t, m.SetFact(ctx, "timezone", "Berlin"))
	assert.Equal(t, "Europe/Berlin", m.Location(ctx).String())

	require.NoError(t, m.SetFact(ctx, "timezone", "America/New_York"))
	assert.Equal(t, "America/New_York", m.Location(ctx).String())

	require.NoError(t, m.SetFact(ctx, "timezone", "the moon"))
	assert.Equal(t, "UTC", m.Location(ctx).String())
}

func TestResolveTimezone(t *testing.T) {
	assert.Equal(t, "America/Los_Angeles", ResolveTimezone("Pacific").String())
	assert.Equal(t, "America/Los_Angeles", ResolveTimezone("  pst ").String())
	assert.Equal(t, "Asia/Tokyo", ResolveTimezone("Asia/Tokyo").String())
	assert.Nil(t, ResolveTimezone("nowhere"))
	assert.Nil(t, ResolveTimezone(""))
}
