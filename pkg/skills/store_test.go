package skills

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "skills.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	skill := &Skill{
		ID:          "golang",
		Name:        "Go Conventions",
		Description: "House style for Go",
		Content:     "Always run gofmt before committing.",
		Enabled:     true,
		Agents:      []string{"coder"},
	}
	require.NoError(t, s.Put(ctx, skill))

	got, err := s.Get(ctx, "golang")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Go Conventions", got.Name)
	assert.Equal(t, []string{"coder"}, got.Agents)

	missing, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	skills, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, skills, 1)
}

func TestPutValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.Put(ctx, &Skill{Name: "x", Content: "y"}))
	assert.Error(t, s.Put(ctx, &Skill{ID: "x", Content: "y"}))
	assert.Error(t, s.Put(ctx, &Skill{ID: "x", Name: "y"}))
}

func TestBuildPrompt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Skill{
		ID: "global", Name: "Tone", Content: "Be concise.", Enabled: true,
	}))
	require.NoError(t, s.Put(ctx, &Skill{
		ID: "coder-only", Name: "Go Conventions", Content: "Run gofmt.", Enabled: true,
		Agents: []string{"coder"},
	}))
	require.NoError(t, s.Put(ctx, &Skill{
		ID: "disabled", Name: "Old", Content: "Ignore this.", Enabled: false,
	}))

	prompt := s.BuildPrompt(ctx, "coder")
	assert.Contains(t, prompt, "## Active Skills")
	assert.Contains(t, prompt, "### Tone\nBe concise.")
	assert.Contains(t, prompt, "### Go Conventions\nRun gofmt.")
	assert.NotContains(t, prompt, "Ignore this")

	// A different agent only gets the global skill.
	prompt = s.BuildPrompt(ctx, "default")
	assert.Contains(t, prompt, "Tone")
	assert.NotContains(t, prompt, "Go Conventions")
}

func TestBuildPromptEmpty(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, s.BuildPrompt(context.Background(), "default"))
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Skill{ID: "x", Name: "X", Content: "c", Enabled: true}))
	require.NoError(t, s.Delete(ctx, "x"))
	assert.Error(t, s.Delete(ctx, "x"))
}
