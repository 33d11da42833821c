package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicSchema(t *testing.T) {
	def := echoTool()
	schema := def.AnthropicSchema()

	assert.Equal(t, "echo", schema["name"])
	assert.Equal(t, "Echoes the input back", schema["description"])
	assert.Equal(t, def.Parameters, schema["input_schema"])
	assert.NotContains(t, schema, "type")
}

func TestOpenAISchema(t *testing.T) {
	def := echoTool()
	schema := def.OpenAISchema()

	assert.Equal(t, "function", schema["type"])
	fn, ok := schema["function"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "echo", fn["name"])
	assert.Equal(t, def.Parameters, fn["parameters"])
}

func TestSchemasWithNilParameters(t *testing.T) {
	def := Definition{Name: "now", Description: "Current time"}

	anthropic := def.AnthropicSchema()
	input, ok := anthropic["input_schema"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "object", input["type"])
	assert.Empty(t, input["properties"])

	openai := def.OpenAISchema()
	fn := openai["function"].(map[string]interface{})
	params, ok := fn["parameters"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "object", params["type"])
}
