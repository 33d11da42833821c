package tool

// Wire-format schema rendering. The registry keeps one provider-neutral
// JSON-Schema per tool; each provider dialect wraps it differently.

func (d *Definition) parametersOrEmpty() map[string]interface{} {
	if d.Parameters != nil {
		return d.Parameters
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// AnthropicSchema renders the tool for the Anthropic messages API
func (d *Definition) AnthropicSchema() map[string]interface{} {
	return map[string]interface{}{
		"name":         d.Name,
		"description":  d.Description,
		"input_schema": d.parametersOrEmpty(),
	}
}

// OpenAISchema renders the tool for the OpenAI chat completions API
func (d *Definition) OpenAISchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.parametersOrEmpty(),
		},
	}
}
