// Package agent runs the provider-agnostic tool-calling loop. Two vendor
// wire dialects (OpenAI chat completions, Anthropic content blocks) sit
// behind one Provider interface; the controller normalizes both into the
// same internal message shape and drives a bounded iteration of model calls
// and tool executions.
package agent
