package tool

import (
	"context"
)

// Handler is the function signature for tool execution. The returned string
// goes back to the model verbatim.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Definition defines a tool's metadata and handler. Parameters is a JSON
// Schema object describing the arguments; nil means the tool takes none.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Handler     Handler                `json:"-"`
}

// Policy is an allow-list of tool names for one agent. A nil policy allows
// every registered tool; "*" in the allow list allows everything. Denials
// win over any allowance, the wildcard included.
type Policy struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny,omitempty"`
}

// Allows checks if a tool is allowed by the policy
func (p *Policy) Allows(toolName string) bool {
	if p == nil {
		return true
	}
	for _, denied := range p.Deny {
		if denied == toolName {
			return false
		}
	}
	for _, allowed := range p.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}
	return false
}

// Without returns a policy that refuses the named tools. They are removed
// from the allow list and recorded as denials, so a wildcard allowance
// cannot re-grant them. A nil receiver becomes an allow-all policy with the
// same denials.
func (p *Policy) Without(names ...string) *Policy {
	src := p
	if src == nil {
		src = &Policy{Allow: []string{"*"}}
	}
	excluded := make(map[string]bool, len(names))
	for _, name := range names {
		excluded[name] = true
	}
	out := &Policy{
		Allow: make([]string, 0, len(src.Allow)),
		Deny:  append(append([]string(nil), src.Deny...), names...),
	}
	for _, allowed := range src.Allow {
		if !excluded[allowed] {
			out.Allow = append(out.Allow, allowed)
		}
	}
	return out
}

// CallRecord is one tool invocation captured during a turn, persisted with
// the assistant message and summarized back into later context windows.
type CallRecord struct {
	Tool   string                 `json:"tool"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Result string                 `json:"result,omitempty"`
}
