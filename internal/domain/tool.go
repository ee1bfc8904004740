package domain

import "context"

// Tool is the interface for agent capabilities (table queries, web search).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolDefinition is the name/description/schema triple presented to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Turn is one journaled transcript entry.
type Turn struct {
	Role      Role
	Text      string
	ToolName  string // set on tool-result turns
	Iteration int
	Tokens    int
}
