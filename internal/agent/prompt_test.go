package agent

import (
	"strings"
	"testing"

	"bdagent/internal/domain"
	"bdagent/internal/tool"
)

func TestPromptBuilder_ListsToolsAndProtocol(t *testing.T) {
	pb := NewPromptBuilder(PromptConfig{
		Tools: []domain.ToolDefinition{
			{
				Name:        "hospitals_db",
				Description: "Useful for questions about hospitals.",
				Parameters: map[string]any{
					"type":  "object",
					"anyOf": []any{map[string]any{"required": []string{"question"}}},
				},
			},
			{
				Name:        "web_search",
				Description: "Search the web.",
				Parameters:  tool.ToolParameters(map[string]tool.Param{"query": {Type: "string"}}, []string{"query"}),
			},
		},
		Extra: "Answer in Bangla when asked in Bangla.",
	})

	sys := pb.SystemPrompt()
	for _, want := range []string{
		BaseSystemPrompt,
		`<hospitals_db>{"question": "..."}</hospitals_db>`,
		`- hospitals_db: Useful for questions about hospitals. Arguments: {"question": string}`,
		`- web_search: Search the web. Arguments: {"query": string}`,
		"## Custom Instructions\nAnswer in Bangla when asked in Bangla.",
	} {
		if !strings.Contains(sys, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, sys)
		}
	}
}

func TestPromptBuilder_NoTools(t *testing.T) {
	pb := NewPromptBuilder(PromptConfig{})
	if pb.SystemPrompt() != BaseSystemPrompt {
		t.Fatalf("expected bare base prompt, got %q", pb.SystemPrompt())
	}
}

func TestPromptBuilder_BuildMessages(t *testing.T) {
	pb := NewPromptBuilder(PromptConfig{Base: "sys"})
	msgs := pb.BuildMessages([]domain.Message{domain.UserMessage("hi")})
	if len(msgs) != 2 || msgs[0].Role != domain.RoleSystem || msgs[0].Text != "sys" || msgs[1].Text != "hi" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}
