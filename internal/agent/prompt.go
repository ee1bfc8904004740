package agent

import (
	"fmt"
	"strings"

	"bdagent/internal/domain"
)

// BaseSystemPrompt opens every system prompt.
const BaseSystemPrompt = "You are a helpful AI assistant for Bangladesh. Use tools when needed. " +
	"If you call a tool, use its result to produce a final human-readable answer."

// PromptConfig holds the inputs of the system prompt.
type PromptConfig struct {
	Base  string // defaults to BaseSystemPrompt
	Extra string // appended under "Custom Instructions"
	Tools []domain.ToolDefinition
}

// PromptBuilder assembles the system prompt once and prefixes it to the
// transcript on every model call. Tools are fixed at startup, so the prompt
// never changes for the lifetime of the builder.
type PromptBuilder struct {
	system string
}

func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	if cfg.Base == "" {
		cfg.Base = BaseSystemPrompt
	}
	return &PromptBuilder{system: buildSystemPrompt(cfg)}
}

// SystemPrompt returns the assembled system prompt.
func (p *PromptBuilder) SystemPrompt() string { return p.system }

// BuildMessages returns the system prompt followed by the transcript.
func (p *PromptBuilder) BuildMessages(transcript []domain.Message) []domain.Message {
	messages := make([]domain.Message, 0, len(transcript)+1)
	messages = append(messages, domain.SystemMessage(p.system))
	return append(messages, transcript...)
}

func buildSystemPrompt(cfg PromptConfig) string {
	var sb strings.Builder
	sb.WriteString(cfg.Base)

	if len(cfg.Tools) > 0 {
		example := cfg.Tools[0]
		sb.WriteString("\n\n## Tools\n")
		sb.WriteString("To call a tool, reply with only its name as a tag wrapped around a JSON object of arguments, for example:\n")
		fmt.Fprintf(&sb, "<%s>{%q: \"...\"}</%s>\n", example.Name, primaryArgument(example.Parameters), example.Name)
		sb.WriteString("Call at most one tool per reply. The tool result will be sent back to you. ")
		sb.WriteString("When you can answer, reply in plain text without any tags.\n\n")
		sb.WriteString("Available tools:\n")
		for _, t := range cfg.Tools {
			fmt.Fprintf(&sb, "- %s: %s Arguments: {%q: string}\n", t.Name, t.Description, primaryArgument(t.Parameters))
		}
	}

	if extra := strings.TrimSpace(cfg.Extra); extra != "" {
		sb.WriteString("\n## Custom Instructions\n")
		sb.WriteString(extra)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// primaryArgument picks the argument name to advertise for a tool: the first
// required property, else the first anyOf alternative, else "question".
func primaryArgument(schema map[string]any) string {
	if req := stringList(schema["required"]); len(req) > 0 {
		return req[0]
	}
	if alts, ok := schema["anyOf"].([]any); ok && len(alts) > 0 {
		if alt, ok := alts[0].(map[string]any); ok {
			if req := stringList(alt["required"]); len(req) > 0 {
				return req[0]
			}
		}
	}
	return "question"
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
