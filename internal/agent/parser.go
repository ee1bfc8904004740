package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ToolCall is a tool invocation parsed out of one assistant reply.
type ToolCall struct {
	Name      string
	Arguments map[string]any
	Raw       string // text between the opening and closing tags
}

// openTagPattern finds candidate opening tags. The closing tag must repeat
// the same name exactly, which RE2 cannot express, so it is matched by hand.
var openTagPattern = regexp.MustCompile(`<(\w+)>`)

// extractToolCall returns the first complete <name>...</name> block in text,
// plus the number of further blocks that follow it. Only the first is honored.
func extractToolCall(text string) (*ToolCall, int) {
	call, end := findTagBlock(text)
	if call == nil {
		return nil, 0
	}
	extra := 0
	for rest := text[end:]; ; {
		next, n := findTagBlock(rest)
		if next == nil {
			break
		}
		extra++
		rest = rest[n:]
	}
	return call, extra
}

// findTagBlock scans opening tags left to right and returns the first one
// that has a matching close, with the offset just past that close. The body
// is the shortest span, and may contain newlines.
func findTagBlock(text string) (*ToolCall, int) {
	for _, m := range openTagPattern.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		closeTag := "</" + name + ">"
		idx := strings.Index(text[m[1]:], closeTag)
		if idx < 0 {
			continue
		}
		raw := text[m[1] : m[1]+idx]
		return &ToolCall{
			Name:      name,
			Arguments: parseArguments(raw),
			Raw:       raw,
		}, m[1] + idx + len(closeTag)
	}
	return nil, 0
}

// parseArguments decodes a tag body as a JSON object. A JSON string becomes
// the question; anything else that does not decode to an object is passed
// through verbatim as {"question": body}.
func parseArguments(raw string) map[string]any {
	content := stripCodeFence(strings.TrimSpace(raw))

	for _, candidate := range []string{content, sanitizeJSONEscapes(content)} {
		var v any
		if err := json.Unmarshal([]byte(candidate), &v); err != nil {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			return val
		case string:
			return map[string]any{"question": val}
		}
		break
	}
	return map[string]any{"question": content}
}

// stripCodeFence removes a surrounding ```lang ... ``` fence, if present.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// stripRolePrefix removes a leaked "assistant:" style prefix some chat
// templates leave at the start of a reply.
func stripRolePrefix(content string) string {
	for _, p := range []string{
		"assistant\n", "Assistant\n",
		"assistant:\n", "Assistant:\n",
		"assistant: ", "Assistant: ",
	} {
		if strings.HasPrefix(content, p) {
			return strings.TrimSpace(content[len(p):])
		}
	}
	return content
}

// sanitizeJSONEscapes drops backslashes that do not start a valid JSON escape
// inside string literals, e.g. `\d` produced by models quoting regexes.
func sanitizeJSONEscapes(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inString = !inString
			buf.WriteByte(ch)
		case inString && ch == '\\' && i+1 < len(s):
			switch next := s[i+1]; next {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				buf.WriteByte(ch)
				buf.WriteByte(next)
				i++
			}
		default:
			buf.WriteByte(ch)
		}
	}
	return buf.String()
}
