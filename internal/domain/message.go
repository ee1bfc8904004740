package domain

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn exchanged with a language model.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserMessage builds a user-authored message.
func UserMessage(text string) Message { return Message{Role: RoleUser, Text: text} }

// AssistantMessage builds an assistant-authored message.
func AssistantMessage(text string) Message { return Message{Role: RoleAssistant, Text: text} }

// SystemMessage builds a system instruction message.
func SystemMessage(text string) Message { return Message{Role: RoleSystem, Text: text} }
