package domain

import "context"

// Provider is a chat-completion backend. The agent loop and the query tools
// share one Provider; both call Chat with temperature 0.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Healthy(ctx context.Context) error
}

// ChatRequest carries the full prompt for one call. Requests are stateless;
// the caller resends the whole transcript every time.
type ChatRequest struct {
	Messages    []Message
	Model       string // empty selects the provider's configured model
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

// Usage is the token accounting reported by the backend. Zero values mean
// the backend did not report it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
