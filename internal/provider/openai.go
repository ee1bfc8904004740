package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"bdagent/internal/domain"
)

const defaultHTTPTimeout = 120 * time.Second

// OpenAI implements domain.Provider for OpenAI-compatible chat completion
// APIs. Groq is served through this client.
type OpenAI struct {
	name      string
	apiKey    string
	apiBase   string
	model     string
	maxTokens int
	client    *http.Client
	logger    *slog.Logger
}

type OpenAIConfig struct {
	Name      string // reported by Name(), defaults to "openai"
	APIKey    string
	APIBase   string
	Model     string
	MaxTokens int
	Client    *http.Client
	Logger    *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		name:      cfg.Name,
		apiKey:    cfg.APIKey,
		apiBase:   cfg.APIBase,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    cfg.Client,
		logger:    cfg.Logger.With("provider", cfg.Name),
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s not reachable: %w", o.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: invalid API key", o.name)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", o.name, resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	msgs := make([]oaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, oaiMessage{Role: string(m.Role), Content: m.Text})
	}

	// Temperature is always sent: 0 is meaningful here.
	temperature := req.Temperature
	body := oaiRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: &temperature,
		Stream:      false,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	} else if o.maxTokens > 0 {
		body.MaxTokens = o.maxTokens
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
		return httpReq, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", o.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s %d: %s", o.name, resp.StatusCode, string(respBody))
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	latency := time.Since(start).Milliseconds()
	if len(oaiResp.Choices) == 0 {
		return &domain.ChatResponse{Content: "", FinishReason: "stop", LatencyMs: latency}, nil
	}

	choice := oaiResp.Choices[0]
	o.logger.Debug("chat completed",
		"model", model,
		"finish_reason", choice.FinishReason,
		"tokens", oaiResp.Usage.TotalTokens,
		"latency_ms", latency,
	)
	return &domain.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: domain.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
		LatencyMs: latency,
	}, nil
}
