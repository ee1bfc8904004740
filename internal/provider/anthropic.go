package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"bdagent/internal/domain"
)

const defaultAnthropicMaxTokens = 1024

// Anthropic implements domain.Provider with the official Anthropic SDK.
type Anthropic struct {
	client    anthropic.Client
	apiKey    string
	model     string
	maxTokens int64
	logger    *slog.Logger
}

type AnthropicConfig struct {
	APIKey    string
	APIBase   string // optional, for proxies and tests
	Model     string
	MaxTokens int
	Logger    *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(maxRetries),
		option.WithRequestTimeout(defaultHTTPTimeout),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		logger:    cfg.Logger.With("provider", "anthropic"),
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Healthy(ctx context.Context) error {
	if a.apiKey == "" {
		return errors.New("anthropic: API key not set")
	}
	return nil
}

func (a *Anthropic) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	system, msgs := toAnthropicMessages(req.Messages)
	if len(msgs) == 0 {
		return nil, fmt.Errorf("anthropic: no messages to send")
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	in := int(message.Usage.InputTokens)
	out := int(message.Usage.OutputTokens)
	latency := time.Since(start).Milliseconds()
	a.logger.Debug("chat completed", "model", model, "stop_reason", message.StopReason, "latency_ms", latency)

	return &domain.ChatResponse{
		Content:      content.String(),
		FinishReason: string(message.StopReason),
		Usage: domain.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
		LatencyMs: latency,
	}, nil
}

// toAnthropicMessages lifts system messages into the system prompt and
// merges consecutive turns of the same role.
func toAnthropicMessages(messages []domain.Message) (string, []anthropic.MessageParam) {
	var (
		system []string
		out    []anthropic.MessageParam
		role   domain.Role
		buf    []string
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		block := anthropic.NewTextBlock(strings.Join(buf, "\n\n"))
		if role == domain.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
		buf = nil
	}

	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			if m.Text != "" {
				system = append(system, m.Text)
			}
			continue
		}
		if m.Role != role {
			flush()
			role = m.Role
		}
		buf = append(buf, m.Text)
	}
	flush()
	return strings.Join(system, "\n\n"), out
}
