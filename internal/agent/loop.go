// Package agent runs the question-answering loop: it asks the model, extracts
// tag-style tool calls from the reply, dispatches them, and feeds the results
// back until the model answers in plain text.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bdagent/internal/domain"
	"bdagent/internal/metrics"
	"bdagent/internal/tool"
)

const (
	defaultMaxIterations = 6
	defaultRateBurst     = 10
	defaultRatePerMinute = 30.0
)

// StallMessage is the answer given when the iteration ceiling is reached.
const StallMessage = "(Stopped after too many tool calls. Something may be looping.)"

// emptyAnswer replaces a blank model reply.
const emptyAnswer = "I don't have an answer for that."

// Journal receives every turn of a session. Failures are logged and ignored.
type Journal interface {
	StartSession(ctx context.Context, provider, model string) (string, error)
	RecordTurn(ctx context.Context, sessionID string, turn domain.Turn) error
}

// LoopConfig holds all dependencies and tuning parameters for the agent loop.
type LoopConfig struct {
	Provider         domain.Provider
	Tools            *tool.Registry
	Prompt           *PromptBuilder // built from Tools when nil
	Logger           *slog.Logger
	Model            string // optional override of the provider's default model
	MaxIterations    int    // model invocations per question, default 6
	MaxContextTokens int    // warn when a prompt is estimated above this, 0 = off
	RateLimiter      *RateLimiter
	TokenCounter     TokenCounter
	Journal          Journal            // optional
	Metrics          *metrics.Collector // defaults to metrics.Default
}

// Loop holds the shared, immutable parts of the agent. Sessions carry the
// per-conversation state.
type Loop struct {
	provider         domain.Provider
	tools            *tool.Registry
	prompt           *PromptBuilder
	logger           *slog.Logger
	model            string
	maxIterations    int
	maxContextTokens int
	rateLimiter      *RateLimiter
	tokens           TokenCounter
	journal          Journal
	metrics          *metrics.Collector
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Prompt == nil {
		var defs []domain.ToolDefinition
		if cfg.Tools != nil {
			defs = cfg.Tools.List()
		}
		cfg.Prompt = NewPromptBuilder(PromptConfig{Tools: defs})
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = NewRateLimiter(defaultRateBurst, defaultRatePerMinute)
	}
	if cfg.TokenCounter == nil {
		cfg.TokenCounter = ApproxCounter{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default
	}
	return &Loop{
		provider:         cfg.Provider,
		tools:            cfg.Tools,
		prompt:           cfg.Prompt,
		logger:           cfg.Logger,
		model:            cfg.Model,
		maxIterations:    cfg.MaxIterations,
		maxContextTokens: cfg.MaxContextTokens,
		rateLimiter:      cfg.RateLimiter,
		tokens:           cfg.TokenCounter,
		journal:          cfg.Journal,
		metrics:          cfg.Metrics,
	}
}

// ToolInvocation records one tool dispatch made while answering a question.
type ToolInvocation struct {
	Name      string
	Arguments map[string]any
	Output    string
}

// Reply is the outcome of one question.
type Reply struct {
	Text       string
	Stalled    bool // iteration ceiling reached
	Iterations int  // model invocations made
	ToolCalls  []ToolInvocation
}

// Session is one interactive conversation. Its transcript grows across
// questions and is never trimmed.
type Session struct {
	loop       *Loop
	mu         sync.Mutex
	transcript Transcript
	id         string
	started    bool
}

func (l *Loop) NewSession() *Session {
	return &Session{loop: l}
}

// ID returns the journal session id, or "" when no journal is configured or
// nothing has been asked yet.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Messages()
}

// Ask answers one user question. The model is invoked at most MaxIterations
// times; a model error aborts the question and is returned.
func (s *Session) Ask(ctx context.Context, text string) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.loop
	s.startJournal(ctx)
	s.transcript.Append(domain.UserMessage(text))
	s.record(ctx, domain.Turn{Role: domain.RoleUser, Text: text})

	reply := &Reply{}
	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		reply.Iterations = iteration
		l.logger.Debug("agent iteration", "iteration", iteration, "messages", s.transcript.Len())

		content, err := l.complete(ctx, s.transcript.Messages())
		if err != nil {
			l.metrics.ObserveTurn(iteration, false)
			return nil, err
		}

		call, extra := extractToolCall(content)
		if call == nil {
			answer := stripRolePrefix(strings.TrimSpace(content))
			if answer == "" {
				answer = emptyAnswer
			}
			s.transcript.Append(domain.AssistantMessage(answer))
			s.record(ctx, domain.Turn{Role: domain.RoleAssistant, Text: answer, Iteration: iteration})
			reply.Text = answer
			l.metrics.ObserveTurn(iteration, false)
			return reply, nil
		}
		if extra > 0 {
			l.logger.Warn("reply contained several tool calls, only the first is used",
				"tool", call.Name, "ignored", extra)
		}

		s.transcript.Append(domain.AssistantMessage(content))
		s.record(ctx, domain.Turn{Role: domain.RoleAssistant, Text: content, ToolName: call.Name, Iteration: iteration})

		output := l.runTool(ctx, call)
		reply.ToolCalls = append(reply.ToolCalls, ToolInvocation{Name: call.Name, Arguments: call.Arguments, Output: output})

		result := fmt.Sprintf("Tool result (from %s): %s", call.Name, output)
		s.transcript.Append(domain.UserMessage(result))
		s.record(ctx, domain.Turn{Role: domain.RoleUser, Text: result, ToolName: call.Name, Iteration: iteration})
	}

	l.logger.Warn("iteration ceiling reached", "iterations", l.maxIterations)
	l.metrics.ObserveTurn(l.maxIterations, true)
	reply.Text = StallMessage
	reply.Stalled = true
	return reply, nil
}

// complete makes one rate-limited model call over the system prompt plus
// transcript and returns the reply text.
func (l *Loop) complete(ctx context.Context, transcript []domain.Message) (string, error) {
	waited, err := l.rateLimiter.Wait(ctx)
	if err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	l.metrics.ObserveRateLimitWait(waited)

	messages := l.prompt.BuildMessages(transcript)
	estimate := CountMessages(l.tokens, messages)
	if l.maxContextTokens > 0 && estimate > l.maxContextTokens {
		l.logger.Warn("prompt exceeds context budget", "estimated_tokens", estimate, "budget", l.maxContextTokens)
	}

	start := time.Now()
	resp, err := l.provider.Chat(ctx, domain.ChatRequest{
		Messages:    messages,
		Model:       l.model,
		Temperature: 0,
	})
	elapsed := time.Since(start)
	if err != nil {
		l.metrics.ObserveModelCall(l.provider.Name(), elapsed, 0, 0, err)
		return "", fmt.Errorf("LLM error: %w", err)
	}

	promptTokens := resp.Usage.PromptTokens
	if promptTokens == 0 {
		promptTokens = estimate
	}
	completionTokens := resp.Usage.CompletionTokens
	if completionTokens == 0 {
		completionTokens = l.tokens.Count(resp.Content)
	}
	l.metrics.ObserveModelCall(l.provider.Name(), elapsed, promptTokens, completionTokens, nil)
	l.logger.Debug("model replied",
		"provider", l.provider.Name(),
		"latency_ms", elapsed.Milliseconds(),
		"prompt_tokens", promptTokens,
		"finish_reason", resp.FinishReason,
	)
	return resp.Content, nil
}

// runTool dispatches a call through the registry. Every failure becomes text
// for the model to read.
func (l *Loop) runTool(ctx context.Context, call *ToolCall) string {
	l.logger.Info("executing tool", "tool", call.Name)
	if l.logger.Enabled(ctx, slog.LevelDebug) {
		if argsJSON, err := json.Marshal(call.Arguments); err == nil {
			l.logger.Debug("tool arguments", "tool", call.Name, "args", string(argsJSON))
		}
	}

	start := time.Now()
	var (
		output string
		err    error
	)
	if l.tools == nil {
		err = fmt.Errorf("%w: %s", tool.ErrUnknownTool, call.Name)
	} else {
		output, err = l.tools.Execute(ctx, call.Name, call.Arguments)
	}
	elapsed := time.Since(start)

	if err != nil {
		label := call.Name
		if errors.Is(err, tool.ErrUnknownTool) {
			label = "unknown"
		}
		l.metrics.ObserveToolCall(label, metrics.OutcomeError, elapsed)
		l.logger.Warn("tool failed", "tool", call.Name, "error", err)
		return "Tool error: " + err.Error()
	}

	l.metrics.ObserveToolCall(call.Name, metrics.OutcomeOK, elapsed)
	l.logger.Debug("tool completed", "tool", call.Name, "result_len", len(output))
	return output
}

func (s *Session) startJournal(ctx context.Context) {
	l := s.loop
	if l.journal == nil || s.started {
		return
	}
	s.started = true
	id, err := l.journal.StartSession(ctx, l.provider.Name(), l.model)
	if err != nil {
		l.logger.Warn("journal session not started", "error", err)
		return
	}
	s.id = id
}

func (s *Session) record(ctx context.Context, turn domain.Turn) {
	l := s.loop
	if l.journal == nil || s.id == "" {
		return
	}
	turn.Tokens = l.tokens.Count(turn.Text)
	if err := l.journal.RecordTurn(ctx, s.id, turn); err != nil {
		l.logger.Warn("journal write failed", "session", s.id, "error", err)
	}
}
