package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"bdagent/internal/dataset"
	"bdagent/internal/domain"
	"bdagent/internal/metrics"
	"bdagent/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedProvider replays replies in order and records every request.
type scriptedProvider struct {
	replies  []string
	fallback string
	err      error
	requests []domain.ChatRequest
}

func (p *scriptedProvider) Name() string                      { return "scripted" }
func (p *scriptedProvider) Healthy(ctx context.Context) error { return nil }
func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return &domain.ChatResponse{Content: p.fallback}, nil
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return &domain.ChatResponse{Content: reply, Usage: domain.Usage{PromptTokens: 50, CompletionTokens: 5}}, nil
}

// stubTool returns a fixed output and records the arguments it saw.
type stubTool struct {
	name   string
	output string
	calls  []map[string]any
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub " + s.name }
func (s *stubTool) Parameters() map[string]any {
	return tool.ToolParameters(map[string]tool.Param{
		"question": {Type: "string", Description: "question"},
	}, []string{"question"})
}
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	s.calls = append(s.calls, args)
	return s.output, nil
}

// hospitalStore serves a single count row.
type hospitalStore struct {
	lastSQL string
}

func (h *hospitalStore) Descriptor() dataset.Descriptor {
	return dataset.Descriptor{Name: "hospitals", Table: "hospitals", Description: "Hospitals in Bangladesh."}
}

func (h *hospitalStore) Schema() string {
	return "CREATE TABLE hospitals (name TEXT, city TEXT, beds INTEGER)"
}

func (h *hospitalStore) Query(ctx context.Context, sql string) (*dataset.ResultSet, error) {
	h.lastSQL = sql
	return &dataset.ResultSet{Columns: []string{"count"}, Rows: [][]any{{int64(42)}}}, nil
}

type memJournal struct {
	mu    sync.Mutex
	turns []domain.Turn
}

func (j *memJournal) StartSession(ctx context.Context, provider, model string) (string, error) {
	return "session-1", nil
}
func (j *memJournal) RecordTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.turns = append(j.turns, turn)
	return nil
}

func newRegistry(t *testing.T, tools ...domain.Tool) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry(testLogger())
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			t.Fatalf("register %s: %v", tl.Name(), err)
		}
	}
	reg.Seal()
	return reg
}

func newTestLoop(p domain.Provider, reg *tool.Registry, j Journal) *Loop {
	return NewLoop(LoopConfig{
		Provider:    p,
		Tools:       reg,
		Logger:      testLogger(),
		RateLimiter: NewRateLimiter(100, 6000),
		Journal:     j,
		Metrics:     metrics.NewCollector("test"),
	})
}

func TestAsk_HospitalCountThroughQueryTool(t *testing.T) {
	prov := &scriptedProvider{replies: []string{
		`<hospitals_db>{"question": "How many hospitals are in Dhaka?"}</hospitals_db>`,
		"SELECT COUNT(*) AS count FROM hospitals WHERE city = 'Dhaka'",
		"There are 42 hospitals in Dhaka.",
	}}
	store := &hospitalStore{}
	qt := tool.NewQueryTool(tool.QueryConfig{Store: store, Provider: prov, Logger: testLogger()})
	journal := &memJournal{}
	sess := newTestLoop(prov, newRegistry(t, qt), journal).NewSession()

	reply, err := sess.Ask(context.Background(), "How many hospitals are in Dhaka?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if reply.Text != "There are 42 hospitals in Dhaka." {
		t.Fatalf("unexpected answer %q", reply.Text)
	}
	if reply.Iterations != 2 || reply.Stalled {
		t.Fatalf("expected 2 iterations without stall, got %+v", reply)
	}
	if len(reply.ToolCalls) != 1 || reply.ToolCalls[0].Output != "count\n42" {
		t.Fatalf("unexpected tool calls %+v", reply.ToolCalls)
	}
	if store.lastSQL != "SELECT COUNT(*) AS count FROM hospitals WHERE city = 'Dhaka'" {
		t.Fatalf("unexpected SQL %q", store.lastSQL)
	}

	// The final model call sees the tool result as the last user message.
	last := prov.requests[len(prov.requests)-1]
	if last.Messages[0].Role != domain.RoleSystem || !strings.HasPrefix(last.Messages[0].Text, BaseSystemPrompt) {
		t.Fatalf("expected system prompt first, got %+v", last.Messages[0])
	}
	if got := last.Messages[len(last.Messages)-1]; got.Role != domain.RoleUser || got.Text != "Tool result (from hospitals_db): count\n42" {
		t.Fatalf("unexpected last message %+v", got)
	}
	if last.Temperature != 0 {
		t.Fatalf("expected temperature 0, got %v", last.Temperature)
	}

	transcript := sess.Transcript()
	if len(transcript) != 4 {
		t.Fatalf("expected 4 transcript entries, got %d", len(transcript))
	}
	if transcript[3].Role != domain.RoleAssistant || transcript[3].Text != reply.Text {
		t.Fatalf("final answer should be appended, got %+v", transcript[3])
	}

	if sess.ID() != "session-1" || len(journal.turns) != 4 {
		t.Fatalf("expected 4 journaled turns in session-1, got %d in %q", len(journal.turns), sess.ID())
	}
	if journal.turns[2].ToolName != "hospitals_db" || journal.turns[2].Tokens == 0 {
		t.Fatalf("unexpected tool result turn %+v", journal.turns[2])
	}
}

func TestAsk_PlainAnswerNoTool(t *testing.T) {
	prov := &scriptedProvider{replies: []string{"Dhaka is the capital of Bangladesh."}}
	sess := newTestLoop(prov, newRegistry(t), nil).NewSession()

	reply, err := sess.Ask(context.Background(), "What is the capital?")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "Dhaka is the capital of Bangladesh." || reply.Iterations != 1 {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if sess.ID() != "" {
		t.Fatal("no journal means no session id")
	}
}

func TestAsk_StallsAfterSixModelCalls(t *testing.T) {
	prov := &scriptedProvider{fallback: `<web_search>{"question": "again"}</web_search>`}
	search := &stubTool{name: "web_search", output: "nothing useful"}
	sess := newTestLoop(prov, newRegistry(t, search), nil).NewSession()

	reply, err := sess.Ask(context.Background(), "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != StallMessage || !reply.Stalled {
		t.Fatalf("expected stall notice, got %+v", reply)
	}
	if len(prov.requests) != 6 {
		t.Fatalf("expected exactly 6 model invocations, got %d", len(prov.requests))
	}
	if len(search.calls) != 6 {
		t.Fatalf("expected the tool to run on every iteration, got %d", len(search.calls))
	}
}

func TestAsk_FallbackArgumentsReachTool(t *testing.T) {
	prov := &scriptedProvider{replies: []string{
		"<institutions_db>universities in Sylhet</institutions_db>",
		"Sylhet has several universities.",
	}}
	inst := &stubTool{name: "institutions_db", output: "name\nSUST"}
	sess := newTestLoop(prov, newRegistry(t, inst), nil).NewSession()

	if _, err := sess.Ask(context.Background(), "universities in Sylhet?"); err != nil {
		t.Fatal(err)
	}
	if len(inst.calls) != 1 || inst.calls[0]["question"] != "universities in Sylhet" {
		t.Fatalf("expected fallback question argument, got %v", inst.calls)
	}
}

func TestAsk_UnknownToolBecomesToolError(t *testing.T) {
	prov := &scriptedProvider{replies: []string{
		`<weather_db>{"question": "rain"}</weather_db>`,
		"I cannot look up the weather.",
	}}
	sess := newTestLoop(prov, newRegistry(t, &stubTool{name: "hospitals_db"}), nil).NewSession()

	reply, err := sess.Ask(context.Background(), "Will it rain?")
	if err != nil {
		t.Fatal(err)
	}
	out := reply.ToolCalls[0].Output
	if !strings.HasPrefix(out, "Tool error: unknown tool: weather_db") {
		t.Fatalf("expected tool error text, got %q", out)
	}
	if reply.Text != "I cannot look up the weather." {
		t.Fatalf("loop should continue after a tool error, got %q", reply.Text)
	}
}

func TestAsk_InvalidArgumentsBecomeToolError(t *testing.T) {
	prov := &scriptedProvider{replies: []string{
		`<hospitals_db>{"city": "Khulna"}</hospitals_db>`,
		"Please rephrase.",
	}}
	sess := newTestLoop(prov, newRegistry(t, &stubTool{name: "hospitals_db"}), nil).NewSession()

	reply, err := sess.Ask(context.Background(), "Khulna?")
	if err != nil {
		t.Fatal(err)
	}
	if out := reply.ToolCalls[0].Output; !strings.Contains(out, "Tool error: hospitals_db: invalid arguments") {
		t.Fatalf("expected invalid arguments error, got %q", out)
	}
}

func TestAsk_NoResultsPassedThrough(t *testing.T) {
	prov := &scriptedProvider{replies: []string{
		`<restaurants_db>{"question": "sushi in Rangpur"}</restaurants_db>`,
		"I could not find any.",
	}}
	sess := newTestLoop(prov, newRegistry(t, &stubTool{name: "restaurants_db", output: "No results found."}), nil).NewSession()

	if _, err := sess.Ask(context.Background(), "sushi in Rangpur?"); err != nil {
		t.Fatal(err)
	}
	last := prov.requests[1].Messages
	if got := last[len(last)-1].Text; got != "Tool result (from restaurants_db): No results found." {
		t.Fatalf("unexpected tool result message %q", got)
	}
}

func TestAsk_ProviderErrorAbortsTurn(t *testing.T) {
	boom := errors.New("503 overloaded")
	prov := &scriptedProvider{err: boom}
	sess := newTestLoop(prov, newRegistry(t), nil).NewSession()

	if _, err := sess.Ask(context.Background(), "hello"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
}

func TestAsk_EmptyReplyUsesFallbackText(t *testing.T) {
	prov := &scriptedProvider{replies: []string{"   "}}
	sess := newTestLoop(prov, newRegistry(t), nil).NewSession()

	reply, err := sess.Ask(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != emptyAnswer {
		t.Fatalf("expected fallback text, got %q", reply.Text)
	}
}

func TestAsk_TranscriptPersistsAcrossQuestions(t *testing.T) {
	prov := &scriptedProvider{replies: []string{"First answer.", "Second answer."}}
	sess := newTestLoop(prov, newRegistry(t), nil).NewSession()

	sess.Ask(context.Background(), "first")
	sess.Ask(context.Background(), "second")

	msgs := prov.requests[1].Messages
	// system + first question + first answer + second question
	if len(msgs) != 4 || msgs[1].Text != "first" || msgs[2].Text != "First answer." {
		t.Fatalf("expected prior turns in second request, got %+v", msgs)
	}
}

func TestNewLoop_Defaults(t *testing.T) {
	l := NewLoop(LoopConfig{Provider: &scriptedProvider{}})
	if l.maxIterations != 6 {
		t.Fatalf("expected default of 6 iterations, got %d", l.maxIterations)
	}
	if l.prompt.SystemPrompt() != BaseSystemPrompt {
		t.Fatalf("expected base prompt without tools, got %q", l.prompt.SystemPrompt())
	}
}

func TestCountMessages(t *testing.T) {
	n := CountMessages(ApproxCounter{}, []domain.Message{domain.UserMessage("abcdefgh")})
	if n != 3+messageOverhead+2 {
		t.Fatalf("unexpected estimate %d", n)
	}
}
