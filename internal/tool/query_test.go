package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"bdagent/internal/dataset"
	"bdagent/internal/domain"
)

// fakeProvider returns a fixed reply and records the last request.
type fakeProvider struct {
	reply string
	err   error
	last  domain.ChatRequest
	calls int
}

func (p *fakeProvider) Name() string                      { return "fake" }
func (p *fakeProvider) Healthy(ctx context.Context) error { return nil }
func (p *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.calls++
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ChatResponse{Content: p.reply}, nil
}

type fakeStore struct {
	rs      *dataset.ResultSet
	err     error
	lastSQL string
}

func (s *fakeStore) Descriptor() dataset.Descriptor {
	return dataset.Descriptor{Name: "hospitals", Table: "hospitals", Description: "Hospitals in Bangladesh."}
}
func (s *fakeStore) Schema() string { return "CREATE TABLE hospitals (name TEXT, beds INTEGER)" }
func (s *fakeStore) Query(ctx context.Context, sql string) (*dataset.ResultSet, error) {
	s.lastSQL = sql
	return s.rs, s.err
}

func TestQueryTool_Metadata(t *testing.T) {
	qt := NewQueryTool(QueryConfig{Store: &fakeStore{}, Provider: &fakeProvider{}, Logger: testLogger()})
	if qt.Name() != "hospitals_db" {
		t.Fatalf("expected hospitals_db, got %q", qt.Name())
	}
	if qt.Description() != "Hospitals in Bangladesh." {
		t.Fatalf("unexpected description %q", qt.Description())
	}
}

func TestQueryTool_CountRendersExactly(t *testing.T) {
	store := &fakeStore{rs: &dataset.ResultSet{Columns: []string{"count"}, Rows: [][]any{{int64(42)}}}}
	prov := &fakeProvider{reply: "```sql\nSELECT COUNT(*) AS count FROM hospitals WHERE city = 'Dhaka'\n```"}
	qt := NewQueryTool(QueryConfig{Store: store, Provider: prov, Model: "llama-3.1-8b-instant", Logger: testLogger()})

	out, err := qt.Execute(context.Background(), map[string]any{"question": "How many hospitals are in Dhaka?"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "count\n42" {
		t.Fatalf("expected %q, got %q", "count\n42", out)
	}
	if store.lastSQL != "SELECT COUNT(*) AS count FROM hospitals WHERE city = 'Dhaka'" {
		t.Fatalf("fences not stripped: %q", store.lastSQL)
	}

	if prov.last.Temperature != 0 {
		t.Fatalf("expected temperature 0, got %v", prov.last.Temperature)
	}
	if prov.last.Model != "llama-3.1-8b-instant" {
		t.Fatalf("expected model to be passed through, got %q", prov.last.Model)
	}
	if len(prov.last.Messages) != 2 || prov.last.Messages[0].Role != domain.RoleSystem {
		t.Fatalf("expected system + user messages, got %+v", prov.last.Messages)
	}
	if !strings.Contains(prov.last.Messages[0].Text, "CREATE TABLE hospitals") {
		t.Fatal("system prompt should contain the schema")
	}
	if !strings.Contains(prov.last.Messages[0].Text, "output **only** the SQL query") {
		t.Fatal("system prompt should demand SQL only")
	}
	if prov.last.Messages[1].Text != "How many hospitals are in Dhaka?" {
		t.Fatalf("unexpected user message %q", prov.last.Messages[1].Text)
	}
}

func TestQueryTool_NoResults(t *testing.T) {
	store := &fakeStore{rs: &dataset.ResultSet{Columns: []string{"name"}}}
	qt := NewQueryTool(QueryConfig{Store: store, Provider: &fakeProvider{reply: "SELECT name FROM hospitals WHERE beds > 99999"}, Logger: testLogger()})

	out, _ := qt.Execute(context.Background(), map[string]any{"question": "Any giant hospitals?"})
	if out != "No results found." {
		t.Fatalf("expected no results text, got %q", out)
	}
}

func TestQueryTool_ErrorsBecomeText(t *testing.T) {
	tests := []struct {
		name   string
		prov   *fakeProvider
		store  *fakeStore
		prefix string
	}{
		{"provider failure", &fakeProvider{err: errors.New("rate limited")}, &fakeStore{}, "Error: rate limited"},
		{"empty sql", &fakeProvider{reply: "```sql\n```"}, &fakeStore{}, "Error: model returned no SQL"},
		{"write rejected", &fakeProvider{reply: "DELETE FROM hospitals"}, &fakeStore{}, "Error: only a single read-only SELECT"},
		{"execution failure", &fakeProvider{reply: "SELECT nope FROM hospitals"}, &fakeStore{err: errors.New("no such column: nope")}, "Error: no such column: nope"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			qt := NewQueryTool(QueryConfig{Store: tc.store, Provider: tc.prov, Logger: testLogger()})
			out, err := qt.Execute(context.Background(), map[string]any{"question": "q"})
			if err != nil {
				t.Fatalf("Execute should not return a Go error, got %v", err)
			}
			if !strings.HasPrefix(out, tc.prefix) {
				t.Fatalf("expected prefix %q, got %q", tc.prefix, out)
			}
		})
	}
}

func TestQueryTool_WriteNeverReachesStore(t *testing.T) {
	store := &fakeStore{}
	qt := NewQueryTool(QueryConfig{Store: store, Provider: &fakeProvider{reply: "DROP TABLE hospitals"}, Logger: testLogger()})
	qt.Execute(context.Background(), map[string]any{"question": "drop it"})
	if store.lastSQL != "" {
		t.Fatalf("store should not see rejected SQL, got %q", store.lastSQL)
	}
}

func TestQueryTool_AcceptsAliases(t *testing.T) {
	store := &fakeStore{rs: &dataset.ResultSet{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}}
	prov := &fakeProvider{reply: "SELECT 1 AS n"}
	qt := NewQueryTool(QueryConfig{Store: store, Provider: prov, Logger: testLogger()})

	for _, key := range []string{"question", "query", "input"} {
		out, _ := qt.Execute(context.Background(), map[string]any{key: "anything"})
		if out != "n\n1" {
			t.Fatalf("alias %q: unexpected output %q", key, out)
		}
	}
	out, _ := qt.Execute(context.Background(), map[string]any{})
	if !strings.HasPrefix(out, "Error: missing argument") {
		t.Fatalf("expected missing argument error, got %q", out)
	}
}

func TestQueryTool_ThroughRegistry(t *testing.T) {
	qt := NewQueryTool(QueryConfig{
		Store:    &fakeStore{rs: &dataset.ResultSet{Columns: []string{"name", "beds"}, Rows: [][]any{{"DMCH", int64(2600)}}}},
		Provider: &fakeProvider{reply: "SELECT name, beds FROM hospitals ORDER BY beds DESC LIMIT 1"},
		Logger:   testLogger(),
	})
	reg := NewRegistry(testLogger())
	if err := reg.Register(qt); err != nil {
		t.Fatal(err)
	}
	out, err := reg.Execute(context.Background(), "hospitals_db", map[string]any{"question": "Largest hospital?"})
	if err != nil {
		t.Fatalf("execute via registry: %v", err)
	}
	if out != "name  beds\nDMCH  2600" {
		t.Fatalf("unexpected rendering %q", out)
	}
}

func TestStripSQLFences(t *testing.T) {
	cases := map[string]string{
		"```sql\nSELECT 1\n```": "SELECT 1",
		"```\nSELECT 2\n```":    "SELECT 2",
		"  SELECT 3  ":          "SELECT 3",
		"```SQL\nSELECT 4\n```": "SELECT 4",
		"```Sql SELECT 5```":     "SELECT 5",
	}
	for in, want := range cases {
		if got := StripSQLFences(in); got != want {
			t.Errorf("StripSQLFences(%q) = %q, want %q", in, got, want)
		}
	}
}
