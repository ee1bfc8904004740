package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"bdagent/internal/dataset"
	"bdagent/internal/domain"
)

const noResults = "No results found."

// Querier is the read-only table access a QueryTool needs.
type Querier interface {
	Descriptor() dataset.Descriptor
	Schema() string
	Query(ctx context.Context, sql string) (*dataset.ResultSet, error)
}

type QueryConfig struct {
	Store    Querier
	Provider domain.Provider
	Model    string
	Logger   *slog.Logger
}

// QueryTool answers natural-language questions about one table by asking the
// model for a single SQL statement and running it read-only.
type QueryTool struct {
	store    Querier
	desc     dataset.Descriptor
	provider domain.Provider
	model    string
	logger   *slog.Logger
}

func NewQueryTool(cfg QueryConfig) *QueryTool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	desc := cfg.Store.Descriptor()
	return &QueryTool{
		store:    cfg.Store,
		desc:     desc,
		provider: cfg.Provider,
		model:    cfg.Model,
		logger:   logger.With("tool", desc.ToolName()),
	}
}

func (t *QueryTool) Name() string { return t.desc.ToolName() }

func (t *QueryTool) Description() string {
	if t.desc.Description != "" {
		return t.desc.Description
	}
	return fmt.Sprintf("Answer questions using the %s table.", t.desc.Table)
}

func (t *QueryTool) Parameters() map[string]any {
	return requireOneOf(ToolParameters(
		map[string]Param{
			"question": {Type: "string", Description: "Natural-language question about the " + t.desc.Table + " table"},
			"query":    {Type: "string", Description: "Alias for question"},
			"input":    {Type: "string", Description: "Alias for question"},
		},
		nil,
	), "question", "query", "input")
}

// Execute never returns a Go error. Failures are reported as "Error: ..." text
// so the model can see them.
func (t *QueryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	question := firstArg(args, "question", "query", "input")
	if question == "" {
		return "Error: missing argument: question", nil
	}

	start := time.Now()
	sqlText, err := t.translate(ctx, question)
	if err != nil {
		t.logger.Warn("sql generation failed", "error", err)
		return "Error: " + err.Error(), nil
	}
	t.logger.Debug("generated sql", "sql", sqlText)

	if err := CheckReadOnly(sqlText); err != nil {
		t.logger.Warn("sql rejected", "sql", sqlText, "error", err)
		return "Error: " + err.Error(), nil
	}

	rs, err := t.store.Query(ctx, sqlText)
	if err != nil {
		t.logger.Warn("sql execution failed", "sql", sqlText, "error", err)
		return "Error: " + err.Error(), nil
	}
	t.logger.Info("query executed",
		"rows", len(rs.Rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if len(rs.Rows) == 0 {
		return noResults, nil
	}
	return dataset.Render(rs), nil
}

func (t *QueryTool) translate(ctx context.Context, question string) (string, error) {
	resp, err := t.provider.Chat(ctx, domain.ChatRequest{
		Model: t.model,
		Messages: []domain.Message{
			domain.SystemMessage(SQLPrompt(t.desc.Table, t.store.Schema())),
			domain.UserMessage(question),
		},
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	sqlText := StripSQLFences(resp.Content)
	if sqlText == "" {
		return "", errors.New("model returned no SQL")
	}
	return sqlText, nil
}

// SQLPrompt is the system message used to turn a question into SQL.
func SQLPrompt(table, schema string) string {
	return fmt.Sprintf("You are an expert in converting natural language questions into SQL queries. "+
		"The database table '%s' has the following schema:\n%s\n\n"+
		"Given a question, output **only** the SQL query that answers it. "+
		"Do not include any explanation or extra text.", table, schema)
}

// StripSQLFences removes ```sql and ``` markers and surrounding whitespace.
func StripSQLFences(s string) string {
	return strings.TrimSpace(sqlFencePattern.ReplaceAllString(s, ""))
}

// sqlFencePattern matches a code fence with an optional sql language tag.
var sqlFencePattern = regexp.MustCompile("(?i)```(?:sql\\b)?")
