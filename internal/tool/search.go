package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	searchTimeout   = 15 * time.Second
	searchMaxBytes  = 512 * 1024
	userAgentString = "bdagent/0.1"

	defaultDuckDuckGoURL = "https://api.duckduckgo.com/"
	defaultGoogleURL     = "https://www.googleapis.com/customsearch/v1"
)

// ErrSearchUnavailable means no search backend is configured.
var ErrSearchUnavailable = errors.New("search backend not configured")

// SearchBackend runs a web search and returns readable text.
type SearchBackend interface {
	Name() string
	Search(ctx context.Context, query string) (string, error)
}

// WebSearchTool wraps a SearchBackend. Every outcome is returned as text.
type WebSearchTool struct {
	backend SearchBackend
}

// NewWebSearchTool accepts a nil backend, in which case every call reports
// that search is unavailable.
func NewWebSearchTool(backend SearchBackend) *WebSearchTool {
	return &WebSearchTool{backend: backend}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for general knowledge about Bangladesh. Use this for questions not answered by the local databases."
}
func (t *WebSearchTool) Parameters() map[string]any {
	return requireOneOf(ToolParameters(
		map[string]Param{
			"query":    {Type: "string", Description: "Search query to look up on the web"},
			"question": {Type: "string", Description: "Alias for query"},
		},
		nil,
	), "query", "question")
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := firstArg(args, "query", "question")
	if query == "" {
		return "Web search failed: missing argument: query", nil
	}
	if t.backend == nil {
		return "Web search is unavailable: " + ErrSearchUnavailable.Error(), nil
	}
	out, err := t.backend.Search(ctx, query)
	if errors.Is(err, ErrSearchUnavailable) {
		return "Web search is unavailable: " + err.Error(), nil
	}
	if err != nil {
		return "Web search failed: " + err.Error(), nil
	}
	return out, nil
}

// DuckDuckGo queries the Instant Answer API. No key is required.
type DuckDuckGo struct {
	client     *http.Client
	endpoint   string
	maxResults int
}

func NewDuckDuckGo(timeout time.Duration, maxResults int) *DuckDuckGo {
	if timeout <= 0 {
		timeout = searchTimeout
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &DuckDuckGo{
		client:     &http.Client{Timeout: timeout},
		endpoint:   defaultDuckDuckGoURL,
		maxResults: maxResults,
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	var ddg ddgResponse
	if err := getJSON(ctx, d.client, d.endpoint+"?"+q.Encode(), &ddg); err != nil {
		return "", err
	}

	var results []string
	if ddg.Abstract != "" {
		results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", ddg.Heading, ddg.Abstract, ddg.AbstractURL))
	}
	if ddg.Answer != "" {
		results = append(results, fmt.Sprintf("Answer: %s", ddg.Answer))
	}
	for i, topic := range ddg.RelatedTopics {
		if i >= d.maxResults {
			break
		}
		if topic.Text != "" {
			results = append(results, fmt.Sprintf("- %s", topic.Text))
		}
	}

	if len(results) == 0 {
		return fmt.Sprintf("No instant results found for: %s. Try a more specific query.", query), nil
	}
	return strings.Join(results, "\n\n"), nil
}

// Google queries the Custom Search JSON API.
type Google struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	engineID   string
	maxResults int
}

func NewGoogle(apiKey, engineID string, timeout time.Duration, maxResults int) *Google {
	if timeout <= 0 {
		timeout = searchTimeout
	}
	if maxResults <= 0 || maxResults > 10 {
		maxResults = 5
	}
	return &Google{
		client:     &http.Client{Timeout: timeout},
		endpoint:   defaultGoogleURL,
		apiKey:     apiKey,
		engineID:   engineID,
		maxResults: maxResults,
	}
}

func (g *Google) Name() string { return "google" }

func (g *Google) Search(ctx context.Context, query string) (string, error) {
	if g.apiKey == "" || g.engineID == "" {
		return "", fmt.Errorf("%w: set GOOGLE_SEARCH_API_KEY and GOOGLE_SEARCH_ENGINE_ID", ErrSearchUnavailable)
	}
	q := url.Values{}
	q.Set("key", g.apiKey)
	q.Set("cx", g.engineID)
	q.Set("q", query)
	q.Set("num", fmt.Sprint(g.maxResults))

	var res googleResponse
	if err := getJSON(ctx, g.client, g.endpoint+"?"+q.Encode(), &res); err != nil {
		return "", err
	}
	if len(res.Items) == 0 {
		return fmt.Sprintf("No results found for: %s", query), nil
	}

	var b strings.Builder
	for i, item := range res.Items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n%s", i+1, item.Title, item.Snippet, item.Link)
	}
	return b.String(), nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, searchMaxBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// DuckDuckGo response types
type ddgResponse struct {
	Abstract      string     `json:"Abstract"`
	AbstractURL   string     `json:"AbstractURL"`
	Heading       string     `json:"Heading"`
	Answer        string     `json:"Answer"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// NewSearchBackend picks the backend named by provider. It returns nil for
// "none", which makes the web search tool report that search is unavailable.
func NewSearchBackend(provider, apiKey, engineID string, timeout time.Duration, maxResults int) SearchBackend {
	switch provider {
	case "google":
		return NewGoogle(apiKey, engineID, timeout, maxResults)
	case "none":
		return nil
	default:
		return NewDuckDuckGo(timeout, maxResults)
	}
}
