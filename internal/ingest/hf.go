package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bdagent/internal/dataset"
)

const (
	// DefaultHFBaseURL is the public datasets-server API.
	DefaultHFBaseURL = "https://datasets-server.huggingface.co"
	// hfMaxPage is the largest page the /rows endpoint serves.
	hfMaxPage    = 100
	hfMaxRetries = 3
)

// hfRetryDelay is the base backoff between retries; tests shorten it.
var hfRetryDelay = time.Second

type HFConfig struct {
	BaseURL  string
	Token    string // optional, sent as a bearer token (HF_TOKEN)
	PageSize int
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// HFClient reads dataset rows from the Hugging Face datasets-server.
type HFClient struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
	logger   *slog.Logger
}

func NewHFClient(cfg HFConfig) *HFClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHFBaseURL
	}
	if cfg.PageSize <= 0 || cfg.PageSize > hfMaxPage {
		cfg.PageSize = hfMaxPage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HFClient{
		baseURL:  cfg.BaseURL,
		token:    cfg.Token,
		pageSize: cfg.PageSize,
		http:     cfg.Client,
		logger:   cfg.Logger,
	}
}

type hfSplitsResponse struct {
	Splits []struct {
		Dataset string `json:"dataset"`
		Config  string `json:"config"`
		Split   string `json:"split"`
	} `json:"splits"`
}

type hfFeature struct {
	Name string `json:"name"`
	Type struct {
		Dtype string `json:"dtype"`
		Kind  string `json:"_type"`
	} `json:"type"`
}

type hfRowsResponse struct {
	Features []hfFeature `json:"features"`
	Rows     []struct {
		RowIdx int            `json:"row_idx"`
		Row    map[string]any `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// Split picks the config and split to download, preferring "train".
func (c *HFClient) Split(ctx context.Context, name string) (config, split string, err error) {
	var resp hfSplitsResponse
	if err := c.get(ctx, "/splits", url.Values{"dataset": {name}}, &resp); err != nil {
		return "", "", err
	}
	if len(resp.Splits) == 0 {
		return "", "", fmt.Errorf("dataset %s has no splits", name)
	}
	for _, s := range resp.Splits {
		if s.Split == "train" {
			return s.Config, s.Split, nil
		}
	}
	return resp.Splits[0].Config, resp.Splits[0].Split, nil
}

// Fetch downloads every row of a dataset's preferred split.
func (c *HFClient) Fetch(ctx context.Context, name string) (*Table, error) {
	config, split, err := c.Split(ctx, name)
	if err != nil {
		return nil, err
	}

	var (
		table    *Table
		features []hfFeature
		total    = -1
	)
	for offset := 0; total < 0 || offset < total; offset += c.pageSize {
		var page hfRowsResponse
		q := url.Values{
			"dataset": {name},
			"config":  {config},
			"split":   {split},
			"offset":  {strconv.Itoa(offset)},
			"length":  {strconv.Itoa(c.pageSize)},
		}
		if err := c.get(ctx, "/rows", q, &page); err != nil {
			return nil, fmt.Errorf("rows at offset %d: %w", offset, err)
		}
		if table == nil {
			features = page.Features
			table = &Table{Columns: featureColumns(features)}
		}
		total = page.NumRowsTotal
		if len(page.Rows) == 0 {
			break
		}
		for _, r := range page.Rows {
			row := make([]any, len(features))
			for i, f := range features {
				row[i] = convertJSON(r.Row[f.Name], table.Columns[i].Type)
			}
			table.Rows = append(table.Rows, row)
		}
		c.logger.Debug("fetched rows", "dataset", name, "offset", offset, "count", len(page.Rows), "total", total)
	}
	if table == nil {
		return nil, fmt.Errorf("dataset %s returned no features", name)
	}
	return table, nil
}

func featureColumns(features []hfFeature) []dataset.Column {
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = f.Name
	}
	clean := CleanColumnNames(names)
	cols := make([]dataset.Column, len(features))
	for i, f := range features {
		typ := TypeText
		if f.Type.Kind == "" || f.Type.Kind == "Value" {
			typ = TypeForDtype(f.Type.Dtype)
		}
		cols[i] = dataset.Column{Name: clean[i], Type: typ}
	}
	return cols
}

// get performs a GET with retries on 429 and 5xx responses.
func (c *HFClient) get(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := c.baseURL + path + "?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt < hfMaxRetries; attempt++ {
		if attempt > 0 {
			delay := hfRetryDelay * time.Duration(1<<(attempt-1))
			c.logger.Warn("retrying datasets-server request", "path", path, "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		body, status, err := c.do(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = fmt.Errorf("datasets-server %d: %s", status, truncate(string(body), 200))
			continue
		}
		if status != http.StatusOK {
			return fmt.Errorf("datasets-server %d: %s", status, truncate(string(body), 200))
		}

		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}
	return fmt.Errorf("datasets-server %s failed after %d attempts: %w", path, hfMaxRetries, lastErr)
}

func (c *HFClient) do(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
