package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// TavilyConfig holds configuration for the Tavily provider.
type TavilyConfig struct {
	APIKey            string   `yaml:"api_key"`
	BaseURL           string   `yaml:"base_url"`
	SearchDepth       string   `yaml:"search_depth"`
	MaxResults        int      `yaml:"max_results"`
	IncludeDomains    []string `yaml:"include_domains"`
	IncludeRawContent bool     `yaml:"include_raw_content"`
	IncludeAnswer     bool     `yaml:"include_answer"`
}

// Configured reports whether a Tavily API key is set.
func (c TavilyConfig) Configured() bool {
	return c.APIKey != ""
}

// Tavily implements the Provider interface for the Tavily search API.
type Tavily struct {
	cfg        TavilyConfig
	httpClient *http.Client
}

// NewTavily creates a Tavily provider. Unset fields fall back to advanced
// depth, two results, raw content and a generated answer.
func NewTavily(cfg TavilyConfig) *Tavily {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTavilyURL
	}
	if cfg.SearchDepth == "" {
		cfg.SearchDepth = "advanced"
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 2
		cfg.IncludeRawContent = true
		cfg.IncludeAnswer = true
	}
	return &Tavily{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return "tavily " + r.URL.Path
				}),
			),
		},
	}
}

// Name implements Provider.
func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	Query             string   `json:"query"`
	SearchDepth       string   `json:"search_depth"`
	IncludeRawContent bool     `json:"include_raw_content"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
	IncludeImages     bool     `json:"include_images"`
	IncludeAnswer     bool     `json:"include_answer"`
	MaxResults        int      `json:"max_results"`
}

type tavilyResponse struct {
	Answer  string         `json:"answer"`
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content"`
	Score      float64 `json:"score"`
}

// Search implements Provider. A missing API key yields no results.
func (t *Tavily) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if !t.cfg.Configured() {
		return nil, nil
	}

	body := tavilyRequest{
		Query:             query,
		SearchDepth:       t.cfg.SearchDepth,
		IncludeRawContent: t.cfg.IncludeRawContent,
		IncludeDomains:    t.cfg.IncludeDomains,
		IncludeAnswer:     t.cfg.IncludeAnswer,
		MaxResults:        t.cfg.MaxResults,
	}
	if opts.Count > 0 {
		body.MaxResults = opts.Count
	}
	if len(opts.IncludeDomains) > 0 {
		body.IncludeDomains = opts.IncludeDomains
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("tavily: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tavily: HTTP %d: %s", resp.StatusCode, string(msg))
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	results := make([]Result, 0, len(tr.Results))
	for _, r := range tr.Results {
		results = append(results, Result{
			Title:      r.Title,
			URL:        r.URL,
			Content:    r.Content,
			RawContent: r.RawContent,
			Score:      r.Score,
		})
	}

	return results, nil
}
