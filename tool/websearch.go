package tool

import (
	"context"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/handoff"
	"github.com/hupe1980/relaymesh/logging"
	"github.com/hupe1980/relaymesh/search"
)

// Searcher runs a web search. *search.Manager and every search.Provider
// satisfy it.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// WebSearchOptions configures the web search tool.
type WebSearchOptions struct {
	Logger         logging.Logger
	MaxResults     int
	IncludeDomains []string
}

// WebSearch queries the web and hands the results to the synthesis agent.
type WebSearch struct {
	searcher Searcher
	opts     WebSearchOptions
	logger   logging.Logger
}

// NewWebSearch creates the tavily_tool handler over searcher.
func NewWebSearch(searcher Searcher, optFns ...func(o *WebSearchOptions)) *WebSearch {
	opts := WebSearchOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &WebSearch{searcher: searcher, opts: opts, logger: logging.OrNoOp(opts.Logger)}
}

// Name implements core.Handler.
func (w *WebSearch) Name() string { return core.WebSearchName }

// Handle implements core.Handler. The instruction is only consumed once
// results were found.
func (w *WebSearch) Handle(ctx context.Context, st *core.State) error {
	params, ok := handoff.Latest(st.Log, w.Name())
	if !ok {
		fail(st, w.logger, NewToolError(w.Name(), "No parameters provided for web search", CodeValidation))
		return nil
	}

	query := params.String("query")
	if query == "" {
		fail(st, w.logger, NewToolError(w.Name(), "No search query provided", CodeValidation))
		return nil
	}

	var results []search.Result
	if w.searcher != nil {
		var err error
		results, err = w.searcher.Search(ctx, query, search.Options{
			Count:          w.opts.MaxResults,
			IncludeDomains: w.opts.IncludeDomains,
		})
		if err != nil {
			w.logger.Warn("tool.websearch.error", "query", query, "error", err)
			results = nil
		}
	}
	if len(results) == 0 {
		fail(st, w.logger, NewToolError(w.Name(), "No web results found", CodeExecution))
		return nil
	}

	handoff.MarkConsumed(st.Log, w.Name())

	content := make([]any, 0, len(results))
	for _, r := range results {
		content = append(content, map[string]any{
			"title":   r.Title,
			"url":     r.URL,
			"content": r.Content,
		})
	}

	w.logger.Debug("tool.websearch.results", "query", query, "results", len(results))
	handoff.ToSynthesis(st, w.Name(), core.Params{
		"query":   query,
		"content": content,
	})
	return nil
}
