package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/docs"
	"github.com/hupe1980/relaymesh/handoff"
	"github.com/hupe1980/relaymesh/internal/testutil"
	"github.com/hupe1980/relaymesh/search"
)

type stubSearcher struct {
	results []search.Result
	err     error
	queries []string
	opts    []search.Options
}

func (s *stubSearcher) Search(_ context.Context, query string, opts search.Options) ([]search.Result, error) {
	s.queries = append(s.queries, query)
	s.opts = append(s.opts, opts)
	return s.results, s.err
}

type brokenStore struct{}

func (brokenStore) Location() string { return "broken" }
func (brokenStore) List(context.Context) ([]string, error) {
	return nil, docs.ErrUnavailable
}
func (brokenStore) Read(context.Context, string) ([]byte, error) { return nil, docs.ErrUnavailable }

func newState(input string) *core.State {
	return core.NewState("u1", "s1", input)
}

func lastHandoff(t *testing.T, st *core.State) (string, core.Instruction) {
	t.Helper()
	e, ok := st.Log.Latest()
	require.True(t, ok)
	h, ok := e.Payload.(*core.Handoff)
	require.True(t, ok, "expected handoff, got %T", e.Payload)
	require.Len(t, h.Agents, 1)
	return e.Handler, h.Agents[0]
}

func TestToolError(t *testing.T) {
	err := NewToolError("tavily_tool", "boom", CodeExecution)
	assert.Equal(t, "tool error [EXECUTION_ERROR] in tavily_tool: boom", err.Error())

	cause := errors.New("cause")
	err.Err = cause
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "tool error in x: y", NewToolError("x", "y", "").Error())
}

func TestWebSearch_NoInstruction(t *testing.T) {
	st := newState("hi")
	ws := NewWebSearch(&stubSearcher{})

	require.NoError(t, ws.Handle(context.Background(), st))

	src, in := lastHandoff(t, st)
	assert.Equal(t, core.WebSearchName, src)
	assert.Equal(t, core.RouterName, in.Target)
	assert.Equal(t, "No parameters provided for web search", in.Parameters.String("context"))
	assert.Equal(t, "Operation failed in tavily_tool", in.Parameters.String("previous_attempt"))
	assert.Equal(t, "hi", in.Parameters.String("original_query"))
}

func TestWebSearch_EmptyQuery(t *testing.T) {
	st := newState("hi")
	st.Emit(core.RouterName, core.NewToolCall(core.WebSearchName, core.Params{"query": ""}))

	s := &stubSearcher{}
	require.NoError(t, NewWebSearch(s).Handle(context.Background(), st))

	_, in := lastHandoff(t, st)
	assert.Equal(t, "No search query provided", in.Parameters.String("context"))
	assert.Empty(t, s.queries)
}

func TestWebSearch_NoResults(t *testing.T) {
	for name, s := range map[string]*stubSearcher{
		"empty": {},
		"error": {err: errors.New("rate limited")},
	} {
		t.Run(name, func(t *testing.T) {
			st := newState("hi")
			st.Emit(core.RouterName, core.NewToolCall(core.WebSearchName, core.Params{"query": "q"}))

			require.NoError(t, NewWebSearch(s).Handle(context.Background(), st))

			_, in := lastHandoff(t, st)
			assert.Equal(t, core.RouterName, in.Target)
			assert.Equal(t, "No web results found", in.Parameters.String("context"))
			assert.Len(t, handoff.Unconsumed(st.Log, core.WebSearchName), 1)
		})
	}
}

func TestWebSearch_Results(t *testing.T) {
	st := newState("What are the benefits of a savings account?")
	st.Emit(core.RouterName, core.NewToolCall(core.WebSearchName, core.Params{"query": "benefits of savings account"}))

	s := &stubSearcher{results: []search.Result{
		{Title: "Savings", URL: "https://bank.example/savings", Content: "Earn interest"},
	}}
	ws := NewWebSearch(s, func(o *WebSearchOptions) {
		o.MaxResults = 2
		o.IncludeDomains = []string{"bank.example"}
	})
	require.NoError(t, ws.Handle(context.Background(), st))

	assert.Equal(t, []string{"benefits of savings account"}, s.queries)
	assert.Equal(t, 2, s.opts[0].Count)
	assert.Empty(t, handoff.Unconsumed(st.Log, core.WebSearchName))

	src, in := lastHandoff(t, st)
	assert.Equal(t, core.WebSearchName, src)
	assert.Equal(t, core.SynthesisName, in.Target)
	assert.Equal(t, "Content successfully retrieved from tavily_tool", in.Parameters.String("context"))

	content, ok := in.Parameters["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	assert.Equal(t, "https://bank.example/savings", content[0].(map[string]any)["url"])
}

func TestDocs_ResolvesExistingFiles(t *testing.T) {
	store := docs.NewMemory("parsed").
		Put("savings.md", []byte("savings")).
		Put("loans.txt", []byte("loans"))

	st := newState("savings?")
	st.Emit(core.RouterName, core.NewToolCall(core.DocsToolName, core.Params{
		"query":                  "savings",
		"relevant_docs":          []any{"savings.md", "missing.md"},
		"comprehensive_question": "What savings accounts exist?",
	}))

	require.NoError(t, NewDocs(store).Handle(context.Background(), st))

	assert.Empty(t, handoff.Unconsumed(st.Log, core.DocsToolName))
	src, in := lastHandoff(t, st)
	assert.Equal(t, core.DocsToolName, src)
	assert.Equal(t, core.SynthesisName, in.Target)
	assert.Equal(t, "savings", in.Parameters.String("query"))
	assert.Equal(t, "What savings accounts exist?", in.Parameters.String("comprehensive_question"))

	paths := in.Parameters.Map("doc_paths")
	require.NotNil(t, paths)
	assert.Equal(t, "parsed", paths.String("docs_path"))
	assert.Equal(t, []string{"savings.md"}, paths.Strings("specific_files"))
}

func TestDocs_WithoutInstruction(t *testing.T) {
	st := newState("savings?")
	require.NoError(t, NewDocs(docs.NewMemory("parsed")).Handle(context.Background(), st))

	_, in := lastHandoff(t, st)
	assert.Equal(t, core.SynthesisName, in.Target)
	assert.Empty(t, in.Parameters.Map("doc_paths").Strings("specific_files"))
}

func TestDocs_StoreUnavailable(t *testing.T) {
	st := newState("savings?")
	st.Emit(core.RouterName, core.NewToolCall(core.DocsToolName, core.Params{"query": "savings"}))

	require.NoError(t, NewDocs(brokenStore{}).Handle(context.Background(), st))

	src, in := lastHandoff(t, st)
	assert.Equal(t, core.DocsToolName, src)
	assert.Equal(t, core.RouterName, in.Target)
	assert.Contains(t, in.Parameters.String("context"), "Error accessing documents:")
}

func TestDocs_NilStore(t *testing.T) {
	st := newState("savings?")
	require.NoError(t, NewDocs(nil).Handle(context.Background(), st))

	_, in := lastHandoff(t, st)
	assert.Equal(t, core.RouterName, in.Target)
}

func TestWebSearch_SkipsConsumedInstruction(t *testing.T) {
	st := testutil.NewStateBuilder().
		Input("savings").
		Entries(testutil.NewEntryBuilder().
			ToolCall(core.WebSearchName, core.Params{"query": "already done"}).
			Consumed(core.WebSearchName).
			Build()).
		Build()
	searcher := &stubSearcher{results: []search.Result{{Title: "t", URL: "u", Content: "c"}}}

	require.NoError(t, NewWebSearch(searcher).Handle(context.Background(), st))

	assert.Empty(t, searcher.queries)
	_, in := lastHandoff(t, st)
	assert.Equal(t, core.RouterName, in.Target)
	assert.Equal(t, "No parameters provided for web search", in.Parameters.String("context"))
}
