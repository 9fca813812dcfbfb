package relaymesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/docs"
	"github.com/hupe1980/relaymesh/engine"
	"github.com/hupe1980/relaymesh/model"
	"github.com/hupe1980/relaymesh/runner"
	"github.com/hupe1980/relaymesh/search"
	"github.com/hupe1980/relaymesh/store"
)

type stubSearcher struct {
	results []search.Result
	queries []string
}

func (s *stubSearcher) Search(_ context.Context, query string, _ search.Options) ([]search.Result, error) {
	s.queries = append(s.queries, query)
	return s.results, nil
}

const (
	searchSavings = `{"response_type": "tool_call", "tools": [{"tool_name": "tavily_tool", "parameters": {"query": "benefits of a savings account"}}]}`
	answerSavings = `Here is my answer:
{"response_type": "handoff", "agents": [{"agent_name": "respond_to_human", "parameters": {
  "message_to_user": "A savings account keeps your money safe and earns interest.",
  "sources": ["https://bank.example/savings"],
  "follow_up_questions": ["How much interest can I earn?"]
}}]}`
	readFAQ   = `{"response_type": "tool_call", "tools": [{"tool_name": "extract_docs_tool", "parameters": {"query": "fees", "relevant_docs": ["fees.md"]}}]}`
	answerFAQ = `{"response_type": "handoff", "agents": [{"agent_name": "respond_to_human", "parameters": {"message_to_user": "There are no monthly fees.", "sources": ["fees.md"]}}]}`
)

func TestChat_SavingsAccountScenario(t *testing.T) {
	ctx := context.Background()
	llm := model.NewMockModel("mock").AddResponse(searchSavings).AddResponse(answerSavings)
	searcher := &stubSearcher{results: []search.Result{{
		Title:   "Savings accounts explained",
		URL:     "https://bank.example/savings",
		Content: "Savings accounts pay interest and are insured.",
	}}}
	mem := store.NewMemory()

	mesh := New(llm, func(o *Options) {
		o.Searcher = searcher
		o.Store = mem
	})

	reply, err := mesh.Chat(ctx, runner.Request{
		UserID:    "alice",
		SessionID: "s1",
		UserInput: "What are the benefits of a savings account?",
	})
	require.NoError(t, err)

	assert.Equal(t, engine.PhaseTerminal, reply.Phase)
	assert.NotEmpty(t, reply.Message)
	assert.Equal(t, []string{"https://bank.example/savings"}, reply.Sources)
	assert.Equal(t, []string{"How much interest can I earn?"}, reply.FollowUpQuestions)
	assert.Equal(t, []string{"benefits of a savings account"}, searcher.queries)

	// The synthesis prompt carries the web results.
	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	var prompt string
	for _, m := range reqs[1].Messages {
		prompt += m.Content
	}
	assert.Contains(t, prompt, "Savings accounts pay interest")

	saved, err := mem.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	snap := saved[0]
	assert.Equal(t, reply.ConversationID, snap.ConversationID)
	require.Len(t, snap.History, 2)
	assert.Equal(t, core.RoleUser, snap.History[0].Role)
	assert.Equal(t, core.RoleAssistant, snap.History[1].Role)

	handlers := make([]string, 0, len(snap.Log))
	for _, e := range snap.Log {
		handlers = append(handlers, e.Handler)
	}
	assert.Equal(t, []string{core.RouterName, core.WebSearchName, core.SynthesisName, core.RespondName}, handlers)
	for _, e := range snap.Log {
		for _, in := range core.Instructions(e.Payload) {
			assert.True(t, in.IsConsumed(), "instruction for %s left unconsumed", in.Target)
		}
	}
}

func TestChat_DocumentScenario(t *testing.T) {
	llm := model.NewMockModel("mock").AddResponse(readFAQ).AddResponse(answerFAQ)
	faq := docs.NewMemory("kb").Put("fees.md", []byte("Checking: no monthly fees."))

	mesh := New(llm, func(o *Options) { o.Documents = faq })

	reply, err := mesh.Chat(context.Background(), runner.Request{UserID: "bob", UserInput: "Are there fees?"})
	require.NoError(t, err)

	assert.Equal(t, "There are no monthly fees.", reply.Message)
	assert.Equal(t, []string{"fees.md"}, reply.Sources)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	var prompt string
	for _, m := range reqs[1].Messages {
		prompt += m.Content
	}
	assert.Contains(t, prompt, "Checking: no monthly fees.")
}

func TestChat_EmptyInputIsBounded(t *testing.T) {
	llm := model.NewMockModel("mock")
	mesh := New(llm, func(o *Options) { o.MaxSteps = 5 })

	reply, err := mesh.Chat(context.Background(), runner.Request{UserID: "u", UserInput: "   "})
	require.NoError(t, err)

	assert.Equal(t, engine.PhaseBudgetExceeded, reply.Phase)
	assert.Equal(t, 5, reply.Steps)
	assert.Equal(t, engine.BudgetApology, reply.Message)
	assert.Empty(t, reply.Sources)
	assert.Empty(t, llm.Requests(), "empty input never reaches the model")
}

func TestChat_UnregisteredSearchRecovers(t *testing.T) {
	llm := model.NewMockModel("mock").
		AddResponse(searchSavings).
		AddResponse(`{"response_type": "handoff", "agents": [{"agent_name": "respond_to_human", "parameters": {"message_to_user": "Sorry, I could not search the web."}}]}`)

	mesh := New(llm)

	reply, err := mesh.Chat(context.Background(), runner.Request{UserID: "u", UserInput: "savings?"})
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I could not search the web.", reply.Message)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Messages[1].Content, "Unsupported tool: tavily_tool")
}
