package parser

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hupe1980/relaymesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EmbeddedObject(t *testing.T) {
	p, err := Parse("Here is the result:\n{\"response_type\": \"handoff\", \"agents\": []}\nThanks!")
	require.NoError(t, err)

	h, ok := p.(*core.Handoff)
	require.True(t, ok, "expected handoff, got %T", p)
	assert.Empty(t, h.Agents)
}

func TestParse_NoStructure(t *testing.T) {
	for _, text := range []string{"", "just words", "{ not json }", `{"other": 1}`} {
		_, err := Parse(text)
		assert.ErrorIs(t, err, ErrNoStructure, "input %q", text)
	}
}

func TestParse_WholeTextToolCall(t *testing.T) {
	text := `{"response_type": "tool_call", "tools": [{"tool": "tavily_tool", "parameters": {"query": "benefits of savings account"}}]}`

	p, err := Parse(text)
	require.NoError(t, err)

	want := &core.ToolCall{Tools: []core.Instruction{{
		Target:     core.WebSearchName,
		Parameters: core.Params{"query": "benefits of savings account"},
	}}}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_LineBreaksInsideStrings(t *testing.T) {
	text := "Sure!\n```json\n{\"response_type\": \"handoff\", \"agents\": [{\"agent_name\": \"respond_to_human\", \"parameters\": {\"message_to_user\": \"Hello\nthere\", \"sources\": [\"a\"]}}]}\n```"

	p, err := Parse(text)
	require.NoError(t, err)

	h := p.(*core.Handoff)
	require.Len(t, h.Agents, 1)
	assert.Equal(t, core.RespondName, h.Agents[0].Target)
	assert.Equal(t, "Hello\nthere", h.Agents[0].Parameters.String("message_to_user"))
}

func TestParse_ControlCharacters(t *testing.T) {
	p, err := Parse("\x00\x07{\"response_type\": \"final_response\", \"message\": \"hi\x01\"}")
	require.NoError(t, err)

	tr := p.(*core.TerminalResponse)
	assert.Equal(t, "hi", tr.Message)
}

func TestParse_SkipsUnacceptableCandidates(t *testing.T) {
	text := `first {"note": "ignored"} then {"response_type": "handoff", "agents": [{"agent": "answer_user", "parameters": {"query": "q"}}]}`

	p, err := Parse(text)
	require.NoError(t, err)

	h := p.(*core.Handoff)
	require.Len(t, h.Agents, 1)
	assert.Equal(t, core.SynthesisName, h.Agents[0].Target)
}

func TestParse_BareAgentObject(t *testing.T) {
	p, err := Parse(`{"agent_name": "welcome_user", "parameters": {"context": "retry"}}`)
	require.NoError(t, err)

	want := core.NewHandoff(core.RouterName, core.Params{"context": "retry"})
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_UnsupportedType(t *testing.T) {
	_, err := Parse(`{"response_type": "poem", "lines": []}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedPayload))
}

func TestDecode_KeyVariants(t *testing.T) {
	obj := map[string]any{
		"response_type": "handoff",
		"agents": []any{
			map[string]any{"agent": "answer_user"},
			map[string]any{"agent_name": "respond_to_human", "parameters": map[string]any{"message_to_user": "m"}},
			map[string]any{"target_name": "welcome_user"},
			"garbage",
		},
	}

	p, err := Decode(obj)
	require.NoError(t, err)

	h := p.(*core.Handoff)
	require.Len(t, h.Agents, 3)
	assert.Equal(t, []string{core.SynthesisName, core.RespondName, core.RouterName},
		[]string{h.Agents[0].Target, h.Agents[1].Target, h.Agents[2].Target})
	assert.NotNil(t, h.Agents[0].Parameters)
	for _, in := range h.Agents {
		assert.False(t, in.IsConsumed())
	}
}

func TestDecode_LegacySingleTool(t *testing.T) {
	p, err := Decode(map[string]any{
		"response_type": "tool_call",
		"tool":          "extract_docs_tool",
		"parameters":    map[string]any{"query": "q"},
	})
	require.NoError(t, err)

	tc := p.(*core.ToolCall)
	require.Len(t, tc.Tools, 1)
	assert.Equal(t, core.DocsToolName, tc.Tools[0].Target)
	assert.Equal(t, "q", tc.Tools[0].Parameters.String("query"))
}
