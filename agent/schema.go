package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/relaymesh/internal/util"
)

// The shapes below only describe the wire format requested from the model.
// Decoding goes through the parser package.

type toolCallFormat struct {
	ResponseType string     `json:"response_type" jsonschema:"enum=tool_call"`
	Tools        []toolItem `json:"tools" jsonschema:"minItems=1"`
}

type toolItem struct {
	Tool       string         `json:"tool_name" jsonschema:"enum=extract_docs_tool,enum=tavily_tool"`
	Parameters map[string]any `json:"parameters"`
}

type handoffFormat struct {
	ResponseType string      `json:"response_type" jsonschema:"enum=handoff"`
	Agents       []agentItem `json:"agents" jsonschema:"minItems=1"`
}

type agentItem struct {
	AgentName  string         `json:"agent_name" jsonschema:"enum=welcome_user,enum=answer_user,enum=respond_to_human"`
	Parameters map[string]any `json:"parameters"`
}

type docsParameters struct {
	Query                 string   `json:"query" jsonschema:"description=Specific search query"`
	RelevantDocs          []string `json:"relevant_docs,omitempty" jsonschema:"description=Optional document names to read"`
	ComprehensiveQuestion string   `json:"comprehensive_question,omitempty" jsonschema:"description=Expanded version of the query"`
}

type webSearchParameters struct {
	Query string `json:"query" jsonschema:"description=Refined web search query that the results can answer"`
}

type answerParameters struct {
	Query                 string `json:"query" jsonschema:"description=Original or refined query"`
	Context               string `json:"context,omitempty" jsonschema:"description=Why the handoff is made"`
	ComprehensiveQuestion string `json:"comprehensive_question,omitempty"`
}

type respondParameters struct {
	MessageToUser     string   `json:"message_to_user" jsonschema:"description=Markdown message shown to the user"`
	Sources           []string `json:"sources,omitempty" jsonschema:"description=Exact URLs or document names used"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty" jsonschema:"description=Two or three suggested follow-up questions"`
}

type recoveryParameters struct {
	OriginalQuery   string `json:"original_query"`
	Context         string `json:"context" jsonschema:"description=Why no answer could be given"`
	PreviousAttempt string `json:"previous_attempt" jsonschema:"description=What was tried"`
}

type format struct {
	title  string
	schema any
}

func renderFormats(formats ...format) (string, error) {
	var b strings.Builder
	for _, f := range formats {
		s, err := util.SchemaJSON(f.schema)
		if err != nil {
			return "", fmt.Errorf("schema %s: %w", f.title, err)
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", f.title, s)
	}
	return strings.TrimSpace(b.String()), nil
}

var routerFormats = sync.OnceValues(func() (string, error) {
	return renderFormats(
		format{"Tool call envelope", toolCallFormat{}},
		format{"Handoff envelope", handoffFormat{}},
		format{"extract_docs_tool parameters", docsParameters{}},
		format{"tavily_tool parameters", webSearchParameters{}},
		format{"answer_user parameters", answerParameters{}},
		format{"respond_to_human parameters", respondParameters{}},
	)
})

var synthesisFormats = sync.OnceValues(func() (string, error) {
	return renderFormats(
		format{"Handoff envelope", handoffFormat{}},
		format{"respond_to_human parameters", respondParameters{}},
		format{"welcome_user parameters", recoveryParameters{}},
	)
})
