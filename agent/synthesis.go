package agent

import (
	"context"
	_ "embed"
	"fmt"
	"path"
	"text/template"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/handoff"
	"github.com/hupe1980/relaymesh/internal/util"
	"github.com/hupe1980/relaymesh/logging"
	"github.com/hupe1980/relaymesh/model"
	"github.com/hupe1980/relaymesh/parser"
)

//go:embed prompts/synthesis.tmpl
var synthesisTemplate string

const (
	synthesisSystem   = "You are a dedicated product information assistant. Read from all available sources to provide accurate information."
	synthesisReminder = "Please provide your response in the specified JSON format."
)

// DefaultDocumentExtensions are loaded when a handoff references the document
// directory without naming specific files.
var DefaultDocumentExtensions = []string{".txt", ".md", ".json"}

// SynthesisOptions configures the synthesis agent.
type SynthesisOptions struct {
	Logger    logging.Logger
	Assistant string
	System    Instruction

	// Documents is read for referenced files. Without it only the document
	// locations are passed to the model.
	Documents core.DocumentStore

	// Extensions restricts which documents are loaded when none are named.
	Extensions []string
}

// Synthesis composes retrieved material into a candidate answer. Its failures
// are routed back to the router.
type Synthesis struct {
	BaseAgent
	assistant  string
	system     Instruction
	documents  core.DocumentStore
	extensions []string
	tmpl       *template.Template
}

// NewSynthesis creates the answer_user agent.
func NewSynthesis(llm model.Model, optFns ...func(o *SynthesisOptions)) *Synthesis {
	opts := SynthesisOptions{
		Assistant:  DefaultAssistant,
		Extensions: DefaultDocumentExtensions,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Synthesis{
		BaseAgent:  NewBaseAgent(core.SynthesisName, "Crafts detailed answers from documents and web results.", llm, opts.Logger),
		assistant:  opts.Assistant,
		system:     opts.System.or(synthesisSystem),
		documents:  opts.Documents,
		extensions: opts.Extensions,
		tmpl:       template.Must(util.Parse("synthesis", synthesisTemplate)),
	}
}

type synthesisPrompt struct {
	Assistant          string
	DocsPath           string
	SpecificFiles      []string
	Documents          map[string]string
	WebResults         any
	UserInput          string
	ComprehensiveQuery string
	History            []core.Turn
	Formats            string
}

// Handle implements core.Handler.
func (s *Synthesis) Handle(ctx context.Context, st *core.State) error {
	params, ok := handoff.Latest(st.Log, s.Name())
	if !ok {
		handoff.ToRouter(st, s.Name(), "No content provided")
		return nil
	}

	docPaths := params.Map("doc_paths")
	if !params.Has("content") && docPaths == nil {
		handoff.MarkConsumed(st.Log, s.Name())
		handoff.ToRouter(st, s.Name(), "No relevant information found")
		return nil
	}

	handoff.MarkConsumed(st.Log, s.Name())

	data := synthesisPrompt{
		Assistant:          s.assistant,
		UserInput:          st.UserInput,
		ComprehensiveQuery: params.String("comprehensive_question"),
		History:            st.History(),
	}
	if data.ComprehensiveQuery == "" {
		data.ComprehensiveQuery = params.String("query")
	}
	if params.Has("content") {
		data.WebResults = params["content"]
	}
	if docPaths != nil {
		data.DocsPath = docPaths.String("docs_path")
		if data.DocsPath == "" {
			data.DocsPath = "."
		}
		data.SpecificFiles = docPaths.Strings("specific_files")
		data.Documents = s.load(ctx, data.SpecificFiles)
	}

	payload, err := s.generate(ctx, st, data)
	if err != nil {
		s.logger.Warn("agent.synthesis.failed", "error", err)
		handoff.ToRouter(st, s.Name(), fmt.Sprintf("Error crafting response: %v", err))
		return nil
	}

	st.Emit(s.Name(), payload)
	return nil
}

func (s *Synthesis) generate(ctx context.Context, st *core.State, data synthesisPrompt) (core.Payload, error) {
	formats, err := synthesisFormats()
	if err != nil {
		return nil, err
	}
	data.Formats = formats

	prompt, err := util.Execute(s.tmpl, data)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	system, err := s.system.Resolve(st)
	if err != nil {
		return nil, fmt.Errorf("resolve instruction: %w", err)
	}

	text, err := s.complete(ctx, st, []model.Message{
		model.System(system),
		model.User(prompt),
		model.System(synthesisReminder),
	})
	if err != nil {
		return nil, err
	}

	payload, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	return answerPayload(payload)
}

// answerPayload restricts the model output to a handoff to respond_to_human
// or welcome_user. A bare final response is delivered through
// respond_to_human so the turn still ends in terminal delivery.
func answerPayload(p core.Payload) (core.Payload, error) {
	switch v := p.(type) {
	case *core.TerminalResponse:
		if v.Message == "" {
			return nil, fmt.Errorf("final response without message")
		}
		return core.NewHandoff(core.RespondName, core.Params{
			"message_to_user":     v.Message,
			"sources":             v.Sources,
			"follow_up_questions": v.FollowUpQuestions,
		}), nil
	case *core.Handoff:
		if len(v.Agents) == 0 {
			return nil, fmt.Errorf("handoff without agents")
		}
		for _, in := range v.Agents {
			if in.Target != core.RespondName && in.Target != core.RouterName {
				return nil, fmt.Errorf("unexpected handoff target %q", in.Target)
			}
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected %s payload", p.Tag())
	}
}

// load reads the named documents, or every document with an accepted
// extension when names is empty. Unreadable documents are skipped.
func (s *Synthesis) load(ctx context.Context, names []string) map[string]string {
	if s.documents == nil {
		return nil
	}

	if len(names) == 0 {
		all, err := s.documents.List(ctx)
		if err != nil {
			s.logger.Warn("agent.synthesis.list_documents", "location", s.documents.Location(), "error", err)
			return nil
		}
		for _, n := range all {
			if s.accepts(n) {
				names = append(names, n)
			}
		}
	}

	out := make(map[string]string, len(names))
	for _, n := range names {
		b, err := s.documents.Read(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				return out
			}
			s.logger.Warn("agent.synthesis.read_document", "document", n, "error", err)
			continue
		}
		out[n] = string(b)
	}
	if len(out) == 0 {
		s.logger.Warn("agent.synthesis.no_documents", "location", s.documents.Location())
	}
	return out
}

func (s *Synthesis) accepts(name string) bool {
	ext := path.Ext(name)
	for _, e := range s.extensions {
		if ext == e {
			return true
		}
	}
	return false
}
