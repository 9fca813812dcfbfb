package agent

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/handoff"
	"github.com/hupe1980/relaymesh/internal/util"
	"github.com/hupe1980/relaymesh/logging"
	"github.com/hupe1980/relaymesh/model"
	"github.com/hupe1980/relaymesh/parser"
)

//go:embed prompts/router.tmpl
var routerTemplate string

// DefaultAssistant names the assistant in prompts when no persona is set.
const DefaultAssistant = "a product information assistant"

const (
	routerSystem   = "You are an autonomous AI assistant. Make independent decisions about query handling."
	routerReminder = "Always respond in the specified JSON format. Prioritize internal documentation for product queries. Include sources in message_to_user."
)

// RouterOptions configures the router agent.
type RouterOptions struct {
	Logger logging.Logger

	// Assistant describes who the assistant is; it is rendered into the prompt.
	Assistant string

	// System overrides the leading system message.
	System Instruction
}

// Router is the entry point of every turn and the target of every recovery
// handoff. It asks the model which tool or agent should act next.
type Router struct {
	BaseAgent
	assistant string
	system    Instruction
	tmpl      *template.Template
}

// NewRouter creates the welcome_user agent.
func NewRouter(llm model.Model, optFns ...func(o *RouterOptions)) *Router {
	opts := RouterOptions{Assistant: DefaultAssistant}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		BaseAgent: NewBaseAgent(core.RouterName, "Triages the user input and decides the next step.", llm, opts.Logger),
		assistant: opts.Assistant,
		system:    opts.System.or(routerSystem),
		tmpl:      template.Must(util.Parse("router", routerTemplate)),
	}
}

type routerPrompt struct {
	Assistant     string
	UserInput     string
	History       []core.Turn
	PastHistory   []core.Turn
	AvailableDocs bool
	Recovery      string
	Formats       string
}

// Handle implements core.Handler. Model and parse failures are fatal.
func (r *Router) Handle(ctx context.Context, st *core.State) error {
	var recovery string
	if p, ok := handoff.Latest(st.Log, r.Name()); ok {
		recovery = fmt.Sprintf("Previous Attempt: %s\nError Context: %s", p.String("previous_attempt"), p.String("context"))
		handoff.MarkConsumed(st.Log, r.Name())
	}

	if strings.TrimSpace(st.UserInput) == "" {
		handoff.ToRouter(st, r.Name(), "No user input provided")
		return nil
	}

	formats, err := routerFormats()
	if err != nil {
		return core.Fatal(r.Name(), err)
	}

	prompt, err := util.Execute(r.tmpl, routerPrompt{
		Assistant:     r.assistant,
		UserInput:     st.UserInput,
		History:       st.History(),
		PastHistory:   st.PastHistory,
		AvailableDocs: st.AvailableDocs,
		Recovery:      recovery,
		Formats:       formats,
	})
	if err != nil {
		return core.Fatal(r.Name(), fmt.Errorf("render prompt: %w", err))
	}

	system, err := r.system.Resolve(st)
	if err != nil {
		return core.Fatal(r.Name(), fmt.Errorf("resolve instruction: %w", err))
	}

	text, err := r.complete(ctx, st, []model.Message{
		model.System(system),
		model.User(prompt),
		model.System(routerReminder),
	})
	if err != nil {
		return core.Fatal(r.Name(), err)
	}

	payload, err := parser.Parse(text)
	if err != nil {
		r.logger.Error("agent.router.parse_failed", "error", err, "response", text)
		return core.Fatal(r.Name(), fmt.Errorf("parse model response: %w", err))
	}

	e := st.Emit(r.Name(), payload)
	r.logger.Info("agent.router.decided", "response_type", payload.Tag(), "response_id", e.ResponseID)
	return nil
}
