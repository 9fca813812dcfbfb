package core

import "context"

// Well-known handler names. They are part of the instruction contract with
// the language model and must match the names used in prompts.
const (
	RouterName    = "welcome_user"
	SynthesisName = "answer_user"
	RespondName   = "respond_to_human"
	DocsToolName  = "extract_docs_tool"
	WebSearchName = "tavily_tool"
)

// Handler is a single agent or tool step. Handle appends exactly one entry to
// st.Log on success. Operational failures are recorded as a recovery handoff
// to the router; a returned error is fatal to the turn.
type Handler interface {
	Name() string
	Handle(ctx context.Context, st *State) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	name string
	fn   func(ctx context.Context, st *State) error
}

// NewHandlerFunc creates a named handler backed by fn.
func NewHandlerFunc(name string, fn func(ctx context.Context, st *State) error) *HandlerFunc {
	return &HandlerFunc{name: name, fn: fn}
}

// Name implements Handler.
func (h *HandlerFunc) Name() string { return h.name }

// Handle implements Handler.
func (h *HandlerFunc) Handle(ctx context.Context, st *State) error { return h.fn(ctx, st) }
