// Package relaymesh provides a high-level façade over the dispatch engine,
// the turn runner and the default handler set of a retrieval chat assistant.
// Most applications interact with this package by:
//  1. Creating a RelayMesh via New() with an instruction generator
//  2. Optionally supplying documents, a web searcher and a durable store
//  3. Running turns synchronously via Chat
//
// The façade registers the router, synthesis and respond agents and the
// document and web search tools on a fresh engine. All defaults are safe for
// local development and testing; production deployments typically supply a
// sqlite store and a structured logger.
package relaymesh

import (
	"context"

	"github.com/hupe1980/relaymesh/agent"
	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/engine"
	"github.com/hupe1980/relaymesh/logging"
	"github.com/hupe1980/relaymesh/model"
	"github.com/hupe1980/relaymesh/runner"
	"github.com/hupe1980/relaymesh/session"
	"github.com/hupe1980/relaymesh/store"
	"github.com/hupe1980/relaymesh/tool"
)

// Options configures the RelayMesh instance.
type Options struct {
	// Documents is the internal knowledge base. Without it the document tool
	// reports every lookup as failed and the router falls back to the web.
	Documents core.DocumentStore

	// Searcher backs the web search tool. Without it the tool is not registered
	// and instructions targeting it are answered with a recovery handoff.
	Searcher tool.Searcher

	// Store persists terminal turns (defaults to store.NewMemory()).
	Store core.ConversationStore

	// Sender delivers status and reply messages to live connections.
	Sender core.Sender

	// Sessions overrides the live session registry.
	Sessions *session.Registry

	// MaxSteps bounds the dispatch loop (defaults to engine.DefaultMaxSteps).
	MaxSteps int

	// NotifySteps sends a status message before each step.
	NotifySteps bool

	// Assistant describes the assistant persona in the router prompt.
	Assistant string

	// MaxResults and IncludeDomains tune the web search tool.
	MaxResults     int
	IncludeDomains []string

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// RelayMesh is the high-level façade aggregating the engine and runner.
type RelayMesh struct {
	opts   Options
	engine *engine.Engine
	runner *runner.Runner
}

// New creates a RelayMesh backed by llm. Any unset store is initialized with
// an in-memory implementation.
func New(llm model.Model, optFns ...func(o *Options)) *RelayMesh {
	opts := Options{
		MaxSteps: engine.DefaultMaxSteps,
		Store:    store.NewMemory(),
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := engine.New(func(o *engine.Options) {
		o.MaxSteps = opts.MaxSteps
		o.Store = opts.Store
		o.Logger = opts.Logger
		o.NotifySteps = opts.NotifySteps
	})

	e.RegisterAgent(agent.NewRouter(llm, func(o *agent.RouterOptions) {
		o.Logger = opts.Logger
		if opts.Assistant != "" {
			o.Assistant = opts.Assistant
		}
	}))
	e.RegisterAgent(agent.NewSynthesis(llm, func(o *agent.SynthesisOptions) {
		o.Logger = opts.Logger
		o.Documents = opts.Documents
		if opts.Assistant != "" {
			o.Assistant = opts.Assistant
		}
	}))
	e.RegisterAgent(agent.NewRespond(func(o *agent.RespondOptions) {
		o.Logger = opts.Logger
	}))

	e.RegisterTool(tool.NewDocs(opts.Documents, func(o *tool.DocsOptions) {
		o.Logger = opts.Logger
	}))
	if opts.Searcher != nil {
		e.RegisterTool(tool.NewWebSearch(opts.Searcher, func(o *tool.WebSearchOptions) {
			o.Logger = opts.Logger
			o.MaxResults = opts.MaxResults
			o.IncludeDomains = opts.IncludeDomains
		}))
	}

	r := runner.New(e, func(o *runner.Options) {
		o.Sessions = opts.Sessions
		o.Store = opts.Store
		o.Documents = opts.Documents
		o.Sender = opts.Sender
		o.Logger = opts.Logger
	})

	return &RelayMesh{opts: opts, engine: e, runner: r}
}

// Chat runs one turn to completion.
func (m *RelayMesh) Chat(ctx context.Context, req runner.Request) (runner.Reply, error) {
	return m.runner.Run(ctx, req)
}

// Engine returns the underlying dispatch engine, e.g. to register callbacks
// or replace handlers.
func (m *RelayMesh) Engine() *engine.Engine { return m.engine }

// Runner returns the turn runner.
func (m *RelayMesh) Runner() *runner.Runner { return m.runner }

// Store returns the durable conversation store.
func (m *RelayMesh) Store() core.ConversationStore { return m.opts.Store }
