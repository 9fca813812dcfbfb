package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/handoff"
	"github.com/hupe1980/relaymesh/logging"
)

// Phase is the state of the dispatch loop.
type Phase string

// Loop phases.
const (
	PhaseRouting        Phase = "routing"
	PhaseToolDispatch   Phase = "tool_dispatch"
	PhaseAgentDispatch  Phase = "agent_dispatch"
	PhaseTerminal       Phase = "terminal"
	PhaseBudgetExceeded Phase = "budget_exceeded"
	PhaseIdle           Phase = "idle"
)

// DefaultMaxSteps bounds the loop iterations of one turn.
const DefaultMaxSteps = 20

// BudgetApology is the final answer of a turn that ran out of steps.
const BudgetApology = "I apologize, but I've taken too many steps to process your request. Please try rephrasing your question in a simpler way."

// Source is the handler name recorded on entries the engine appends itself.
const Source = "engine"

// ErrNoRouter is returned by Run when no router agent is registered.
var ErrNoRouter = errors.New("engine: no router registered")

// Options configures an Engine instance.
type Options struct {
	// MaxSteps is the number of loop iterations allowed after routing.
	// Defaults to DefaultMaxSteps; zero or negative means unlimited.
	MaxSteps int

	// Store persists the final state of terminal and budget-exceeded turns.
	// Persistence is skipped when nil.
	Store core.ConversationStore

	// Logger provides structured logging. Defaults to a no-op logger.
	Logger logging.Logger

	// NotifySteps registers a StatusCallback.
	NotifySteps bool
}

// Result describes how a Run ended.
type Result struct {
	Phase Phase `json:"phase"`
	Steps int   `json:"steps"`
}

// Engine resolves handler names to registered agents and tools and drives
// the dispatch loop. It is safe for concurrent use; every turn must bring
// its own State.
type Engine struct {
	store     core.ConversationStore
	logger    logging.Logger
	maxSteps  int
	callbacks *CallbackManager

	mu     sync.RWMutex
	agents map[string]core.Handler
	tools  map[string]core.Handler

	steps    metric.Int64Counter
	turns    metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxSteps: DefaultMaxSteps,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSteps < 0 {
		opts.MaxSteps = 0
	}

	e := &Engine{
		store:     opts.Store,
		logger:    logging.OrNoOp(opts.Logger),
		maxSteps:  opts.MaxSteps,
		callbacks: NewCallbackManager(),
		agents:    make(map[string]core.Handler),
		tools:     make(map[string]core.Handler),
	}

	var err error
	if e.steps, err = meter.Int64Counter("relaymesh.engine.steps",
		metric.WithDescription("Handlers dispatched by the engine")); err != nil {
		otel.Handle(err)
	}
	if e.turns, err = meter.Int64Counter("relaymesh.engine.turns",
		metric.WithDescription("Turns completed by phase")); err != nil {
		otel.Handle(err)
	}
	if e.duration, err = meter.Float64Histogram("relaymesh.engine.step.duration",
		metric.WithDescription("Handler execution time"), metric.WithUnit("s")); err != nil {
		otel.Handle(err)
	}

	if opts.NotifySteps {
		e.RegisterCallback(NewStatusCallback(e.logger))
	}

	return e
}

// RegisterAgent adds an agent under its name, replacing any previous one.
func (e *Engine) RegisterAgent(h core.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[h.Name()] = h
}

// RegisterTool adds a tool under its name, replacing any previous one.
func (e *Engine) RegisterTool(h core.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[h.Name()] = h
}

// Agent returns the agent registered under name.
func (e *Engine) Agent(name string) (core.Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.agents[name]
	return h, ok
}

// Tool returns the tool registered under name.
func (e *Engine) Tool(name string) (core.Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.tools[name]
	return h, ok
}

// RegisterCallback adds a lifecycle callback.
func (e *Engine) RegisterCallback(cb Callback) {
	e.callbacks.RegisterCallback(cb)
}

// Run drives one turn to completion. The returned error is non-nil only for
// fatal router failures, callback errors and persistence failures.
func (e *Engine) Run(ctx context.Context, st *core.State) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("session.id", st.SessionID),
		attribute.String("conversation.id", st.ConversationID()),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("engine.phase", string(res.Phase)),
			attribute.Int("engine.steps", res.Steps),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if e.turns != nil {
			e.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(res.Phase))))
		}
		if err == nil {
			err = e.callbacks.ExecuteCallbacks(ctx, CallbackOnComplete, &CallbackContext{State: st, Phase: res.Phase, Step: res.Steps})
		}
	}()

	router, ok := e.Agent(core.RouterName)
	if !ok {
		return Result{Phase: PhaseRouting}, ErrNoRouter
	}

	res.Phase = PhaseRouting
	if err := e.dispatch(ctx, st, router, res); err != nil {
		return res, err
	}

	budget := core.NewStepBudget(e.maxSteps)
	for {
		if err := budget.Increment(); err != nil {
			res.Phase = PhaseBudgetExceeded
			e.logger.Warn("engine.budget.exceeded", "conversation_id", st.ConversationID(), "steps", res.Steps)
			st.FinalAnswer = BudgetApology
			st.Sources = nil
			st.FollowUpQuestions = nil
			return res, e.persist(ctx, st)
		}
		res.Steps = budget.Count()

		latest, ok := st.Log.Latest()
		if !ok {
			res.Phase = PhaseIdle
			e.logger.Warn("engine.loop.empty_log", "conversation_id", st.ConversationID())
			return res, nil
		}

		switch p := latest.Payload.(type) {
		case *core.ToolCall:
			res.Phase = PhaseToolDispatch
			targets := targetsOf(p.Tools)
			if len(targets) == 0 {
				res.Phase = PhaseIdle
				e.logger.Warn("engine.loop.no_tools", "conversation_id", st.ConversationID())
				return res, nil
			}
			for _, target := range targets {
				h, ok := e.Tool(target)
				if !ok {
					e.logger.Warn("engine.tool.unsupported", "tool", target)
					handoff.ToRouter(st, Source, fmt.Sprintf("Unsupported tool: %s", target))
					continue
				}
				if err := e.dispatch(ctx, st, h, res); err != nil {
					return res, err
				}
			}

		case *core.Handoff:
			res.Phase = PhaseAgentDispatch
			targets := targetsOf(p.Agents)
			if len(targets) == 0 {
				res.Phase = PhaseIdle
				e.logger.Warn("engine.loop.no_agents", "conversation_id", st.ConversationID())
				return res, nil
			}
			for _, target := range targets {
				h, ok := e.Agent(target)
				if !ok {
					e.logger.Warn("engine.agent.unsupported", "agent", target)
					handoff.ToRouter(st, Source, fmt.Sprintf("Unsupported agent: %s", target))
					continue
				}
				if err := e.dispatch(ctx, st, h, res); err != nil {
					return res, err
				}
				if target == core.RespondName {
					res.Phase = PhaseTerminal
					return res, e.persist(ctx, st)
				}
			}

		default:
			res.Phase = PhaseIdle
			e.logger.Info("engine.loop.idle", "conversation_id", st.ConversationID(), "response_type", tagOf(latest.Payload))
			return res, nil
		}
	}
}

// dispatch runs one handler. Failures of non-router handlers are converted
// into recovery handoffs.
func (e *Engine) dispatch(ctx context.Context, st *core.State, h core.Handler, res Result) error {
	name := h.Name()
	cbCtx := &CallbackContext{State: st, Handler: name, Phase: res.Phase, Step: res.Steps}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeStep, cbCtx); err != nil {
		return fmt.Errorf("before_step callback for %s: %w", name, err)
	}

	ctx, span := tracer.Start(ctx, "engine.step "+name, trace.WithAttributes(
		attribute.String("handler", name),
		attribute.String("engine.phase", string(res.Phase)),
		attribute.Int("engine.step", res.Steps),
	))
	start := time.Now()
	err := e.invoke(ctx, st, h)
	dur := time.Since(start)

	attrs := metric.WithAttributes(attribute.String("handler", name), attribute.String("phase", string(res.Phase)))
	if e.steps != nil {
		e.steps.Add(ctx, 1, attrs)
	}
	if e.duration != nil {
		e.duration.Record(ctx, dur.Seconds(), attrs)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if tl, ok := e.logger.(*logging.TurnLogger); ok {
		tl.WithTurn(st.SessionID, st.ConversationID()).LogStep(name, res.Steps, dur, err)
	} else {
		e.logger.Debug("engine.step.dispatched", "handler", name, "phase", res.Phase, "step", res.Steps, "duration", dur)
	}

	cbCtx.Err = err
	if err != nil {
		if cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cbCtx); cbErr != nil {
			return fmt.Errorf("on_error callback for %s: %w", name, cbErr)
		}
	}
	if cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterStep, cbCtx); cbErr != nil {
		return fmt.Errorf("after_step callback for %s: %w", name, cbErr)
	}

	if err == nil {
		return nil
	}
	if name == core.RouterName || core.IsFatal(err) {
		e.logger.Error("engine.step.fatal", "handler", name, "error", err)
		var se *core.StepError
		if errors.As(err, &se) {
			return err
		}
		return core.Fatal(name, err)
	}

	e.logger.Warn("engine.step.recovered", "handler", name, "error", err)
	handoff.ToRouter(st, name, fmt.Sprintf("Error in %s: %v", name, err))
	return nil
}

// invoke calls the handler and turns a panic into an error.
func (e *Engine) invoke(ctx context.Context, st *core.State, h core.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine.step.panic", "handler", h.Name(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in %s: %v", h.Name(), r)
		}
	}()
	return h.Handle(ctx, st)
}

func (e *Engine) persist(ctx context.Context, st *core.State) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Save(ctx, st.Snapshot()); err != nil {
		e.logger.Error("engine.persist.failed", "conversation_id", st.ConversationID(), "error", err)
		return fmt.Errorf("persist conversation %s: %w", st.ConversationID(), err)
	}
	return nil
}

func targetsOf(list []core.Instruction) []string {
	out := make([]string, 0, len(list))
	for _, in := range list {
		out = append(out, in.Target)
	}
	return out
}

func tagOf(p core.Payload) string {
	if p == nil {
		return ""
	}
	return p.Tag()
}
