package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/relaymesh/agent"
	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/handoff"
	"github.com/hupe1980/relaymesh/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingStore struct {
	mu    sync.Mutex
	saved []core.Snapshot
	err   error
}

func (s *recordingStore) Save(_ context.Context, snap core.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, snap)
	return nil
}

func (s *recordingStore) Recent(context.Context, string, int) ([]core.Snapshot, error) {
	return nil, nil
}

func (s *recordingStore) Sessions(context.Context, string, int) ([]core.SessionSummary, error) {
	return nil, nil
}

func (s *recordingStore) Session(context.Context, string) (core.SessionSummary, error) {
	return core.SessionSummary{}, nil
}

type recordingSender struct {
	mu       sync.Mutex
	messages []StatusMessage
	err      error
}

func (s *recordingSender) Send(_ context.Context, _ string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var m StatusMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.messages = append(s.messages, m)
	return s.err
}

// scriptedRouter runs the i-th step function on the i-th invocation and the
// last one for every invocation after that.
func scriptedRouter(calls *int, steps ...func(st *core.State)) core.Handler {
	return core.NewHandlerFunc(core.RouterName, func(_ context.Context, st *core.State) error {
		i := *calls
		if i >= len(steps) {
			i = len(steps) - 1
		}
		*calls++
		steps[i](st)
		return nil
	})
}

func respondWith(message string) func(st *core.State) {
	return func(st *core.State) {
		st.Emit(core.RouterName, core.NewHandoff(core.RespondName, core.Params{
			"message_to_user": message,
			"sources":         []any{"src"},
		}))
	}
}

func newState(input string) *core.State {
	st := core.NewState("u1", "s1", input)
	_ = st.SetConversationID("u1_s1_20240101000000")
	return st
}

func TestRun_TerminalEndsLoop(t *testing.T) {
	store := &recordingStore{}
	e := New(func(o *Options) { o.Store = store })

	calls := 0
	e.RegisterAgent(scriptedRouter(&calls, func(st *core.State) {
		st.Emit(core.RouterName, &core.Handoff{Agents: []core.Instruction{
			{Target: core.RespondName, Parameters: core.Params{"message_to_user": "done"}},
			{Target: core.DocsToolName, Parameters: core.Params{"query": "x"}},
		}})
	}))
	e.RegisterAgent(agent.NewRespond())
	docsCalled := false
	never := core.NewHandlerFunc(core.DocsToolName, func(context.Context, *core.State) error {
		docsCalled = true
		return nil
	})
	e.RegisterAgent(never)
	e.RegisterTool(never)

	st := newState("hello")
	res, err := e.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, Result{Phase: PhaseTerminal, Steps: 1}, res)
	assert.False(t, docsCalled)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "done", st.FinalAnswer)

	latest, ok := st.Log.Latest()
	require.True(t, ok)
	assert.Equal(t, core.TagTerminal, latest.Payload.Tag())

	require.Len(t, store.saved, 1)
	assert.Equal(t, "done", store.saved[0].FinalAnswer)
	assert.Equal(t, st.Log.Len(), len(store.saved[0].Log))
}

func TestRun_BudgetEnforced(t *testing.T) {
	store := &recordingStore{}
	e := New(func(o *Options) { o.Store = store })

	calls := 0
	e.RegisterAgent(scriptedRouter(&calls, func(st *core.State) {
		handoff.ToRouter(st, core.RouterName, "try again")
	}))

	st := newState("loop forever")
	res, err := e.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, PhaseBudgetExceeded, res.Phase)
	assert.Equal(t, DefaultMaxSteps, res.Steps)
	assert.Equal(t, DefaultMaxSteps+1, calls)
	assert.Equal(t, BudgetApology, st.FinalAnswer)
	require.Len(t, store.saved, 1)
	assert.Equal(t, BudgetApology, store.saved[0].FinalAnswer)
}

func TestRun_EmptyInputIsBounded(t *testing.T) {
	llm := model.NewMockModel("unused")
	e := New(func(o *Options) { o.MaxSteps = 5 })
	e.RegisterAgent(agent.NewRouter(llm))

	st := newState("")
	res, err := e.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, PhaseBudgetExceeded, res.Phase)
	assert.Equal(t, 5, res.Steps)
	assert.Empty(t, llm.Requests())

	first := st.Log.Entries()[0]
	ins := core.Instructions(first.Payload)
	require.Len(t, ins, 1)
	assert.Equal(t, core.RouterName, ins[0].Target)
	assert.Equal(t, "No user input provided", ins[0].Parameters.String("context"))
}

func TestRun_UnknownTargetsRecover(t *testing.T) {
	for name, emit := range map[string]func(st *core.State){
		"tool": func(st *core.State) {
			st.Emit(core.RouterName, core.NewToolCall("calculator", core.Params{}))
		},
		"agent": func(st *core.State) {
			st.Emit(core.RouterName, core.NewHandoff("planner", core.Params{}))
		},
	} {
		t.Run(name, func(t *testing.T) {
			e := New()
			calls := 0
			var recovery core.Params
			e.RegisterAgent(scriptedRouter(&calls,
				emit,
				func(st *core.State) {
					recovery, _ = handoff.Latest(st.Log, core.RouterName)
					respondWith("fallback")(st)
				},
			))
			e.RegisterAgent(agent.NewRespond())

			st := newState("hello")
			res, err := e.Run(context.Background(), st)
			require.NoError(t, err)

			assert.Equal(t, PhaseTerminal, res.Phase)
			assert.Equal(t, 2, calls)
			assert.Contains(t, recovery.String("context"), "Unsupported "+name)
			assert.Equal(t, "Operation failed in engine", recovery.String("previous_attempt"))
			assert.Equal(t, "fallback", st.FinalAnswer)
		})
	}
}

func TestRun_Idle(t *testing.T) {
	for name, step := range map[string]func(st *core.State){
		"terminal payload": func(st *core.State) {
			st.Emit(core.RouterName, &core.TerminalResponse{Message: "hi"})
		},
		"empty handoff": func(st *core.State) {
			st.Emit(core.RouterName, &core.Handoff{})
		},
		"empty tool call": func(st *core.State) {
			st.Emit(core.RouterName, &core.ToolCall{})
		},
		"nothing": func(*core.State) {},
	} {
		t.Run(name, func(t *testing.T) {
			store := &recordingStore{}
			e := New(func(o *Options) { o.Store = store })
			calls := 0
			e.RegisterAgent(scriptedRouter(&calls, step))

			res, err := e.Run(context.Background(), newState("hello"))
			require.NoError(t, err)
			assert.Equal(t, PhaseIdle, res.Phase)
			assert.Empty(t, store.saved)
		})
	}
}

func TestRun_RouterFailureIsFatal(t *testing.T) {
	e := New()
	e.RegisterAgent(core.NewHandlerFunc(core.RouterName, func(context.Context, *core.State) error {
		return errors.New("parse failed")
	}))

	res, err := e.Run(context.Background(), newState("hello"))
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
	assert.Equal(t, PhaseRouting, res.Phase)
}

func TestRun_RouterPanicIsFatal(t *testing.T) {
	e := New()
	e.RegisterAgent(core.NewHandlerFunc(core.RouterName, func(context.Context, *core.State) error {
		panic("boom")
	}))

	_, err := e.Run(context.Background(), newState("hello"))
	assert.True(t, core.IsFatal(err))
}

func TestRun_ToolPanicRecovers(t *testing.T) {
	e := New()
	calls := 0
	var recovery core.Params
	e.RegisterAgent(scriptedRouter(&calls,
		func(st *core.State) {
			st.Emit(core.RouterName, core.NewToolCall(core.WebSearchName, core.Params{"query": "q"}))
		},
		func(st *core.State) {
			recovery, _ = handoff.Latest(st.Log, core.RouterName)
			respondWith("sorry")(st)
		},
	))
	e.RegisterAgent(agent.NewRespond())
	e.RegisterTool(core.NewHandlerFunc(core.WebSearchName, func(context.Context, *core.State) error {
		panic("nil map")
	}))

	res, err := e.Run(context.Background(), newState("hello"))
	require.NoError(t, err)
	assert.Equal(t, PhaseTerminal, res.Phase)
	assert.Contains(t, recovery.String("context"), "panic in tavily_tool")
}

func TestRun_NoRouter(t *testing.T) {
	_, err := New().Run(context.Background(), newState("hello"))
	assert.ErrorIs(t, err, ErrNoRouter)
}

func TestRun_PersistFailure(t *testing.T) {
	store := &recordingStore{err: errors.New("disk full")}
	e := New(func(o *Options) { o.Store = store })
	calls := 0
	e.RegisterAgent(scriptedRouter(&calls, respondWith("ok")))
	e.RegisterAgent(agent.NewRespond())

	res, err := e.Run(context.Background(), newState("hello"))
	require.Error(t, err)
	assert.Equal(t, PhaseTerminal, res.Phase)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRun_StatusNotifications(t *testing.T) {
	e := New(func(o *Options) { o.NotifySteps = true })
	calls := 0
	e.RegisterAgent(scriptedRouter(&calls, respondWith("ok")))
	e.RegisterAgent(agent.NewRespond())

	sender := &recordingSender{err: errors.New("connection closed")}
	st := newState("hello")
	st.Sender = sender

	res, err := e.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, PhaseTerminal, res.Phase)
	assert.Equal(t, []StatusMessage{
		{Type: "status", Step: core.RouterName},
		{Type: "status", Step: core.RespondName},
	}, sender.messages)
}

func TestRun_Callbacks(t *testing.T) {
	e := New()
	calls := 0
	e.RegisterAgent(scriptedRouter(&calls, respondWith("ok")))
	e.RegisterAgent(agent.NewRespond())

	var seen []string
	for _, typ := range []CallbackType{CallbackBeforeStep, CallbackAfterStep, CallbackOnComplete} {
		e.RegisterCallback(NewFunctionCallback(typ, func(_ context.Context, c *CallbackContext) error {
			seen = append(seen, string(typ)+":"+c.Handler)
			return nil
		}))
	}

	_, err := e.Run(context.Background(), newState("hello"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"before_step:welcome_user", "after_step:welcome_user",
		"before_step:respond_to_human", "after_step:respond_to_human",
		"on_complete:",
	}, seen)
}

func TestRun_CallbackErrorAborts(t *testing.T) {
	e := New()
	calls := 0
	e.RegisterAgent(scriptedRouter(&calls, respondWith("ok")))
	e.RegisterCallback(NewFunctionCallback(CallbackBeforeStep, func(context.Context, *CallbackContext) error {
		return errors.New("denied")
	}))

	_, err := e.Run(context.Background(), newState("hello"))
	require.Error(t, err)
	assert.Equal(t, 0, calls)
}
