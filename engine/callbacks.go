package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/logging"
)

// CallbackType defines the lifecycle points where callbacks are executed.
//
// Callbacks are executed synchronously. An error returned from a callback
// terminates the turn.
type CallbackType string

const (
	// CallbackBeforeStep is triggered before a handler is dispatched.
	CallbackBeforeStep CallbackType = "before_step"

	// CallbackAfterStep is triggered after a handler returned.
	CallbackAfterStep CallbackType = "after_step"

	// CallbackOnError is triggered when a handler failed or panicked.
	CallbackOnError CallbackType = "on_error"

	// CallbackOnComplete is triggered once when the loop has stopped.
	CallbackOnComplete CallbackType = "on_complete"
)

// CallbackContext carries the information available to a callback.
type CallbackContext struct {
	// State is the turn being processed.
	State *core.State

	// Handler is the name of the dispatched handler. Empty for on_complete.
	Handler string

	// Phase is the loop phase at the time of the callback.
	Phase Phase

	// Step is the current loop iteration; 0 while routing.
	Step int

	// Err is the handler failure for after_step and on_error callbacks.
	Err error
}

// Callback defines the interface for engine callbacks.
type Callback interface {
	// Type returns the callback type this callback handles.
	Type() CallbackType

	// Execute runs the callback logic.
	Execute(ctx context.Context, cbCtx *CallbackContext) error
}

// FunctionCallback wraps a function to implement the Callback interface.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cbCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback from a function.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, cbCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	return c.fn(ctx, cbCtx)
}

// CallbackManager holds registered callbacks grouped by type.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback. Callbacks of one type run in
// registration order.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	t := callback.Type()
	cm.callbacks[t] = append(cm.callbacks[t], callback)
}

// ExecuteCallbacks runs all callbacks of the given type and stops at the
// first error.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, t CallbackType, cbCtx *CallbackContext) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[t]...)
	cm.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb.Execute(ctx, cbCtx); err != nil {
			return err
		}
	}
	return nil
}

// StatusMessage is the progress notification pushed before each step.
type StatusMessage struct {
	Type string `json:"type"`
	Step string `json:"step"`
}

// StatusCallback sends a status notification through the state's Sender
// before every step. Delivery is best effort; failures are logged and dropped.
type StatusCallback struct {
	logger logging.Logger
}

// NewStatusCallback creates a before_step callback that reports progress.
func NewStatusCallback(logger logging.Logger) *StatusCallback {
	return &StatusCallback{logger: logging.OrNoOp(logger)}
}

// Type implements Callback.
func (c *StatusCallback) Type() CallbackType { return CallbackBeforeStep }

// Execute implements Callback.
func (c *StatusCallback) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	if cbCtx.State == nil || cbCtx.State.Sender == nil {
		return nil
	}
	data, err := json.Marshal(StatusMessage{Type: "status", Step: cbCtx.Handler})
	if err != nil {
		return nil
	}
	if err := cbCtx.State.Deliver(ctx, data); err != nil {
		c.logger.Debug("engine.status.dropped", "session_id", cbCtx.State.SessionID, "error", err)
	}
	return nil
}
