// Package tool implements the retrieval steps the router can call: internal
// document lookup and web search. Tools never talk to the user. They either
// hand the retrieved material to the synthesis agent or hand a diagnostic
// context back to the router.
package tool

import (
	"fmt"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/handoff"
	"github.com/hupe1980/relaymesh/logging"
)

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Recovery context handed to the router
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	Err     error  `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// fail logs terr and records it as a recovery handoff to the router.
func fail(st *core.State, logger logging.Logger, terr *ToolError) {
	args := []any{"tool", terr.Tool, "code", terr.Code, "context", terr.Message}
	if terr.Err != nil {
		args = append(args, "error", terr.Err)
	}
	logger.Warn("tool.failed", args...)
	handoff.ToRouter(st, terr.Tool, terr.Message)
}
