package core

import (
	"fmt"
	"strings"
	"time"
)

// Payload tags as they appear in the response_type field.
const (
	TagTerminal = "final_response"
	TagToolCall = "tool_call"
	TagHandoff  = "handoff"
)

// Payload is the outcome recorded by a step. Concrete payload types implement
// the unexported isPayload marker enabling a closed set.
type Payload interface {
	Tag() string
	isPayload()
}

// TerminalResponse is the final user-facing answer of a turn.
type TerminalResponse struct {
	Message           string
	Sources           []string
	FollowUpQuestions []string
}

// Tag implements Payload.
func (*TerminalResponse) Tag() string { return TagTerminal }
func (*TerminalResponse) isPayload()  {}

// ToolCall addresses one or more retrieval tools.
type ToolCall struct {
	Tools []Instruction
}

// Tag implements Payload.
func (*ToolCall) Tag() string { return TagToolCall }
func (*ToolCall) isPayload()  {}

// Handoff addresses one or more agents.
type Handoff struct {
	Agents []Instruction
}

// Tag implements Payload.
func (*Handoff) Tag() string { return TagHandoff }
func (*Handoff) isPayload()  {}

// Consumption marks an instruction as processed.
type Consumption struct {
	Timestamp  time.Time `json:"timestamp"`
	ConsumedBy string    `json:"consumed_by"`
}

// Instruction is a unit of addressed work embedded in a ToolCall or Handoff.
// Only the handler whose name equals Target may consume it, and at most once.
type Instruction struct {
	Target     string
	Parameters Params
	Consumed   *Consumption
}

// IsConsumed reports whether the instruction carries a consumed marker.
func (i *Instruction) IsConsumed() bool { return i.Consumed != nil }

// NewToolCall builds a ToolCall with a single instruction.
func NewToolCall(tool string, params Params) *ToolCall {
	return &ToolCall{Tools: []Instruction{{Target: tool, Parameters: params}}}
}

// NewHandoff builds a Handoff with a single instruction.
func NewHandoff(agent string, params Params) *Handoff {
	return &Handoff{Agents: []Instruction{{Target: agent, Parameters: params}}}
}

// Instructions returns pointers to the instructions carried by p, or nil for
// payloads that carry none. Mutating through the pointers updates p.
func Instructions(p Payload) []*Instruction {
	var list []Instruction
	switch v := p.(type) {
	case *ToolCall:
		if v == nil {
			return nil
		}
		list = v.Tools
	case *Handoff:
		if v == nil {
			return nil
		}
		list = v.Agents
	default:
		return nil
	}

	out := make([]*Instruction, len(list))
	for i := range list {
		out[i] = &list[i]
	}
	return out
}

// Params is the free-form parameter mapping of an instruction.
type Params map[string]any

// String returns the value under key if it is a string, otherwise "".
func (p Params) String(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// Strings returns the value under key as a string slice. Non-string items
// are dropped; a single string becomes a one-element slice.
func (p Params) Strings(key string) []string {
	if p == nil {
		return nil
	}
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// Map returns the value under key if it is an object, otherwise nil.
func (p Params) Map(key string) Params {
	if p == nil {
		return nil
	}
	switch v := p[key].(type) {
	case map[string]any:
		return Params(v)
	case Params:
		return v
	default:
		return nil
	}
}

// Has reports whether key is present with a non-empty value.
func (p Params) Has(key string) bool {
	if p == nil {
		return false
	}
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case Params:
		return len(t) > 0
	case []map[string]any:
		return len(t) > 0
	}
	return true
}

// Clone returns a shallow copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
