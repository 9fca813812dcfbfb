package agent

import (
	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from turn state, environment, etc.
type Provider interface {
	Instruction(*core.State) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(*core.State) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(st *core.State) (string, error) { return f(st) }

// Instruction represents either a static instruction string or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.State) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether neither text nor provider is set.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the instruction text, invoking the provider if needed.
// Static text may reference state fields, e.g. {{.UserID}}.
func (i Instruction) Resolve(st *core.State) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(st)
	}
	return util.RenderTemplate(i.text, st)
}

// or returns i unless it is zero, in which case fallback is returned.
func (i Instruction) or(fallback string) Instruction {
	if i.IsZero() {
		return NewInstructionFromText(fallback)
	}
	return i
}
