package testutil

import (
	"time"

	"github.com/hupe1980/relaymesh/core"
)

// EntryBuilder provides a fluent helper for constructing log entries in tests.
// Example:
//
//	e := NewEntryBuilder().Handler(core.RouterName).ToolCall(core.WebSearchName, core.Params{"query": "q"}).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EntryBuilder struct {
	handler        string
	conversationID string
	timestamp      time.Time
	payload        core.Payload
	consumedBy     string
}

// NewEntryBuilder creates a builder with default handler core.RouterName.
func NewEntryBuilder() *EntryBuilder {
	return &EntryBuilder{handler: core.RouterName, conversationID: "conv-test"}
}

// Handler sets the producing handler (chainable).
func (b *EntryBuilder) Handler(h string) *EntryBuilder { b.handler = h; return b }

// Conversation sets the conversation ID (chainable).
func (b *EntryBuilder) Conversation(id string) *EntryBuilder { b.conversationID = id; return b }

// At fixes the entry timestamp (chainable).
func (b *EntryBuilder) At(ts time.Time) *EntryBuilder { b.timestamp = ts; return b }

// ToolCall appends a tool instruction, turning the payload into a ToolCall (chainable).
func (b *EntryBuilder) ToolCall(target string, params core.Params) *EntryBuilder {
	tc, ok := b.payload.(*core.ToolCall)
	if !ok {
		tc = &core.ToolCall{}
		b.payload = tc
	}
	tc.Tools = append(tc.Tools, core.Instruction{Target: target, Parameters: params})
	return b
}

// Handoff appends an agent instruction, turning the payload into a Handoff (chainable).
func (b *EntryBuilder) Handoff(target string, params core.Params) *EntryBuilder {
	h, ok := b.payload.(*core.Handoff)
	if !ok {
		h = &core.Handoff{}
		b.payload = h
	}
	h.Agents = append(h.Agents, core.Instruction{Target: target, Parameters: params})
	return b
}

// Terminal sets a TerminalResponse payload (chainable).
func (b *EntryBuilder) Terminal(message string, sources ...string) *EntryBuilder {
	b.payload = &core.TerminalResponse{Message: message, Sources: sources}
	return b
}

// Consumed marks every instruction as consumed by handler (chainable).
func (b *EntryBuilder) Consumed(by string) *EntryBuilder { b.consumedBy = by; return b }

// Build constructs the core.Entry value.
func (b *EntryBuilder) Build() core.Entry {
	p := b.payload
	if p == nil {
		p = &core.TerminalResponse{}
	}
	e := core.NewEntry(b.handler, b.conversationID, p)
	if !b.timestamp.IsZero() {
		e.Timestamp = b.timestamp
	}
	if b.consumedBy != "" {
		for _, in := range core.Instructions(p) {
			in.Consumed = &core.Consumption{Timestamp: e.Timestamp, ConsumedBy: b.consumedBy}
		}
	}
	return e
}
