package testutil

import (
	"github.com/hupe1980/relaymesh/core"
)

// StateBuilder provides a fluent helper for constructing turn states in tests.
type StateBuilder struct {
	userID         string
	sessionID      string
	input          string
	conversationID string
	history        []core.Turn
	past           []core.Turn
	entries        []core.Entry
	availableDocs  bool
	sender         core.Sender
}

// NewStateBuilder creates a builder with user "user-test" and session "session-test".
func NewStateBuilder() *StateBuilder {
	return &StateBuilder{userID: "user-test", sessionID: "session-test", conversationID: "conv-test"}
}

// User sets the user ID (chainable).
func (b *StateBuilder) User(id string) *StateBuilder { b.userID = id; return b }

// Session sets the session ID (chainable).
func (b *StateBuilder) Session(id string) *StateBuilder { b.sessionID = id; return b }

// Input sets the user input (chainable).
func (b *StateBuilder) Input(s string) *StateBuilder { b.input = s; return b }

// Conversation sets the conversation ID (chainable).
func (b *StateBuilder) Conversation(id string) *StateBuilder { b.conversationID = id; return b }

// UserTurn appends a user turn to the history (chainable).
func (b *StateBuilder) UserTurn(content string) *StateBuilder {
	b.history = append(b.history, core.Turn{Role: core.RoleUser, Content: content})
	return b
}

// AssistantTurn appends an assistant turn to the history (chainable).
func (b *StateBuilder) AssistantTurn(content string) *StateBuilder {
	b.history = append(b.history, core.Turn{Role: core.RoleAssistant, Content: content})
	return b
}

// Past sets the past history (chainable).
func (b *StateBuilder) Past(turns ...core.Turn) *StateBuilder { b.past = turns; return b }

// Entries appends log entries (chainable).
func (b *StateBuilder) Entries(entries ...core.Entry) *StateBuilder {
	b.entries = append(b.entries, entries...)
	return b
}

// AvailableDocs marks internal documents as available (chainable).
func (b *StateBuilder) AvailableDocs() *StateBuilder { b.availableDocs = true; return b }

// Sender attaches a real-time sender (chainable).
func (b *StateBuilder) Sender(s core.Sender) *StateBuilder { b.sender = s; return b }

// Build constructs the core.State.
func (b *StateBuilder) Build() *core.State {
	st := core.NewState(b.userID, b.sessionID, b.input)
	_ = st.SetConversationID(b.conversationID)
	st.AppendHistory(b.history...)
	st.PastHistory = b.past
	st.AvailableDocs = b.availableDocs
	st.Sender = b.sender
	for _, e := range b.entries {
		st.Log.Append(e)
	}
	return st
}
