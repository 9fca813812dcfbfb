package core

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RoleSystemStep is the role of every event log entry.
const RoleSystemStep = "system_step"

// Entry is one record of a step's execution. After it is appended it should be
// treated as immutable, except for the consumed marker of its instructions.
type Entry struct {
	Role           string
	Handler        string
	ConversationID string
	Timestamp      time.Time
	ResponseID     string
	Payload        Payload
}

// NewEntry creates an entry produced by handler for the given conversation.
func NewEntry(handler, conversationID string, p Payload) Entry {
	return Entry{
		Role:           RoleSystemStep,
		Handler:        handler,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
		ResponseID:     NewID(),
		Payload:        p,
	}
}

// NewID returns a random identifier.
func NewID() string {
	return uuid.NewString()
}

// EventLog is an ordered, append-only sequence of entries. Read methods are
// safe on a nil receiver, which behaves like an empty log.
type EventLog struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewEventLog returns a log seeded with entries.
func NewEventLog(entries ...Entry) *EventLog {
	return &EventLog{entries: append([]Entry(nil), entries...)}
}

// Append adds an entry at the tail.
func (l *EventLog) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Latest returns the most recently appended entry.
func (l *EventLog) Latest() (Entry, bool) {
	if l == nil {
		return Entry{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Len returns the number of entries.
func (l *EventLog) Len() int {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the entry slice. Payloads are shared.
func (l *EventLog) Entries() []Entry {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// View calls fn with the entries under a read lock. fn must not retain the slice.
func (l *EventLog) View(fn func(entries []Entry)) {
	if l == nil {
		fn(nil)
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn(l.entries)
}

// Update calls fn with the entries under the write lock. fn may change the
// consumed markers of instructions but must not reorder or drop entries.
func (l *EventLog) Update(fn func(entries []Entry)) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.entries)
}

// MarshalJSON encodes the log as a JSON array of entries.
func (l *EventLog) MarshalJSON() ([]byte, error) {
	entries := l.Entries()
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(entries)
}

// UnmarshalJSON decodes a JSON array of entries.
func (l *EventLog) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
	return nil
}

type wireInstruction struct {
	Tool       string       `json:"tool_name,omitempty"`
	Agent      string       `json:"agent_name,omitempty"`
	Parameters Params       `json:"parameters"`
	Consumed   *Consumption `json:"consumed,omitempty"`
}

type wirePayload struct {
	ResponseType      string            `json:"response_type"`
	Message           string            `json:"message,omitempty"`
	Sources           []string          `json:"sources,omitempty"`
	FollowUpQuestions []string          `json:"follow_up_questions,omitempty"`
	Tools             []wireInstruction `json:"tools,omitempty"`
	Agents            []wireInstruction `json:"agents,omitempty"`
}

type wireEntry struct {
	Role           string       `json:"role"`
	Handler        string       `json:"node"`
	ConversationID string       `json:"conversation_id"`
	Timestamp      time.Time    `json:"timestamp"`
	ResponseID     string       `json:"response_id"`
	Content        *wirePayload `json:"content,omitempty"`
}

// MarshalJSON encodes the entry with its payload tagged by response_type.
func (e Entry) MarshalJSON() ([]byte, error) {
	w := wireEntry{
		Role:           e.Role,
		Handler:        e.Handler,
		ConversationID: e.ConversationID,
		Timestamp:      e.Timestamp,
		ResponseID:     e.ResponseID,
	}

	switch p := e.Payload.(type) {
	case nil:
	case *TerminalResponse:
		w.Content = &wirePayload{
			ResponseType:      TagTerminal,
			Message:           p.Message,
			Sources:           p.Sources,
			FollowUpQuestions: p.FollowUpQuestions,
		}
	case *ToolCall:
		w.Content = &wirePayload{ResponseType: TagToolCall, Tools: make([]wireInstruction, 0, len(p.Tools))}
		for _, in := range p.Tools {
			w.Content.Tools = append(w.Content.Tools, wireInstruction{Tool: in.Target, Parameters: in.Parameters, Consumed: in.Consumed})
		}
	case *Handoff:
		w.Content = &wirePayload{ResponseType: TagHandoff, Agents: make([]wireInstruction, 0, len(p.Agents))}
		for _, in := range p.Agents {
			w.Content.Agents = append(w.Content.Agents, wireInstruction{Agent: in.Target, Parameters: in.Parameters, Consumed: in.Consumed})
		}
	default:
		return nil, fmt.Errorf("unsupported payload type %T", p)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes an entry produced by MarshalJSON.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = Entry{
		Role:           w.Role,
		Handler:        w.Handler,
		ConversationID: w.ConversationID,
		Timestamp:      w.Timestamp,
		ResponseID:     w.ResponseID,
	}
	if w.Content == nil {
		return nil
	}

	switch w.Content.ResponseType {
	case TagTerminal:
		e.Payload = &TerminalResponse{
			Message:           w.Content.Message,
			Sources:           w.Content.Sources,
			FollowUpQuestions: w.Content.FollowUpQuestions,
		}
	case TagToolCall:
		tc := &ToolCall{}
		for _, in := range w.Content.Tools {
			tc.Tools = append(tc.Tools, Instruction{Target: in.Tool, Parameters: in.Parameters, Consumed: in.Consumed})
		}
		e.Payload = tc
	case TagHandoff:
		h := &Handoff{}
		for _, in := range w.Content.Agents {
			h.Agents = append(h.Agents, Instruction{Target: in.Agent, Parameters: in.Parameters, Consumed: in.Consumed})
		}
		e.Payload = h
	default:
		return fmt.Errorf("unsupported response_type %q", w.Content.ResponseType)
	}

	return nil
}
