package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Conversation roles used in history turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrConversationIDSet is returned when an already assigned conversation id
// would be replaced.
var ErrConversationIDSet = errors.New("conversation id already set")

// Turn is one message of the conversation history.
type Turn struct {
	Role              string    `json:"role"`
	Content           string    `json:"content"`
	Timestamp         time.Time `json:"timestamp"`
	Sources           []string  `json:"sources,omitempty"`
	FollowUpQuestions []string  `json:"follow_up_questions,omitempty"`
}

// Clone returns a deep copy of t.
func (t Turn) Clone() Turn {
	t.Sources = append([]string(nil), t.Sources...)
	t.FollowUpQuestions = append([]string(nil), t.FollowUpQuestions...)
	return t
}

// State is the mutable context threaded through every step of one user turn.
// A State is owned by exactly one dispatch loop at a time.
type State struct {
	UserID    string
	SessionID string
	UserInput string

	// PastHistory holds turns from earlier sessions. It is read-only context.
	PastHistory []Turn

	// AvailableDocs reports whether internal documents can be searched.
	AvailableDocs bool

	// Log is the execution trace of the turn.
	Log *EventLog

	FinalAnswer       string
	Sources           []string
	FollowUpQuestions []string

	// Sender delivers real-time messages to the session. It is never persisted.
	Sender Sender

	mu             sync.RWMutex
	conversationID string
	history        []Turn
}

// NewState creates the state for a new turn.
func NewState(userID, sessionID, userInput string) *State {
	return &State{
		UserID:    userID,
		SessionID: sessionID,
		UserInput: userInput,
		Log:       NewEventLog(),
	}
}

// ConversationID returns the identifier of the turn.
func (s *State) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

// SetConversationID assigns the identifier once. Re-assigning the same value
// is allowed; changing it returns ErrConversationIDSet.
func (s *State) SetConversationID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID != "" && s.conversationID != id {
		return fmt.Errorf("%w: %s", ErrConversationIDSet, s.conversationID)
	}
	s.conversationID = id
	return nil
}

// History returns a copy of the conversation history.
func (s *State) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.history))
	for i, t := range s.history {
		out[i] = t.Clone()
	}
	return out
}

// AppendHistory adds turns to the end of the history.
func (s *State) AppendHistory(turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range turns {
		s.history = append(s.history, t.Clone())
	}
}

// Emit appends an entry produced by handler to the log.
func (s *State) Emit(handler string, p Payload) Entry {
	e := NewEntry(handler, s.ConversationID(), p)
	s.Log.Append(e)
	return e
}

// Deliver sends data to the session's real-time channel, if one is attached.
func (s *State) Deliver(ctx context.Context, data []byte) error {
	if s.Sender == nil {
		return nil
	}
	return s.Sender.Send(ctx, s.SessionID, data)
}

// Snapshot returns a serializable copy of the state without transport handles.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		UserID:            s.UserID,
		SessionID:         s.SessionID,
		ConversationID:    s.ConversationID(),
		UserInput:         s.UserInput,
		History:           s.History(),
		Log:               s.Log.Entries(),
		FinalAnswer:       s.FinalAnswer,
		Sources:           append([]string(nil), s.Sources...),
		FollowUpQuestions: append([]string(nil), s.FollowUpQuestions...),
		Timestamp:         time.Now().UTC(),
	}
}

// Snapshot is the persisted form of a State.
type Snapshot struct {
	UserID            string    `json:"user_id"`
	SessionID         string    `json:"session_id"`
	ConversationID    string    `json:"conversation_id"`
	UserInput         string    `json:"user_input"`
	History           []Turn    `json:"conversation_history"`
	Log               []Entry   `json:"node_history"`
	FinalAnswer       string    `json:"final_answer,omitempty"`
	Sources           []string  `json:"sources,omitempty"`
	FollowUpQuestions []string  `json:"follow_up_questions,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
