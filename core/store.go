package core

import (
	"context"
	"time"
)

// Sender writes a message to the real-time channel of a session.
type Sender interface {
	Send(ctx context.Context, sessionID string, data []byte) error
}

// DocumentStore is a read-only store of internal documents keyed by name.
type DocumentStore interface {
	// Location describes where documents live (e.g. a directory).
	Location() string
	// List returns the names of all documents. It fails if the store is unavailable.
	List(ctx context.Context) ([]string, error)
	// Read returns the full content of a document.
	Read(ctx context.Context, name string) ([]byte, error)
}

// ConversationStore persists turn snapshots. Writes are append-only.
type ConversationStore interface {
	Save(ctx context.Context, snap Snapshot) error
	// Recent returns up to limit snapshots of a user, oldest first.
	Recent(ctx context.Context, userID string, limit int) ([]Snapshot, error)
	// Sessions returns up to limit session summaries of a user, most recent first.
	Sessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error)
	// Session returns the summary of a single session including its messages.
	Session(ctx context.Context, sessionID string) (SessionSummary, error)
}

// SessionSummary describes a stored chat session.
type SessionSummary struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	FirstMessage string    `json:"first_message"`
	Timestamp    time.Time `json:"timestamp"`
	LastUpdated  time.Time `json:"last_updated"`
	Messages     []Turn    `json:"messages,omitempty"`
}
