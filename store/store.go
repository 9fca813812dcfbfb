// Package store provides durable conversation stores. Every terminal turn is
// written as an append-only snapshot keyed by user, session and conversation.
// The read path returns the most recent snapshots of a user to seed new turns
// and groups snapshots into sessions for the history views.
package store

import (
	"errors"
	"time"

	"github.com/hupe1980/relaymesh/core"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("store: not found")

// Summarize builds the summary of a session from its latest snapshot and the
// first and last write times.
func Summarize(latest core.Snapshot, first, last time.Time) core.SessionSummary {
	s := core.SessionSummary{
		ID:          latest.SessionID,
		UserID:      latest.UserID,
		Timestamp:   first.UTC(),
		LastUpdated: last.UTC(),
		Messages:    make([]core.Turn, 0, len(latest.History)),
	}
	for _, t := range latest.History {
		if s.FirstMessage == "" && t.Role == core.RoleUser {
			s.FirstMessage = t.Content
		}
		s.Messages = append(s.Messages, t.Clone())
	}
	if s.FirstMessage == "" {
		s.FirstMessage = latest.UserInput
	}
	return s
}
