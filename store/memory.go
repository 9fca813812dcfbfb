package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/relaymesh/core"
)

// Memory is a process-local ConversationStore for tests and single-node
// deployments without a database. Snapshots are lost on exit.
//
// Concurrency: protected by RWMutex.
type Memory struct {
	mu      sync.RWMutex
	records []core.Snapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Save appends a snapshot.
func (m *Memory) Save(_ context.Context, snap core.Snapshot) error {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	snap.History = cloneTurns(snap.History)
	snap.Log = append([]core.Entry(nil), snap.Log...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, snap)
	return nil
}

// Recent returns up to limit snapshots of userID, oldest first.
func (m *Memory) Recent(_ context.Context, userID string, limit int) ([]core.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.Snapshot, 0)
	for i := len(m.records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.records[i].UserID == userID {
			snap := m.records[i]
			snap.History = cloneTurns(snap.History)
			out = append(out, snap)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type sessionAgg struct {
	latest      core.Snapshot
	first, last time.Time
}

// Sessions returns up to limit session summaries of userID, most recently
// updated first. Sessions without history are skipped.
func (m *Memory) Sessions(_ context.Context, userID string, limit int) ([]core.SessionSummary, error) {
	m.mu.RLock()
	aggs := m.aggregate(func(s core.Snapshot) bool { return s.UserID == userID })
	m.mu.RUnlock()

	list := make([]*sessionAgg, 0, len(aggs))
	for _, a := range aggs {
		if len(a.latest.History) > 0 {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].last.After(list[j].last) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	out := make([]core.SessionSummary, 0, len(list))
	for _, a := range list {
		out = append(out, Summarize(a.latest, a.first, a.last))
	}
	return out, nil
}

// Session returns the summary of sessionID or ErrNotFound.
func (m *Memory) Session(_ context.Context, sessionID string) (core.SessionSummary, error) {
	m.mu.RLock()
	aggs := m.aggregate(func(s core.Snapshot) bool { return s.SessionID == sessionID })
	m.mu.RUnlock()

	a, ok := aggs[sessionID]
	if !ok {
		return core.SessionSummary{}, ErrNotFound
	}
	return Summarize(a.latest, a.first, a.last), nil
}

// Len returns the number of stored snapshots.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// aggregate groups matching records by session. Callers hold the read lock.
func (m *Memory) aggregate(match func(core.Snapshot) bool) map[string]*sessionAgg {
	aggs := make(map[string]*sessionAgg)
	for _, r := range m.records {
		if r.SessionID == "" || !match(r) {
			continue
		}
		a, ok := aggs[r.SessionID]
		if !ok {
			aggs[r.SessionID] = &sessionAgg{latest: r, first: r.Timestamp, last: r.Timestamp}
			continue
		}
		if r.Timestamp.Before(a.first) {
			a.first = r.Timestamp
		}
		if !r.Timestamp.Before(a.last) {
			a.last = r.Timestamp
			a.latest = r
		}
	}
	return aggs
}

func cloneTurns(in []core.Turn) []core.Turn {
	if in == nil {
		return nil
	}
	out := make([]core.Turn, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
