package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/logging"
)

// Defaults for Options.
const (
	DefaultExpiry       = 24 * time.Hour
	DefaultCleanupEvery = 100
)

// Session is a live chat session.
type Session struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	CreatedAt  time.Time   `json:"created_at"`
	LastActive time.Time   `json:"last_active"`
	History    []core.Turn `json:"history"`

	// Last is the snapshot of the most recent turn.
	Last *core.Snapshot `json:"-"`

	saved bool
}

// Clone returns a deep copy of the session history and metadata.
func (s *Session) Clone() *Session {
	c := *s
	c.History = make([]core.Turn, len(s.History))
	for i, t := range s.History {
		c.History[i] = t.Clone()
	}
	if s.Last != nil {
		last := *s.Last
		c.Last = &last
	}
	return &c
}

// Options configures a Registry.
type Options struct {
	// Expiry is the inactivity period after which a session expires.
	Expiry time.Duration

	// CleanupEvery runs Cleanup after this many GetOrCreate calls.
	CleanupEvery int

	// Store receives unsaved sessions when they expire or end.
	Store core.ConversationStore

	Logger logging.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Registry is a process-local, concurrency-safe session registry.
type Registry struct {
	opts   Options
	logger logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	requests int
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Expiry:       DefaultExpiry,
		CleanupEvery: DefaultCleanupEvery,
		Now:          func() time.Time { return time.Now().UTC() },
		NewID:        uuid.NewString,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the live session sessionID and touches it. A new
// session is created when sessionID is empty, unknown or expired; an expired
// session is evicted and replaced under a fresh ID. The returned bool reports
// whether the session is new.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID, userID string) (*Session, bool) {
	r.mu.Lock()
	r.requests++
	cleanup := r.opts.CleanupEvery > 0 && r.requests%r.opts.CleanupEvery == 0

	now := r.opts.Now()
	var evicted *Session
	sess, ok := r.sessions[sessionID]
	switch {
	case ok && !r.expired(sess, now):
		sess.LastActive = now
		if sess.UserID == "" {
			sess.UserID = userID
		}
		out := sess.Clone()
		r.mu.Unlock()
		r.maybeCleanup(ctx, cleanup)
		return out, false
	case ok:
		evicted = sess
		delete(r.sessions, sessionID)
		sessionID = r.opts.NewID()
	case sessionID == "":
		sessionID = r.opts.NewID()
	}

	sess = &Session{ID: sessionID, UserID: userID, CreatedAt: now, LastActive: now, saved: true}
	r.sessions[sessionID] = sess
	out := sess.Clone()
	r.mu.Unlock()

	if evicted != nil {
		r.logger.Info("session.expired", "session_id", evicted.ID)
		r.save(ctx, evicted)
	}
	r.maybeCleanup(ctx, cleanup)

	return out, true
}

// Get returns a copy of the live session sessionID.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// History returns a copy of the conversation history of sessionID.
func (r *Registry) History(sessionID string) []core.Turn {
	sess, ok := r.Get(sessionID)
	if !ok {
		return nil
	}
	return sess.History
}

// Record stores the outcome of a turn in its session. persisted reports
// whether snap was already written to the durable store.
func (r *Registry) Record(snap core.Snapshot, persisted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.Now()
	sess, ok := r.sessions[snap.SessionID]
	if !ok {
		sess = &Session{ID: snap.SessionID, UserID: snap.UserID, CreatedAt: now}
		r.sessions[snap.SessionID] = sess
	}
	sess.LastActive = now
	sess.History = make([]core.Turn, len(snap.History))
	for i, t := range snap.History {
		sess.History[i] = t.Clone()
	}
	sess.Last = &snap
	sess.saved = persisted
}

// End removes sessionID after saving it. It reports whether the session existed.
func (r *Registry) End(ctx context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if !ok {
		return false, nil
	}
	r.logger.Info("session.ended", "session_id", sessionID)
	return true, r.save(ctx, sess)
}

// Cleanup evicts all expired sessions and returns how many were removed.
func (r *Registry) Cleanup(ctx context.Context) int {
	now := r.opts.Now()

	r.mu.Lock()
	var expired []*Session
	for id, sess := range r.sessions {
		if r.expired(sess, now) {
			expired = append(expired, sess)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, sess := range expired {
		r.logger.Info("session.expired", "session_id", sess.ID)
		_ = r.save(ctx, sess)
	}
	return len(expired)
}

// Flush removes every live session after saving the unsaved ones. It is
// meant for shutdown.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.Lock()
	live := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var errs []error
	for _, sess := range live {
		if err := r.save(ctx, sess); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) expired(sess *Session, now time.Time) bool {
	return r.opts.Expiry > 0 && now.Sub(sess.LastActive) > r.opts.Expiry
}

func (r *Registry) maybeCleanup(ctx context.Context, run bool) {
	if !run {
		return
	}
	if n := r.Cleanup(ctx); n > 0 {
		r.logger.Debug("session.cleanup", "evicted", n)
	}
}

// save writes the last snapshot of sess unless it was already persisted.
func (r *Registry) save(ctx context.Context, sess *Session) error {
	if r.opts.Store == nil || sess.saved || sess.Last == nil {
		return nil
	}
	if err := r.opts.Store.Save(ctx, *sess.Last); err != nil {
		r.logger.Error("session.save_failed", "session_id", sess.ID, "error", err)
		return err
	}
	return nil
}
