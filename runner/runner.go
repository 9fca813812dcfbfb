package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/engine"
	"github.com/hupe1980/relaymesh/logging"
	"github.com/hupe1980/relaymesh/session"
	"github.com/hupe1980/relaymesh/store"
)

// History seeding defaults.
const (
	DefaultHistoryThreshold = 7
	DefaultMaxHistory       = 10
)

// DefaultUserID is used when a request carries no user ID.
const DefaultUserID = "anonymous"

// DefaultAnswer is returned when a turn ends without a final answer.
const DefaultAnswer = "I apologize, but I couldn't generate a response. Please try again."

// Apology is the user-facing message of a failed turn.
const Apology = "I apologize, but I encountered an error while processing your request. Please try again."

// ErrTurnInProgress is returned when a conversation is already being run.
var ErrTurnInProgress = errors.New("runner: turn already in progress")

// Dispatcher drives the dispatch loop of one turn.
type Dispatcher interface {
	Run(ctx context.Context, st *core.State) (engine.Result, error)
}

// Request is one user message.
type Request struct {
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	UserInput      string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Reply is the outcome of a turn.
type Reply struct {
	SessionID         string       `json:"session_id"`
	ConversationID    string       `json:"conversation_id"`
	Message           string       `json:"message"`
	Sources           []string     `json:"sources"`
	FollowUpQuestions []string     `json:"follow_up_questions"`
	Phase             engine.Phase `json:"phase"`
	Steps             int          `json:"steps"`
}

// TurnError is returned for turns that failed fatally. Error() exposes the
// cause for logs; user-facing surfaces show Apology and ID only.
type TurnError struct {
	ID             string
	SessionID      string
	ConversationID string
	Apology        string
	Err            error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %s failed (error id %s): %v", e.ConversationID, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *TurnError) Unwrap() error { return e.Err }

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Sessions tracks live sessions. Defaults to a new registry backed by Store.
	Sessions *session.Registry

	// Store seeds past history and serves session listings. It must be the
	// store the engine persists to.
	Store core.ConversationStore

	// Documents reports whether internal documents are available.
	Documents core.DocumentStore

	// Sender delivers real-time messages to sessions.
	Sender core.Sender

	// HistoryThreshold is the number of in-memory turns below which past
	// history is fetched from Store.
	HistoryThreshold int

	// MaxHistory bounds both the in-memory and the past history.
	MaxHistory int

	Logger logging.Logger

	// Now and NewSuffix are overridable for tests. NewSuffix makes default
	// conversation IDs unique within the same second.
	Now       func() time.Time
	NewSuffix func() string
}

// Runner coordinates turns. Public methods are safe for concurrent use.
type Runner struct {
	engine    Dispatcher
	sessions  *session.Registry
	store     core.ConversationStore
	documents core.DocumentStore
	sender    core.Sender
	threshold int
	maxHist   int
	logger    logging.Logger
	now       func() time.Time
	suffix    func() string

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs a Runner with optional overrides.
func New(eng Dispatcher, optFns ...func(o *Options)) *Runner {
	opts := Options{
		HistoryThreshold: DefaultHistoryThreshold,
		MaxHistory:       DefaultMaxHistory,
		Now:              func() time.Time { return time.Now().UTC() },
		NewSuffix:        func() string { return uuid.NewString()[:8] },
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := logging.OrNoOp(opts.Logger)
	if opts.Sessions == nil {
		opts.Sessions = session.NewRegistry(func(o *session.Options) {
			o.Store = opts.Store
			o.Logger = logger
		})
	}

	return &Runner{
		engine:     eng,
		sessions:   opts.Sessions,
		store:      opts.Store,
		documents:  opts.Documents,
		sender:     opts.Sender,
		threshold:  opts.HistoryThreshold,
		maxHist:    opts.MaxHistory,
		logger:     logger,
		now:        opts.Now,
		suffix:     opts.NewSuffix,
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Sessions returns the live session registry.
func (r *Runner) Sessions() *session.Registry { return r.sessions }

// Run executes one turn.
func (r *Runner) Run(ctx context.Context, req Request) (Reply, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = DefaultUserID
	}

	sess, isNew := r.sessions.GetOrCreate(ctx, req.SessionID, userID)
	if isNew {
		r.logger.Info("session.created", "session_id", sess.ID, "user_id", userID)
	}

	convID := req.ConversationID
	if convID == "" {
		convID = fmt.Sprintf("%s_%s_%s_%s", userID, sess.ID, r.now().Format("20060102150405"), r.suffix())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := r.acquire(convID, cancel); err != nil {
		return Reply{}, err
	}
	defer r.release(convID)

	st := core.NewState(userID, sess.ID, req.UserInput)
	if err := st.SetConversationID(convID); err != nil {
		return Reply{}, err
	}
	st.Sender = r.sender
	r.seed(ctx, st, sess.History)
	st.AvailableDocs = r.availableDocs(ctx)

	st.AppendHistory(core.Turn{Role: core.RoleUser, Content: req.UserInput, Timestamp: r.now()})

	logger := r.logger
	turnLogger, isTurnLogger := logger.(*logging.TurnLogger)
	if isTurnLogger {
		turnLogger = turnLogger.WithTurn(sess.ID, convID)
		logger = turnLogger
	}

	start := time.Now()
	res, err := r.engine.Run(ctx, st)
	if err != nil {
		terr := &TurnError{
			ID:             uuid.NewString(),
			SessionID:      sess.ID,
			ConversationID: convID,
			Apology:        Apology,
			Err:            err,
		}
		if isTurnLogger {
			turnLogger.With("error_id", terr.ID).LogTurn(string(res.Phase), res.Steps, time.Since(start), err)
		} else {
			logger.Error("runner.turn.failed", "error_id", terr.ID, "phase", string(res.Phase), "error", err)
		}
		return Reply{}, terr
	}

	message := st.FinalAnswer
	if message == "" {
		message = DefaultAnswer
	}
	if hist := st.History(); len(hist) == 0 || hist[len(hist)-1].Role != core.RoleAssistant {
		st.AppendHistory(core.Turn{Role: core.RoleAssistant, Content: message, Timestamp: r.now()})
	}

	persisted := r.store != nil && (res.Phase == engine.PhaseTerminal || res.Phase == engine.PhaseBudgetExceeded)
	r.sessions.Record(st.Snapshot(), persisted)

	if isTurnLogger {
		turnLogger.LogTurn(string(res.Phase), res.Steps, time.Since(start), nil)
	} else {
		logger.Info("runner.turn.completed",
			"phase", string(res.Phase),
			"steps", res.Steps,
			"duration", time.Since(start),
		)
	}

	return Reply{
		SessionID:         sess.ID,
		ConversationID:    convID,
		Message:           message,
		Sources:           nonNil(st.Sources),
		FollowUpQuestions: nonNil(st.FollowUpQuestions),
		Phase:             res.Phase,
		Steps:             res.Steps,
	}, nil
}

// Cancel cancels a running turn by conversation ID.
func (r *Runner) Cancel(conversationID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[conversationID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", conversationID)
	}

	cancel()

	return nil
}

// EndSession saves and removes a live session. It reports whether the
// session existed.
func (r *Runner) EndSession(ctx context.Context, sessionID string) (bool, error) {
	return r.sessions.End(ctx, sessionID)
}

// ListSessions returns stored session summaries of userID, most recent first.
func (r *Runner) ListSessions(ctx context.Context, userID string, limit int) ([]core.SessionSummary, error) {
	if r.store == nil {
		return []core.SessionSummary{}, nil
	}
	return r.store.Sessions(ctx, userID, limit)
}

// Session returns the stored summary of a session, falling back to the live
// session when nothing was persisted yet.
func (r *Runner) Session(ctx context.Context, sessionID string) (core.SessionSummary, error) {
	if r.store != nil {
		sum, err := r.store.Session(ctx, sessionID)
		if err == nil {
			return sum, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return core.SessionSummary{}, err
		}
	}

	sess, ok := r.sessions.Get(sessionID)
	if !ok || sess.Last == nil {
		return core.SessionSummary{}, store.ErrNotFound
	}
	return store.Summarize(*sess.Last, sess.CreatedAt, sess.LastActive), nil
}

func (r *Runner) acquire(convID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.activeRuns[convID]; busy {
		return fmt.Errorf("%w: %s", ErrTurnInProgress, convID)
	}
	r.activeRuns[convID] = cancel
	return nil
}

func (r *Runner) release(convID string) {
	r.mu.Lock()
	delete(r.activeRuns, convID)
	r.mu.Unlock()
}

// seed loads the session history and, if it is shorter than the threshold,
// the most recent turns of the user from the durable store.
func (r *Runner) seed(ctx context.Context, st *core.State, history []core.Turn) {
	if r.maxHist > 0 && len(history) > r.maxHist {
		history = history[len(history)-r.maxHist:]
	}
	st.AppendHistory(history...)

	if r.store == nil || len(history) >= r.threshold {
		return
	}
	want := r.maxHist - len(history)
	if want <= 0 {
		return
	}

	snaps, err := r.store.Recent(ctx, st.UserID, want)
	if err != nil {
		r.logger.Warn("runner.history.unavailable", "user_id", st.UserID, "error", err)
		return
	}
	st.PastHistory = pastTurns(snaps, history, want)
}

// pastTurns flattens snapshots into distinct turns not already part of
// current and keeps the last limit of them.
func pastTurns(snaps []core.Snapshot, current []core.Turn, limit int) []core.Turn {
	type key struct {
		role, content string
		ts            time.Time
	}
	seen := make(map[key]struct{}, len(current))
	for _, t := range current {
		seen[key{t.Role, t.Content, t.Timestamp}] = struct{}{}
	}
	var out []core.Turn
	for _, snap := range snaps {
		for _, t := range snap.History {
			k := key{t.Role, t.Content, t.Timestamp}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, t.Clone())
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (r *Runner) availableDocs(ctx context.Context) bool {
	if r.documents == nil {
		return false
	}
	names, err := r.documents.List(ctx)
	if err != nil {
		r.logger.Warn("runner.documents.unavailable", "error", err)
		return false
	}
	return len(names) > 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}
