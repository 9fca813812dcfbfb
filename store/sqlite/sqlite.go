// Package sqlite implements core.ConversationStore on SQLite. Snapshots are
// stored as JSON in an append-only table indexed by user, session and time.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/store"
)

// Store is an append-only SQLite conversation store. All public methods are
// safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path. The schema is created
// automatically on first use.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open conversation database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate conversation schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		session_id      TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		state           TEXT NOT NULL,
		log_timestamp   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, log_timestamp);
	CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id, log_timestamp);
	CREATE INDEX IF NOT EXISTS idx_conversations_conversation ON conversations(conversation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save implements core.ConversationStore.
func (s *Store) Save(ctx context.Context, snap core.Snapshot) error {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, session_id, conversation_id, state, log_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		snap.UserID,
		snap.SessionID,
		snap.ConversationID,
		string(state),
		snap.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Recent implements core.ConversationStore.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]core.Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT state FROM conversations
		 WHERE user_id = ?
		 ORDER BY log_timestamp DESC, rowid DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent conversations: %w", err)
	}
	defer rows.Close()

	out := make([]core.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent conversations: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Sessions implements core.ConversationStore.
func (s *Store) Sessions(ctx context.Context, userID string, limit int) ([]core.SessionSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, MIN(log_timestamp), MAX(log_timestamp)
		 FROM conversations
		 WHERE user_id = ? AND session_id != ''
		 GROUP BY session_id
		 ORDER BY MAX(log_timestamp) DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	type span struct {
		id          string
		first, last time.Time
	}
	var spans []span
	for rows.Next() {
		var id, first, last string
		if err := rows.Scan(&id, &first, &last); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sp := span{id: id}
		sp.first, _ = time.Parse(time.RFC3339Nano, first)
		sp.last, _ = time.Parse(time.RFC3339Nano, last)
		spans = append(spans, sp)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	out := make([]core.SessionSummary, 0, len(spans))
	for _, sp := range spans {
		latest, err := s.latest(ctx, sp.id)
		if err != nil {
			return nil, err
		}
		if len(latest.History) == 0 {
			continue
		}
		out = append(out, store.Summarize(latest, sp.first, sp.last))
	}
	return out, nil
}

// Session implements core.ConversationStore.
func (s *Store) Session(ctx context.Context, sessionID string) (core.SessionSummary, error) {
	var first, last sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(log_timestamp), MAX(log_timestamp) FROM conversations WHERE session_id = ?`,
		sessionID,
	).Scan(&first, &last)
	if err != nil {
		return core.SessionSummary{}, fmt.Errorf("query session: %w", err)
	}
	if !first.Valid {
		return core.SessionSummary{}, store.ErrNotFound
	}

	latest, err := s.latest(ctx, sessionID)
	if err != nil {
		return core.SessionSummary{}, err
	}

	ft, _ := time.Parse(time.RFC3339Nano, first.String)
	lt, _ := time.Parse(time.RFC3339Nano, last.String)
	return store.Summarize(latest, ft, lt), nil
}

func (s *Store) latest(ctx context.Context, sessionID string) (core.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT state FROM conversations
		 WHERE session_id = ?
		 ORDER BY log_timestamp DESC, rowid DESC
		 LIMIT 1`,
		sessionID,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, store.ErrNotFound
	}
	return snap, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (core.Snapshot, error) {
	var state string
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Snapshot{}, err
		}
		return core.Snapshot{}, fmt.Errorf("scan conversation: %w", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal([]byte(state), &snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
