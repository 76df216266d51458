// Package session runs headless agent sessions and persists them so a
// conversation survives process restarts.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cordon-ai/cordon/internal/agent"
)

// ErrNotFound reports a missing session.
var ErrNotFound = errors.New("session: not found")

// Stored is one persisted session row.
type Stored struct {
	SessionID        string         `json:"session_id"`
	ChatHistory      []agent.Turn   `json:"chat_history"`
	WorkingDirectory string         `json:"working_directory"`
	ReplayMode       string         `json:"replay_mode"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
	Metadata         map[string]any `json:"metadata"`
}

// Summary is the listing shape: identity plus message count.
type Summary struct {
	SessionID    string `json:"session_id"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int    `json:"message_count"`
}

// Store wraps the sessions table of an opened database.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over db. The schema is managed by the db
// package.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Create inserts a new session row.
func (s *Store) Create(ctx context.Context, sessionID, workingDirectory, replayMode string, metadata map[string]any) (Stored, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return Stored{}, fmt.Errorf("session: encode metadata: %w", err)
	}
	now := nowUTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(session_id, working_directory, replay_mode, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, workingDirectory, replayMode, now, now, string(metaJSON))
	if err != nil {
		return Stored{}, fmt.Errorf("session: create %q: %w", sessionID, err)
	}
	return Stored{
		SessionID:        sessionID,
		ChatHistory:      []agent.Turn{},
		WorkingDirectory: workingDirectory,
		ReplayMode:       replayMode,
		CreatedAt:        now,
		UpdatedAt:        now,
		Metadata:         metadata,
	}, nil
}

// Get returns the session stored under sessionID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (Stored, error) {
	var st Stored
	var historyJSON, metaJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, chat_history, working_directory, replay_mode,
		       created_at, updated_at, metadata
		FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&st.SessionID, &historyJSON, &st.WorkingDirectory, &st.ReplayMode,
		&st.CreatedAt, &st.UpdatedAt, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Stored{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return Stored{}, fmt.Errorf("session: get %q: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &st.ChatHistory); err != nil {
		st.ChatHistory = []agent.Turn{}
	}
	if err := json.Unmarshal([]byte(metaJSON), &st.Metadata); err != nil {
		st.Metadata = map[string]any{}
	}
	return st, nil
}

// SaveHistory replaces the chat history of a session.
func (s *Store) SaveHistory(ctx context.Context, sessionID string, history []agent.Turn) error {
	if history == nil {
		history = []agent.Turn{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("session: encode history: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET chat_history = ?, updated_at = ? WHERE session_id = ?",
		string(historyJSON), nowUTC(), sessionID)
	if err != nil {
		return fmt.Errorf("session: save history %q: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

// AppendMessage appends one turn to a session's history.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, text string) error {
	st, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.SaveHistory(ctx, sessionID, append(st.ChatHistory, agent.Turn{Role: role, Text: text}))
}

// List returns recent sessions, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, created_at, updated_at,
		       json_array_length(chat_history)
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.SessionID, &sm.CreatedAt, &sm.UpdatedAt, &sm.MessageCount); err != nil {
			return nil, fmt.Errorf("session: scan: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Prune deletes the oldest sessions beyond keepLast and any session
// idle for more than keepDays days. Zero disables the respective bound.
// It returns the number of rows removed.
func (s *Store) Prune(ctx context.Context, keepLast, keepDays int) (int, error) {
	removed := 0
	if keepLast > 0 {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM sessions WHERE session_id NOT IN (
				SELECT session_id FROM sessions
				ORDER BY updated_at DESC
				LIMIT ?)`, keepLast)
		if err != nil {
			return removed, fmt.Errorf("session: prune count: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	if keepDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -keepDays).Format(time.RFC3339)
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM sessions WHERE updated_at < ?", cutoff)
		if err != nil {
			return removed, fmt.Errorf("session: prune age: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	return removed, nil
}

// Delete removes a session. It is not an error if the session is absent.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID)
	if err != nil {
		return false, fmt.Errorf("session: delete %q: %w", sessionID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
