package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agentdeck/internal/logging"
)

// Session status values.
const (
	SessionStatusActive    = "active"
	SessionStatusAbandoned = "abandoned"
)

// SessionRow mirrors one row of the conversation_sessions table.
type SessionRow struct {
	ConversationID string
	AgentID        string
	Status         string
	Title          string
	LastActiveAt   time.Time
	CreatedAt      time.Time
}

// IsActive reports whether the session status is active.
func (r *SessionRow) IsActive() bool {
	return r.Status == SessionStatusActive
}

// GetSession returns the session record for a conversation, or nil when
// none exists.
func (s *Store) GetSession(ctx context.Context, conversationID string) (*SessionRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r SessionRow
	var lastActive sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, agent_id, status, COALESCE(title, ''), last_active_at, created_at
		 FROM conversation_sessions
		 WHERE conversation_id = ?`,
		conversationID,
	).Scan(&r.ConversationID, &r.AgentID, &r.Status, &r.Title, &lastActive, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if lastActive.Valid {
		r.LastActiveAt = lastActive.Time
	}
	return &r, nil
}

// SessionsForAgent returns every session recorded for an agent, most
// recently active first.
func (s *Store) SessionsForAgent(ctx context.Context, agentID string) ([]SessionRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, agent_id, status, COALESCE(title, ''), last_active_at, created_at
		 FROM conversation_sessions
		 WHERE agent_id = ?
		 ORDER BY COALESCE(last_active_at, created_at) DESC`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var lastActive sql.NullTime
		if err := rows.Scan(&r.ConversationID, &r.AgentID, &r.Status, &r.Title, &lastActive, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if lastActive.Valid {
			r.LastActiveAt = lastActive.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertSession inserts or replaces the session record. Uses INSERT OR
// REPLACE so repeated upserts for the same conversation are idempotent.
func (s *Store) UpsertSession(ctx context.Context, row SessionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row.Status == "" {
		row.Status = SessionStatusActive
	}
	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	logging.StoreDebug("Upserting session: conversation=%s agent=%s status=%s",
		row.ConversationID, row.AgentID, row.Status)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversation_sessions
			(conversation_id, agent_id, status, title, last_active_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.ConversationID, row.AgentID, row.Status, row.Title,
		nullableTime(row.LastActiveAt), createdAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to upsert session %s: %v", row.ConversationID, err)
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// SetSessionStatus updates the status field. Callers treating this as
// best-effort (archive) swallow the returned error themselves.
func (s *Store) SetSessionStatus(ctx context.Context, conversationID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_sessions SET status = ? WHERE conversation_id = ?`,
		status, conversationID,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to set status for %s: %v", conversationID, err)
		return fmt.Errorf("failed to set session status: %w", err)
	}
	logging.StoreDebug("Session status updated: conversation=%s status=%s", conversationID, status)
	return nil
}

// SetSessionTitle upserts the title for a conversation.
func (s *Store) SetSessionTitle(ctx context.Context, conversationID, agentID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_sessions (conversation_id, agent_id, status, title)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET title = excluded.title`,
		conversationID, agentID, SessionStatusActive, title,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to set title for %s: %v", conversationID, err)
		return fmt.Errorf("failed to set session title: %w", err)
	}
	return nil
}

// TouchSession updates the last-active marker. Best-effort by contract:
// callers log and swallow the error.
func (s *Store) TouchSession(ctx context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_sessions SET last_active_at = ? WHERE conversation_id = ?`,
		at, conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
