package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentdeck/internal/logging"
)

// MessageRow mirrors one row of the messages table.
type MessageRow struct {
	ID             int64
	ConversationID string
	SessionID      string
	ChannelID      string
	Role           string
	Content        string
	SenderUserID   string
	SenderAgentID  string
	Metadata       map[string]string
	Context        map[string]string
	CreatedAt      time.Time
}

// TargetAgent returns the target_agent metadata tag, or "".
func (r *MessageRow) TargetAgent() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata["target_agent"]
}

func marshalKV(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func unmarshalKV(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		// Malformed metadata is treated as absent, not fatal.
		return nil
	}
	return m
}

// InsertMessage writes a message row and notifies push subscribers for
// its conversation. This is the primary write path: failures are
// returned, not swallowed.
func (s *Store) InsertMessage(ctx context.Context, row MessageRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Inserting message: conversation=%s role=%s content_len=%d",
		row.ConversationID, row.Role, len(row.Content))

	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages
			(conversation_id, session_id, channel_id, role, content,
			 sender_user_id, sender_agent_id, metadata, context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ConversationID, row.SessionID, nullable(row.ChannelID), row.Role, row.Content,
		nullable(row.SenderUserID), nullable(row.SenderAgentID),
		marshalKV(row.Metadata), marshalKV(row.Context), createdAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to insert message for %s: %v", row.ConversationID, err)
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read insert id: %w", err)
	}
	row.ID = id
	row.CreatedAt = createdAt

	s.notifier.Publish(row.ConversationID, InsertEvent{Row: row})

	logging.StoreDebug("Message inserted: conversation=%s id=%d", row.ConversationID, id)
	return id, nil
}

// MessagesBySender returns all rows in a conversation sent by the given
// agent, ordered by creation time ascending.
func (s *Store) MessagesBySender(ctx context.Context, conversationID, agentID string) ([]MessageRow, error) {
	timer := logging.StartTimer(logging.CategoryStore, "MessagesBySender")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, COALESCE(session_id, ''), COALESCE(channel_id, ''),
		        role, content, COALESCE(sender_user_id, ''), COALESCE(sender_agent_id, ''),
		        COALESCE(metadata, '{}'), COALESCE(context, '{}'), created_at
		 FROM messages
		 WHERE conversation_id = ? AND sender_agent_id = ?
		 ORDER BY created_at ASC`,
		conversationID, agentID,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to query sender rows for %s: %v", conversationID, err)
		return nil, fmt.Errorf("failed to query sender rows: %w", err)
	}
	defer rows.Close()

	return scanMessageRows(rows)
}

// MessagesAddressedTo returns rows in a conversation not sent by the
// given agent, ordered by creation time ascending. These are the
// candidate recipient rows; the caller decides which count as addressed
// to the agent (explicit target_agent tag, or the legacy proximity
// heuristic for untagged rows).
func (s *Store) MessagesAddressedTo(ctx context.Context, conversationID, agentID string) ([]MessageRow, error) {
	timer := logging.StartTimer(logging.CategoryStore, "MessagesAddressedTo")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, COALESCE(session_id, ''), COALESCE(channel_id, ''),
		        role, content, COALESCE(sender_user_id, ''), COALESCE(sender_agent_id, ''),
		        COALESCE(metadata, '{}'), COALESCE(context, '{}'), created_at
		 FROM messages
		 WHERE conversation_id = ? AND (sender_agent_id IS NULL OR sender_agent_id != ?)
		 ORDER BY created_at ASC`,
		conversationID, agentID,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to query recipient rows for %s: %v", conversationID, err)
		return nil, fmt.Errorf("failed to query recipient rows: %w", err)
	}
	defer rows.Close()

	return scanMessageRows(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanMessageRows(rows rowScanner) ([]MessageRow, error) {
	var out []MessageRow
	for rows.Next() {
		var r MessageRow
		var metadata, contextJSON string
		if err := rows.Scan(
			&r.ID, &r.ConversationID, &r.SessionID, &r.ChannelID,
			&r.Role, &r.Content, &r.SenderUserID, &r.SenderAgentID,
			&metadata, &contextJSON, &r.CreatedAt,
		); err != nil {
			continue
		}
		r.Metadata = unmarshalKV(metadata)
		r.Context = unmarshalKV(contextJSON)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
