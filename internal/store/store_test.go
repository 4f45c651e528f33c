package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore(t *testing.T) {
	s := newTestStore(t)

	if s.db == nil {
		t.Fatal("Database connection is nil")
	}
	if s.GetDB() == nil {
		t.Error("GetDB returned nil")
	}

	for _, table := range []string{"messages", "conversation_sessions"} {
		if !tableExists(s.db, table) {
			t.Errorf("Missing table: %s", table)
		}
	}
}

func TestInsertAndQueryMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	rows := []MessageRow{
		{
			ConversationID: "c1",
			Role:           "user",
			Content:        "Hi",
			SenderUserID:   "u1",
			Metadata:       map[string]string{"target_agent": "a1"},
			CreatedAt:      base,
		},
		{
			ConversationID: "c1",
			Role:           "assistant",
			Content:        "Hello!",
			SenderAgentID:  "a1",
			CreatedAt:      base.Add(5 * time.Second),
		},
		{
			ConversationID: "c2",
			Role:           "user",
			Content:        "Other conversation",
			SenderUserID:   "u1",
			CreatedAt:      base.Add(10 * time.Second),
		},
	}
	for _, r := range rows {
		if _, err := s.InsertMessage(ctx, r); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}
	}

	sent, err := s.MessagesBySender(ctx, "c1", "a1")
	if err != nil {
		t.Fatalf("MessagesBySender failed: %v", err)
	}
	if len(sent) != 1 || sent[0].Content != "Hello!" {
		t.Errorf("Expected 1 sender row 'Hello!', got %+v", sent)
	}

	addressed, err := s.MessagesAddressedTo(ctx, "c1", "a1")
	if err != nil {
		t.Fatalf("MessagesAddressedTo failed: %v", err)
	}
	if len(addressed) != 1 || addressed[0].Content != "Hi" {
		t.Errorf("Expected 1 recipient row 'Hi', got %+v", addressed)
	}
	if addressed[0].TargetAgent() != "a1" {
		t.Errorf("Expected target_agent=a1, got %q", addressed[0].TargetAgent())
	}
	if !addressed[0].CreatedAt.Equal(base) {
		t.Errorf("Expected created_at preserved, got %v", addressed[0].CreatedAt)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Absent session is nil, not an error.
	got, err := s.GetSession(ctx, "missing")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing session, got %+v", got)
	}

	if err := s.UpsertSession(ctx, SessionRow{ConversationID: "c1", AgentID: "a1"}); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	got, err = s.GetSession(ctx, "c1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil || !got.IsActive() {
		t.Fatalf("Expected active session, got %+v", got)
	}

	if err := s.SetSessionTitle(ctx, "c1", "a1", "Quarterly review"); err != nil {
		t.Fatalf("SetSessionTitle failed: %v", err)
	}
	if err := s.SetSessionStatus(ctx, "c1", SessionStatusAbandoned); err != nil {
		t.Fatalf("SetSessionStatus failed: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.TouchSession(ctx, "c1", now); err != nil {
		t.Fatalf("TouchSession failed: %v", err)
	}

	got, err = s.GetSession(ctx, "c1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.IsActive() {
		t.Error("Expected abandoned session")
	}
	if got.Title != "Quarterly review" {
		t.Errorf("Expected title preserved, got %q", got.Title)
	}
	if got.LastActiveAt.IsZero() {
		t.Error("Expected last_active_at set")
	}
}

func TestSetSessionTitleCreatesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetSessionTitle(ctx, "c9", "a1", "Fresh"); err != nil {
		t.Fatalf("SetSessionTitle failed: %v", err)
	}
	got, err := s.GetSession(ctx, "c9")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil || got.Title != "Fresh" {
		t.Errorf("Expected upserted title row, got %+v", got)
	}
}

func TestSessionsForAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, row := range []SessionRow{
		{ConversationID: "old", AgentID: "a1", LastActiveAt: base},
		{ConversationID: "recent", AgentID: "a1", LastActiveAt: base.Add(time.Hour)},
		{ConversationID: "other", AgentID: "a2", LastActiveAt: base},
	} {
		if err := s.UpsertSession(ctx, row); err != nil {
			t.Fatalf("UpsertSession %d failed: %v", i, err)
		}
	}

	rows, err := s.SessionsForAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("SessionsForAgent failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(rows))
	}
	if rows[0].ConversationID != "recent" || rows[1].ConversationID != "old" {
		t.Errorf("Expected most recent first, got %s then %s", rows[0].ConversationID, rows[1].ConversationID)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	s := newTestStore(t)

	// Schema is current; a second run must be a no-op.
	if err := RunMigrations(s.db); err != nil {
		t.Fatalf("RunMigrations failed on current schema: %v", err)
	}
	for _, m := range pendingMigrations {
		if !columnExists(s.db, m.Table, m.Column) {
			t.Errorf("Column missing after migrations: %s.%s", m.Table, m.Column)
		}
	}
}

func TestMalformedMetadataIsIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(
		`INSERT INTO messages (conversation_id, role, content, metadata) VALUES (?, ?, ?, ?)`,
		"c1", "user", "legacy", "not-json",
	)
	if err != nil {
		t.Fatalf("raw insert failed: %v", err)
	}

	rows, err := s.MessagesAddressedTo(ctx, "c1", "a1")
	if err != nil {
		t.Fatalf("MessagesAddressedTo failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if rows[0].Metadata != nil {
		t.Errorf("Expected nil metadata for malformed JSON, got %v", rows[0].Metadata)
	}
}
