// Package store implements the durable store client for agentdeck using
// SQLite: the message table, the conversation session/metadata table,
// and an in-process insert notifier standing in for the backend's push
// channel.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"agentdeck/internal/logging"
)

// Store provides read/write/subscribe access to the message and
// conversation session tables.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	dbPath   string
	notifier *Notifier
}

// NewStore initializes the SQLite database at the given path.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewStore")
	defer timer.Stop()

	logging.Store("Initializing store at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path, notifier: NewNotifier()}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		logging.Get(logging.CategoryStore).Error("Migrations failed: %v", err)
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Database schema initialized")

	return s, nil
}

// initialize creates the base schema.
func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			session_id TEXT,
			channel_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sender_user_id TEXT,
			sender_agent_id TEXT,
			metadata TEXT DEFAULT '{}',
			context TEXT DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS conversation_sessions (
			conversation_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			title TEXT DEFAULT '',
			last_active_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_agent
			ON conversation_sessions(agent_id, last_active_at)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init failed: %w", err)
		}
	}
	return nil
}

// Notifier returns the insert notifier for this store.
func (s *Store) Notifier() *Notifier {
	return s.notifier
}

// GetDB exposes the underlying connection for tests and migrations.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close closes the database and drops all push subscribers.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.notifier.CloseAll()
	return s.db.Close()
}
