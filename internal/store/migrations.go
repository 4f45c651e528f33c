// Package store migrations: a small column-add migration system that
// upgrades databases created by older agentdeck builds. Tables that do
// not exist are skipped quietly; column adds are idempotent.
package store

import (
	"database/sql"
	"fmt"

	"agentdeck/internal/logging"
)

// Migration defines a database schema migration.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists all schema migrations to apply.
// These handle cases where tables exist but are missing newer columns.
var pendingMigrations = []Migration{
	// Metadata/context columns (added when rows gained the target_agent tag)
	{"messages", "metadata", "TEXT DEFAULT '{}'"},
	{"messages", "context", "TEXT DEFAULT '{}'"},
	// Session title and last-active marker (added for the conversation list)
	{"conversation_sessions", "title", "TEXT DEFAULT ''"},
	{"conversation_sessions", "last_active_at", "DATETIME"},
}

// RunMigrations applies schema migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	logging.StoreDebug("Running schema migrations (%d pending)", len(pendingMigrations))

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			logging.StoreDebug("Table missing, skipping migration: %s.%s", m.Table, m.Column)
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		applied++
		logging.Store("Applied migration: %s.%s", m.Table, m.Column)
	}

	if applied > 0 {
		logging.Store("Schema migrations complete: %d applied", applied)
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table,
	).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
