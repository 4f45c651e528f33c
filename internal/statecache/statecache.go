// Package statecache persists the per-agent durable local entries
// (current conversation id, current session id, context-size
// preference) as a JSON file. Reads are defensive: a missing or
// unreadable file behaves as an empty cache. Concurrent processes can
// race on the file; that is an accepted limitation, not resolved here.
package statecache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"agentdeck/internal/logging"
)

// Cache is the durable local key-value map, keyed per owning agent.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
}

// Open loads the cache file at path. A missing or corrupt file yields
// an empty cache, never an error: staleness is treated as absence.
func Open(path string) (*Cache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("statecache: path required")
	}
	c := &Cache{path: path, entries: make(map[string]string)}
	c.reload()
	return c, nil
}

// reload reads the file into memory. Caller holds no lock; reload
// takes it.
func (c *Cache) reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloadLocked()
}

func (c *Cache) reloadLocked() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryCache).Warn("Could not read state cache %s: %v", c.path, err)
		}
		c.entries = make(map[string]string)
		return
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		logging.Get(logging.CategoryCache).Warn("Corrupt state cache %s, starting empty: %v", c.path, err)
		c.entries = make(map[string]string)
		return
	}
	c.entries = m
}

func (c *Cache) flushLocked() error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("statecache: create dir: %w", err)
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("statecache: marshal: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("statecache: write: %w", err)
	}
	return nil
}

// Get returns the value for key, or "" when absent.
func (c *Cache) Get(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}

// Set writes one entry and flushes to disk.
func (c *Cache) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	logging.CacheDebug("Set %s=%s", key, value)
	return c.flushLocked()
}

// Delete removes entries and flushes to disk.
func (c *Cache) Delete(keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	logging.CacheDebug("Deleted %d entries", len(keys))
	return c.flushLocked()
}

// Per-agent key builders. The key shapes are part of the persisted
// format and must stay stable across releases.

func ConversationKey(agentID string) string {
	return fmt.Sprintf("agent_%s_conversation_id", agentID)
}

func SessionKey(agentID string) string {
	return fmt.Sprintf("agent_%s_session_id", agentID)
}

func ContextSizeKey(agentID string) string {
	return fmt.Sprintf("agent_%s_context_size", agentID)
}

// Conversation returns the cached conversation id for an agent, or "".
func (c *Cache) Conversation(agentID string) string {
	return c.Get(ConversationKey(agentID))
}

// SetConversation records the current conversation id for an agent.
func (c *Cache) SetConversation(agentID, conversationID string) error {
	return c.Set(ConversationKey(agentID), conversationID)
}

// ClearAgent purges all durable entries for one agent.
func (c *Cache) ClearAgent(agentID string) error {
	return c.Delete(ConversationKey(agentID), SessionKey(agentID), ContextSizeKey(agentID))
}

// parseConversationKey extracts the agent id from a conversation entry
// key, reporting false for any other key shape.
func parseConversationKey(key string) (string, bool) {
	if !strings.HasPrefix(key, "agent_") || !strings.HasSuffix(key, "_conversation_id") {
		return "", false
	}
	agent := strings.TrimSuffix(strings.TrimPrefix(key, "agent_"), "_conversation_id")
	if agent == "" {
		return "", false
	}
	return agent, true
}
