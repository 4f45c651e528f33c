package statecache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"agentdeck/internal/logging"
)

// SelectionChange reports that the durable conversation selection for
// an agent changed outside this process (another tab/window wrote the
// cache file). An empty ConversationID means the selection was cleared.
type SelectionChange struct {
	AgentID        string
	ConversationID string
}

// Watch observes the cache file for external modifications and emits a
// SelectionChange per agent whose conversation entry differs from the
// in-memory view. Writes made through this Cache instance do not emit:
// they are already reflected in memory before they hit the disk.
//
// The returned channel closes when ctx is cancelled.
func (c *Cache) Watch(ctx context.Context) (<-chan SelectionChange, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors and atomic writers replace the file,
	// which drops a watch registered on the file itself.
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	out := make(chan SelectionChange, 16)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(c.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
					continue
				}
				for _, change := range c.diffAgainstDisk() {
					select {
					case out <- change:
					case <-ctx.Done():
						return
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Get(logging.CategoryCache).Warn("State cache watch error: %v", err)
			}
		}
	}()

	return out, nil
}

// diffAgainstDisk reloads the file and returns one change per agent
// whose conversation entry differs from the in-memory view, updating
// memory to the on-disk state.
func (c *Cache) diffAgainstDisk() []SelectionChange {
	onDisk := readConversations(c.path)

	c.mu.Lock()
	defer c.mu.Unlock()

	inMemory := make(map[string]string)
	for k, v := range c.entries {
		if agent, ok := parseConversationKey(k); ok {
			inMemory[agent] = v
		}
	}

	var changes []SelectionChange
	for agent, conv := range onDisk {
		if inMemory[agent] != conv {
			changes = append(changes, SelectionChange{AgentID: agent, ConversationID: conv})
		}
	}
	for agent := range inMemory {
		if _, ok := onDisk[agent]; !ok {
			changes = append(changes, SelectionChange{AgentID: agent})
		}
	}

	if len(changes) > 0 {
		logging.CacheDebug("External state cache change: %d selection(s) updated", len(changes))
		c.reloadLocked()
	}
	return changes
}

// readConversations loads agent -> conversation id entries straight
// from disk, defensively.
func readConversations(path string) map[string]string {
	out := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return out
	}
	for k, v := range m {
		if agent, ok := parseConversationKey(k); ok {
			out[agent] = v
		}
	}
	return out
}
