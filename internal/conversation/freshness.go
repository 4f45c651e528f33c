package conversation

import "sync"

// FreshnessSet records conversation ids minted during this client
// session. A fresh conversation's history fetch is skipped: the local
// optimistic sequence is already authoritative and a fetch could race
// against writes that have not replicated yet. Entries are never
// removed; the set is scoped to the process lifetime.
type FreshnessSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewFreshnessSet() *FreshnessSet {
	return &FreshnessSet{ids: make(map[string]struct{})}
}

// Mark records a conversation id as created in this session.
func (f *FreshnessSet) Mark(conversationID string) {
	if conversationID == "" {
		return
	}
	f.mu.Lock()
	f.ids[conversationID] = struct{}{}
	f.mu.Unlock()
}

// IsFresh reports whether the id was minted in this session.
func (f *FreshnessSet) IsFresh(conversationID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ids[conversationID]
	return ok
}
