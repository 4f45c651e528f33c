package store

import (
	"sync"

	"agentdeck/internal/logging"
)

// InsertEvent is delivered to push subscribers when a message row is
// inserted into the subscriber's conversation.
type InsertEvent struct {
	Row MessageRow
}

// Notifier fans out insert events to per-conversation subscribers. It
// stands in for the backend's realtime channel: one channel per
// subscription, scoped to a single conversation id, with clean
// unsubscribe.
type Notifier struct {
	mu   sync.RWMutex
	subs map[string]map[chan InsertEvent]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[chan InsertEvent]struct{})}
}

// Subscribe returns a channel receiving insert events for one
// conversation. The channel is buffered; slow consumers drop events
// rather than block writers.
func (n *Notifier) Subscribe(conversationID string) chan InsertEvent {
	ch := make(chan InsertEvent, 64)
	n.mu.Lock()
	if n.subs[conversationID] == nil {
		n.subs[conversationID] = make(map[chan InsertEvent]struct{})
	}
	n.subs[conversationID][ch] = struct{}{}
	n.mu.Unlock()
	logging.StoreDebug("Push subscriber added: conversation=%s", conversationID)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (n *Notifier) Unsubscribe(conversationID string, ch chan InsertEvent) {
	n.mu.Lock()
	if set, ok := n.subs[conversationID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(n.subs, conversationID)
		}
	}
	n.mu.Unlock()
	logging.StoreDebug("Push subscriber removed: conversation=%s", conversationID)
}

// Publish delivers an event to all subscribers of a conversation.
func (n *Notifier) Publish(conversationID string, ev InsertEvent) {
	n.mu.RLock()
	for ch := range n.subs[conversationID] {
		select {
		case ch <- ev:
		default:
		}
	}
	n.mu.RUnlock()
}

// CloseAll closes every subscriber channel (store shutdown).
func (n *Notifier) CloseAll() {
	n.mu.Lock()
	for conv, set := range n.subs {
		for ch := range set {
			close(ch)
		}
		delete(n.subs, conv)
	}
	n.mu.Unlock()
}
