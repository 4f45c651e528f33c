package conversation

import (
	"context"
	"sync"
	"time"

	"agentdeck/internal/auth"
	"agentdeck/internal/logging"
	"agentdeck/internal/statecache"
	"agentdeck/internal/types"
)

// SessionWriter is the slice of the durable store the lifecycle manager
// writes through: all of it best-effort metadata.
type SessionWriter interface {
	SetSessionStatus(ctx context.Context, conversationID, status string) error
	SetSessionTitle(ctx context.Context, conversationID, agentID, title string) error
	TouchSession(ctx context.Context, conversationID string, at time.Time) error
}

// TransitionListener observes lifecycle changes. prev and next are
// equal when only the refresh key advanced (same conversation selected
// again). Listeners run synchronously, in registration order, in the
// order transitions occur.
type TransitionListener func(prev, next types.Lifecycle, refreshKey uint64)

// Manager owns the "which conversation, if any, is current" state
// machine for one agent.
type Manager struct {
	mu         sync.Mutex
	agentID    string
	current    types.Lifecycle
	refreshKey uint64

	sessions SessionWriter
	cache    *statecache.Cache
	identity auth.Provider

	emitMu    sync.Mutex
	listeners []TransitionListener
}

func NewManager(agentID string, sessions SessionWriter, cache *statecache.Cache, identity auth.Provider) *Manager {
	return &Manager{
		agentID:  agentID,
		current:  types.LifecycleNoneValue(),
		sessions: sessions,
		cache:    cache,
		identity: identity,
	}
}

// Current returns the lifecycle value.
func (m *Manager) Current() types.Lifecycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// RefreshKey returns the monotonically increasing reload counter.
func (m *Manager) RefreshKey() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshKey
}

// OnTransition registers a listener. Registration is not safe once
// transitions are flowing; wire listeners during setup.
func (m *Manager) OnTransition(fn TransitionListener) {
	m.listeners = append(m.listeners, fn)
}

// setState applies a transition and emits it. Invalid id changes are
// routed through None so the "id never changes without passing through
// None" invariant holds even for forced transitions.
func (m *Manager) setState(next types.Lifecycle) {
	m.mu.Lock()
	prev := m.current
	if prev == next {
		m.mu.Unlock()
		return
	}
	if !types.ValidTransition(prev, next) {
		logging.SessionDebug("Routing %s -> %s through none", prev, next)
		m.current = types.LifecycleNoneValue()
		key := m.refreshKey
		m.mu.Unlock()
		m.emit(prev, types.LifecycleNoneValue(), key)
		m.setState(next)
		return
	}
	m.current = next
	key := m.refreshKey
	m.mu.Unlock()

	logging.Session("Lifecycle transition: %s -> %s", prev, next)
	m.emit(prev, next, key)
}

// emit serializes listener invocation so transitions are observed in
// the order they were applied.
func (m *Manager) emit(prev, next types.Lifecycle, key uint64) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	for _, fn := range m.listeners {
		fn(prev, next, key)
	}
}

// StartNew transitions to Creating{id} unconditionally and records the
// id in the durable cache so a reload can resume it. The caller must
// immediately append the first message to the reconcile store and mark
// the id fresh; that ordering is what makes the later Active transition
// skip its history fetch.
func (m *Manager) StartNew(conversationID string) {
	m.setState(types.LifecycleCreatingValue(conversationID))
	if err := m.cache.SetConversation(m.agentID, conversationID); err != nil {
		// Cache loss only costs resume-after-reload.
		logging.Get(logging.CategorySession).Warn("Failed to cache conversation id: %v", err)
	}
}

// MarkActive confirms a Creating conversation. No-op in any other
// state; never clears messages.
func (m *Manager) MarkActive() {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur.State != types.LifecycleCreating {
		return
	}
	m.setState(types.LifecycleActiveValue(cur.ConversationID))
}

// Archive marks the current conversation abandoned in durable storage
// (best-effort), clears the cache entries, and transitions to None.
// Returns false when no conversation is active.
func (m *Manager) Archive(ctx context.Context) bool {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur.State != types.LifecycleActive {
		return false
	}

	if err := m.sessions.SetSessionStatus(ctx, cur.ConversationID, "abandoned"); err != nil {
		// Archiving is best-effort; the conversation still leaves view.
		logging.Get(logging.CategorySession).Warn("Archive write failed for %s: %v", cur.ConversationID, err)
	}
	if err := m.cache.ClearAgent(m.agentID); err != nil {
		logging.Get(logging.CategorySession).Warn("Failed to clear cache entries: %v", err)
	}
	m.setState(types.LifecycleNoneValue())
	return true
}

// Rename upserts the conversation title. Requires an active
// conversation and a known user; the write itself is best-effort.
func (m *Manager) Rename(ctx context.Context, title string) bool {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur.State != types.LifecycleActive || m.identity.UserID() == "" {
		return false
	}
	if err := m.sessions.SetSessionTitle(ctx, cur.ConversationID, m.agentID, title); err != nil {
		logging.Get(logging.CategorySession).Warn("Rename write failed for %s: %v", cur.ConversationID, err)
	}
	return true
}

// HandleActivation processes an out-of-band activation signal. Signals
// for other agents are ignored; a matching signal force-transitions to
// Active regardless of current state and opportunistically touches the
// last-active marker.
func (m *Manager) HandleActivation(ctx context.Context, sig types.ActivationSignal) {
	if sig.AgentID != m.agentID || sig.ConversationID == "" {
		return
	}
	logging.Session("External activation: conversation=%s", sig.ConversationID)
	m.setState(types.LifecycleActiveValue(sig.ConversationID))
	if err := m.sessions.TouchSession(ctx, sig.ConversationID, time.Now().UTC()); err != nil {
		logging.SessionDebug("Last-active touch failed for %s: %v", sig.ConversationID, err)
	}
	if err := m.cache.SetConversation(m.agentID, sig.ConversationID); err != nil {
		logging.SessionDebug("Failed to cache activated conversation: %v", err)
	}
}

// SyncSelection derives state from the external "selected conversation"
// reference. An empty reference clears the selection and purges the
// durable cache; a different id activates it; the same id bumps the
// refresh key so dependents reload without a state change.
func (m *Manager) SyncSelection(conversationID string) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()

	switch {
	case conversationID == "":
		if cur.State == types.LifecycleNone {
			return
		}
		if err := m.cache.ClearAgent(m.agentID); err != nil {
			logging.Get(logging.CategorySession).Warn("Failed to purge cache entries: %v", err)
		}
		m.setState(types.LifecycleNoneValue())

	case cur.State == types.LifecycleActive && cur.ConversationID == conversationID:
		m.mu.Lock()
		m.refreshKey++
		key := m.refreshKey
		m.mu.Unlock()
		logging.SessionDebug("Selection re-confirmed, refresh key now %d", key)
		m.emit(cur, cur, key)

	default:
		m.setState(types.LifecycleActiveValue(conversationID))
	}
}

// Resume restores the cached conversation for this agent after a
// process restart. Absent or stale cache entries resolve to None.
func (m *Manager) Resume() {
	cached := m.cache.Conversation(m.agentID)
	if cached == "" {
		return
	}
	logging.Session("Resuming cached conversation: %s", cached)
	m.setState(types.LifecycleActiveValue(cached))
}
