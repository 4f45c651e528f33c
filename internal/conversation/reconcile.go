package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agentdeck/internal/config"
	"agentdeck/internal/logging"
	"agentdeck/internal/store"
	"agentdeck/internal/types"
)

// HistoryReader is the read slice of the durable store the reconcile
// store fetches from.
type HistoryReader interface {
	MessagesBySender(ctx context.Context, conversationID, agentID string) ([]store.MessageRow, error)
	MessagesAddressedTo(ctx context.Context, conversationID, agentID string) ([]store.MessageRow, error)
	GetSession(ctx context.Context, conversationID string) (*store.SessionRow, error)
}

// LiveSource provides the per-conversation push channel.
type LiveSource interface {
	Subscribe(conversationID string) chan store.InsertEvent
	Unsubscribe(conversationID string, ch chan store.InsertEvent)
}

// ReconcileStore owns the in-memory ordered message sequence for the
// current conversation. It merges three independently-arriving sources
// into one duplicate-free, time-ordered sequence: historical reads,
// locally-optimistic writes, and push-delivered inserts.
type ReconcileStore struct {
	mu      sync.Mutex
	agentID string

	reader HistoryReader
	live   LiveSource
	fresh  *FreshnessSet

	dedupWindow  time.Duration
	spliceWindow time.Duration
	legacyWindow time.Duration

	lifecycle types.Lifecycle
	messages  []types.Message
	loading   bool
	scrollSeq uint64

	subConv string
	subCh   chan store.InsertEvent
	subWG   sync.WaitGroup

	now func() time.Time
}

func NewReconcileStore(agentID string, reader HistoryReader, live LiveSource, fresh *FreshnessSet, sync config.SyncConfig) *ReconcileStore {
	return &ReconcileStore{
		agentID:      agentID,
		reader:       reader,
		live:         live,
		fresh:        fresh,
		dedupWindow:  sync.GetPushDedupWindow(),
		spliceWindow: sync.GetSpliceWindow(),
		legacyWindow: sync.GetLegacyProximityWindow(),
		lifecycle:    types.LifecycleNoneValue(),
		now:          time.Now,
	}
}

// Messages returns a snapshot of the merged sequence.
func (r *ReconcileStore) Messages() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Loading reports whether a history load is in progress.
func (r *ReconcileStore) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// ScrollSeq returns the "scroll to latest" signal: it increases every
// time the visible tail may have changed.
func (r *ReconcileStore) ScrollSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scrollSeq
}

// MarkFresh registers a conversation id with the freshness tracker.
func (r *ReconcileStore) MarkFresh(conversationID string) {
	r.fresh.Mark(conversationID)
}

// AppendOptimistic appends a message without waiting for durable
// confirmation. The sequence may be transiently out of order until the
// next sorting mutation; last writer wins at replace granularity.
func (r *ReconcileStore) AppendOptimistic(msg types.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.scrollSeq++
	r.mu.Unlock()
	logging.SyncDebug("Optimistic append: role=%s content_len=%d", msg.Role, len(msg.Content))
}

// ApplyLifecycle reacts to a lifecycle transition. Clearing rules:
// entering None clears; Active{a} -> Active{b} with a != b clears and
// enters loading; None -> Creating and Creating -> Active preserve the
// optimistic sequence. The live subscription follows the current
// conversation id.
func (r *ReconcileStore) ApplyLifecycle(prev, next types.Lifecycle) {
	r.mu.Lock()
	r.lifecycle = next

	switch {
	case next.State == types.LifecycleNone:
		r.messages = nil
		r.loading = false
	case prev.State == types.LifecycleActive && next.State == types.LifecycleActive &&
		prev.ConversationID != next.ConversationID:
		r.messages = nil
		r.loading = true
	}
	r.mu.Unlock()

	r.retargetSubscription(next.ConversationID)
}

// retargetSubscription tears down the previous push subscription and
// opens one for the new conversation. Exactly one channel is open per
// active conversation; the old one is closed before the new one opens.
func (r *ReconcileStore) retargetSubscription(conversationID string) {
	r.mu.Lock()
	if r.subConv == conversationID {
		r.mu.Unlock()
		return
	}
	oldConv, oldCh := r.subConv, r.subCh
	r.subConv, r.subCh = "", nil
	r.mu.Unlock()

	if oldCh != nil {
		r.live.Unsubscribe(oldConv, oldCh)
		r.subWG.Wait()
	}
	if conversationID == "" {
		return
	}

	ch := r.live.Subscribe(conversationID)
	r.mu.Lock()
	r.subConv, r.subCh = conversationID, ch
	r.mu.Unlock()

	r.subWG.Add(1)
	go r.consumeLive(conversationID, ch)
	logging.SyncDebug("Live subscription opened: conversation=%s", conversationID)
}

// consumeLive appends push-delivered inserts, deduplicating echoes of
// messages this client already holds.
func (r *ReconcileStore) consumeLive(conversationID string, ch chan store.InsertEvent) {
	defer r.subWG.Done()
	for ev := range ch {
		r.applyLiveInsert(conversationID, ev.Row)
	}
}

func (r *ReconcileStore) applyLiveInsert(conversationID string, row store.MessageRow) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The subscription may have been retargeted while the event was in
	// flight; drop events for a conversation no longer current.
	if r.lifecycle.ConversationID != conversationID {
		return
	}

	msg := rowToMessage(row)
	for i := range r.messages {
		if r.messages[i].Content == msg.Content &&
			absDuration(r.messages[i].Timestamp.Sub(msg.Timestamp)) <= r.dedupWindow {
			logging.SyncDebug("Dropped push echo: content_len=%d", len(msg.Content))
			return
		}
	}

	r.messages = append(r.messages, msg)
	sortByTimestamp(r.messages)
	r.scrollSeq++
	logging.SyncDebug("Live insert applied: role=%s", msg.Role)
}

// Close tears down the live subscription.
func (r *ReconcileStore) Close() {
	r.retargetSubscription("")
}

// FetchHistory loads and reconciles the durable history for the active
// conversation. It is skipped when the lifecycle is not Active and when
// the conversation is fresh (the optimistic path already holds the
// authoritative sequence). Transient read failures leave the current
// sequence untouched.
func (r *ReconcileStore) FetchHistory(ctx context.Context) error {
	r.mu.Lock()
	lc := r.lifecycle
	local := make([]types.Message, len(r.messages))
	copy(local, r.messages)
	r.mu.Unlock()

	if lc.State != types.LifecycleActive {
		logging.SyncDebug("Fetch skipped: lifecycle=%s", lc)
		return nil
	}
	if r.fresh.IsFresh(lc.ConversationID) {
		logging.SyncDebug("Fetch skipped: conversation %s is fresh", lc.ConversationID)
		r.mu.Lock()
		r.loading = false
		r.mu.Unlock()
		return nil
	}

	timer := logging.StartTimer(logging.CategorySync, "FetchHistory")
	defer timer.Stop()

	session, err := r.reader.GetSession(ctx, lc.ConversationID)
	if err != nil {
		logging.Get(logging.CategorySync).Warn("Session check failed for %s: %v", lc.ConversationID, err)
		return err
	}
	if session != nil && !session.IsActive() {
		logging.Sync("Conversation %s is archived, clearing view", lc.ConversationID)
		r.replaceIfCurrent(lc.ConversationID, nil)
		return nil
	}

	var sent, addressed []store.MessageRow
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sent, err = r.reader.MessagesBySender(gctx, lc.ConversationID, r.agentID)
		return err
	})
	g.Go(func() error {
		var err error
		addressed, err = r.reader.MessagesAddressedTo(gctx, lc.ConversationID, r.agentID)
		return err
	})
	if err := g.Wait(); err != nil {
		logging.Get(logging.CategorySync).Warn("History fetch failed for %s: %v", lc.ConversationID, err)
		return err
	}

	merged := r.mergeFetched(sent, addressed)
	merged = r.spliceLocal(merged, local)
	sortByTimestamp(merged)

	r.replaceIfCurrent(lc.ConversationID, merged)
	logging.Sync("History loaded: conversation=%s messages=%d", lc.ConversationID, len(merged))
	return nil
}

// replaceIfCurrent swaps in a freshly built sequence unless the
// conversation changed while the fetch was in flight.
func (r *ReconcileStore) replaceIfCurrent(conversationID string, msgs []types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lifecycle.ConversationID != conversationID {
		logging.SyncDebug("Discarding stale fetch for %s", conversationID)
		return
	}
	r.messages = msgs
	r.loading = false
	r.scrollSeq++
}

// mergeFetched unions the two query shapes: rows this agent sent, and
// rows addressed to it. Addressed rows count when explicitly tagged for
// this agent; untagged rows go through the legacy proximity heuristic.
func (r *ReconcileStore) mergeFetched(sent, addressed []store.MessageRow) []types.Message {
	var anchors []time.Time
	for _, row := range sent {
		anchors = append(anchors, row.CreatedAt)
	}

	out := make([]types.Message, 0, len(sent)+len(addressed))
	for _, row := range sent {
		out = append(out, rowToMessage(row))
	}
	for _, row := range addressed {
		switch {
		case row.TargetAgent() == r.agentID:
			out = append(out, rowToMessage(row))
		case row.TargetAgent() == "":
			if legacyAttributed(row.CreatedAt, anchors, r.legacyWindow) {
				out = append(out, rowToMessage(row))
			}
		}
	}
	return out
}

// legacyAttributed is the best-effort fallback for historical rows that
// predate explicit target tagging: an untagged row is attributed to
// this agent only when its timestamp falls within the proximity window
// of at least one row known to be from this agent. Heuristic, not
// exact.
func legacyAttributed(ts time.Time, anchors []time.Time, window time.Duration) bool {
	for _, anchor := range anchors {
		if absDuration(ts.Sub(anchor)) <= window {
			return true
		}
	}
	return false
}

// spliceLocal re-splices locally-held state a fetch cannot reconstruct:
// assistant messages carrying process details (replace the fetched twin
// or append), and recent user messages that may not be tag-replicated
// yet.
func (r *ReconcileStore) spliceLocal(fetched, local []types.Message) []types.Message {
	now := r.now()
	for _, msg := range local {
		switch {
		case msg.Role == types.RoleAssistant && msg.AIProcessDetails != nil && len(msg.AIProcessDetails.Steps) > 0:
			if i, ok := findTwin(fetched, msg, r.spliceWindow); ok {
				fetched[i] = msg
			} else {
				fetched = append(fetched, msg)
			}
		case msg.Role == types.RoleUser && now.Sub(msg.Timestamp) <= r.spliceWindow:
			if _, ok := findTwin(fetched, msg, r.spliceWindow); !ok {
				fetched = append(fetched, msg)
			}
		}
	}
	return fetched
}

// findTwin locates a fetched message with identical content within the
// proximity window.
func findTwin(msgs []types.Message, target types.Message, window time.Duration) (int, bool) {
	for i := range msgs {
		if msgs[i].Content == target.Content &&
			absDuration(msgs[i].Timestamp.Sub(target.Timestamp)) <= window {
			return i, true
		}
	}
	return -1, false
}

// AppendThinking appends the working placeholder, displacing any
// existing one so at most a single thinking message exists and it is
// always trailing. A stale placeholder may sit mid-sequence when a
// superseded cycle left one behind and the next send already appended
// its user message; it is removed, not just skipped.
func (r *ReconcileStore) AppendThinking(msg types.Message) {
	msg.Role = types.RoleThinking
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.messages[:0]
	for _, m := range r.messages {
		if m.Role != types.RoleThinking {
			kept = append(kept, m)
		}
	}
	r.messages = append(kept, msg)
	r.scrollSeq++
}

// CompleteThinking atomically replaces the trailing thinking
// placeholder with the final message. When no placeholder survives (a
// concurrent clear pruned it), the final message is appended instead so
// the response is never lost. Reports whether a placeholder was found.
func (r *ReconcileStore) CompleteThinking(final types.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Role == types.RoleThinking {
			r.messages[i] = final
			r.scrollSeq++
			return true
		}
	}
	r.messages = append(r.messages, final)
	r.scrollSeq++
	return false
}

// RemoveLastUserMessage drops the most recent user message with the
// given content (the optimistic write of a failed send).
func (r *ReconcileStore) RemoveLastUserMessage(content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Role == types.RoleUser && r.messages[i].Content == content {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return true
		}
	}
	return false
}

func rowToMessage(row store.MessageRow) types.Message {
	return types.Message{
		Role:          types.Role(row.Role),
		Content:       row.Content,
		Timestamp:     row.CreatedAt,
		SenderUserID:  row.SenderUserID,
		SenderAgentID: row.SenderAgentID,
		Metadata:      row.Metadata,
	}
}

func sortByTimestamp(msgs []types.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
