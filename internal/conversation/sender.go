package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentdeck/internal/auth"
	"agentdeck/internal/chat"
	"agentdeck/internal/logging"
	"agentdeck/internal/statecache"
	"agentdeck/internal/store"
	"agentdeck/internal/types"
)

// MessageWriter is the write slice of the durable store the sender
// uses: the primary message insert (loud) and the best-effort session
// upsert.
type MessageWriter interface {
	InsertMessage(ctx context.Context, row store.MessageRow) (int64, error)
	UpsertSession(ctx context.Context, row store.SessionRow) error
}

// Sender orchestrates one send cycle: cancellation of the previous
// in-flight request, optimistic append, durable insert, the outbound
// chat request, and exactly one completion of the processing machine.
type Sender struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	reqSeq uint64

	agentID   string
	lifecycle *Manager
	seq       *ReconcileStore
	machine   *ProcessMachine
	client    chat.Client
	writer    MessageWriter
	identity  auth.Provider
	cache     *statecache.Cache

	newID func() string
	now   func() time.Time
}

func NewSender(
	agentID string,
	lifecycle *Manager,
	seq *ReconcileStore,
	machine *ProcessMachine,
	client chat.Client,
	writer MessageWriter,
	identity auth.Provider,
	cache *statecache.Cache,
) *Sender {
	return &Sender{
		agentID:   agentID,
		lifecycle: lifecycle,
		seq:       seq,
		machine:   machine,
		client:    client,
		writer:    writer,
		identity:  identity,
		cache:     cache,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Cancel aborts the in-flight request, if any. The cycle completes via
// the cancellation path: no error surfaces and optimistic messages stay
// untouched.
func (s *Sender) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// beginRequest cancels any previous in-flight request scoped to this
// sender and installs a fresh cancellation token. The returned sequence
// number identifies this request; a cycle whose number has been
// superseded must not touch the shared processing machine.
func (s *Sender) beginRequest(ctx context.Context) (context.Context, context.CancelFunc, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.reqSeq++
	reqCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return reqCtx, cancel, s.reqSeq
}

func (s *Sender) endRequest(cancel context.CancelFunc, seq uint64) {
	s.mu.Lock()
	// Only clear when a newer request has not replaced us.
	if s.reqSeq == seq {
		s.cancel = nil
	}
	s.mu.Unlock()
	cancel()
}

// owns reports whether this request still drives the processing
// machine, or has been superseded by a newer send.
func (s *Sender) owns(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqSeq == seq
}

// Send runs one full send cycle for the given user text. A nil return
// covers both success and user cancellation; genuine failures return
// the error after the placeholder has been reconciled into an error
// message.
func (s *Sender) Send(ctx context.Context, text string) error {
	reqCtx, cancel, seq := s.beginRequest(ctx)
	defer s.endRequest(cancel, seq)

	lc := s.lifecycle.Current()
	conversationID := lc.ConversationID
	firstMessage := lc.State == types.LifecycleNone
	if firstMessage {
		conversationID = s.newID()
		// Ordering is load-bearing: the conversation must be Creating
		// with its first message appended and its id marked fresh
		// before anything can transition it to Active and trigger a
		// fetch.
		s.lifecycle.StartNew(conversationID)
	}

	now := s.now()
	userMsg := types.Message{
		Role:         types.RoleUser,
		Content:      text,
		Timestamp:    now,
		SenderUserID: s.identity.UserID(),
		Metadata:     map[string]string{types.MetadataTargetAgent: s.agentID},
	}
	s.seq.AppendOptimistic(userMsg)
	if firstMessage {
		s.seq.MarkFresh(conversationID)
	}

	s.machine.Start()

	sessionID := s.sessionID()
	if _, err := s.writer.InsertMessage(reqCtx, store.MessageRow{
		ConversationID: conversationID,
		SessionID:      sessionID,
		Role:           string(types.RoleUser),
		Content:        text,
		SenderUserID:   userMsg.SenderUserID,
		Metadata:       userMsg.Metadata,
		CreatedAt:      now,
	}); err != nil {
		return s.failCycle(reqCtx, seq, text, fmt.Errorf("send: persist user message: %w", err))
	}

	s.machine.Transition(types.PhaseAnalyzingTools, "")

	resp, err := s.client.Send(reqCtx, chat.Request{
		ConversationID: conversationID,
		SessionID:      sessionID,
		AgentID:        s.agentID,
		Message:        text,
		ContextSize:    s.contextSize(),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || reqCtx.Err() != nil {
			// Expected outcome, silently logged. The placeholder stays;
			// prior optimistic messages are untouched. A superseded
			// request leaves the machine alone: the newer send owns it.
			logging.ProcessDebug("Request cancelled: %v", err)
			if s.owns(seq) {
				s.machine.CompleteAsFailed(FailureCancelled)
			}
			return nil
		}
		return s.failCycle(reqCtx, seq, text, fmt.Errorf("send: chat request: %w", err))
	}

	for _, tool := range resp.ToolsUsed {
		s.machine.Transition(types.PhaseExecutingTool, tool)
		s.machine.RecordToolCall(types.PhaseExecutingTool, tool, "")
	}
	if len(resp.ToolsUsed) > 0 {
		s.machine.Transition(types.PhaseProcessingResults, "")
	}
	s.machine.Transition(types.PhaseGeneratingResponse, "")
	s.machine.RecordResponse(types.PhaseGeneratingResponse, resp.Reply)

	if err := s.machine.CompleteWithFinalText(reqCtx, resp.Reply); err != nil {
		if reqCtx.Err() != nil {
			// Cancelled between the reply arriving and the commit: same
			// cancellation route as the earlier suspension points, so
			// the cycle still completes exactly once.
			logging.ProcessDebug("Cancelled before commit: %v", err)
			if s.owns(seq) {
				s.machine.CompleteAsFailed(FailureCancelled)
			}
			return nil
		}
		return fmt.Errorf("send: complete cycle: %w", err)
	}

	s.persistAssistant(conversationID, sessionID, resp.Reply)
	s.lifecycle.MarkActive()

	return nil
}

// failCycle routes a genuine failure: the machine fails, the optimistic
// user message is removed so it does not imply delivery, and the
// placeholder is reconciled into a descriptive error message.
func (s *Sender) failCycle(ctx context.Context, seq uint64, text string, err error) error {
	if ctx.Err() != nil {
		// A cancellation that surfaced as a write error still takes the
		// cancellation path.
		if s.owns(seq) {
			s.machine.CompleteAsFailed(FailureCancelled)
		}
		return nil
	}

	logging.Get(logging.CategoryProcess).Error("Send cycle failed: %v", err)
	s.machine.CompleteAsFailed(FailureError)
	s.seq.RemoveLastUserMessage(text)
	s.seq.CompleteThinking(types.Message{
		Role:          types.RoleAssistant,
		Content:       "Sorry, I couldn't process that message. Please try again.",
		Timestamp:     s.now(),
		SenderAgentID: s.agentID,
	})
	return err
}

// persistAssistant writes the assistant row and refreshes the session
// record. Both are best-effort: the reply is already visible locally
// and the push echo will be deduplicated if the write did land.
func (s *Sender) persistAssistant(conversationID, sessionID, reply string) {
	ctx, cancelWrite := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelWrite()

	if _, err := s.writer.InsertMessage(ctx, store.MessageRow{
		ConversationID: conversationID,
		SessionID:      sessionID,
		Role:           string(types.RoleAssistant),
		Content:        reply,
		SenderAgentID:  s.agentID,
		CreatedAt:      s.now(),
	}); err != nil {
		logging.Get(logging.CategorySync).Warn("Assistant row write failed: %v", err)
	}

	if err := s.writer.UpsertSession(ctx, store.SessionRow{
		ConversationID: conversationID,
		AgentID:        s.agentID,
		Status:         store.SessionStatusActive,
		LastActiveAt:   s.now(),
	}); err != nil {
		logging.Get(logging.CategorySync).Warn("Session upsert failed: %v", err)
	}
}

// sessionID returns the durable per-agent session id, minting one on
// first use.
func (s *Sender) sessionID() string {
	key := statecache.SessionKey(s.agentID)
	if id := s.cache.Get(key); id != "" {
		return id
	}
	id := s.newID()
	if err := s.cache.Set(key, id); err != nil {
		logging.CacheDebug("Failed to persist session id: %v", err)
	}
	return id
}

// contextSize reads the per-agent context-size preference, defensively.
func (s *Sender) contextSize() int {
	raw := s.cache.Get(statecache.ContextSizeKey(s.agentID))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
