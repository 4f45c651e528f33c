// Package types defines the shared domain types for agentdeck: chat
// messages, the conversation lifecycle variant, and the AI processing
// step records attached to assistant messages.
package types

import (
	"fmt"
	"time"
)

// Role identifies the author class of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleThinking marks the transient placeholder shown while the agent
	// is working. At most one uncompleted thinking message exists per
	// conversation view, and it is always the trailing entry.
	RoleThinking Role = "thinking"
)

// Message is one entry in a conversation's merged sequence. The owning
// conversation is implicit: a Message only exists inside the reconcile
// store scoped to that conversation.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time

	// Optional sender identifiers.
	SenderUserID  string
	SenderAgentID string

	// Metadata carries arbitrary key/value pairs. The target_agent key
	// disambiguates historical rows that predate explicit tagging.
	Metadata map[string]string

	// AIProcessDetails is present on assistant messages that were
	// produced by a local processing cycle. History fetches cannot
	// reconstruct it, so the reconcile store preserves it across
	// refreshes.
	AIProcessDetails *AIProcessDetails
}

// MetadataTargetAgent is the metadata key naming the agent a row was
// addressed to.
const MetadataTargetAgent = "target_agent"

// TargetAgent returns the target_agent metadata tag, or "" when the row
// is untagged.
func (m *Message) TargetAgent() string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[MetadataTargetAgent]
}

// AIProcessDetails records what the agent did while producing a
// response: the ordered phase steps, the wall-clock total, and a
// summary of tools used.
type AIProcessDetails struct {
	Steps         []ProcessStep
	TotalDuration time.Duration
	ToolsUsed     []string
}

// ProcessPhase tags one stage of the AI processing pipeline.
type ProcessPhase string

const (
	PhaseThinking           ProcessPhase = "thinking"
	PhaseAnalyzingTools     ProcessPhase = "analyzing_tools"
	PhaseExecutingTool      ProcessPhase = "executing_tool"
	PhaseProcessingResults  ProcessPhase = "processing_results"
	PhaseGeneratingResponse ProcessPhase = "generating_response"
	PhaseCompleted          ProcessPhase = "completed"
	PhaseFailed             ProcessPhase = "failed"
)

// ProcessStep is one entry in the per-cycle step log. Steps are
// append-ordered and never un-complete.
type ProcessStep struct {
	Phase      ProcessPhase
	Label      string
	StartedAt  time.Time
	Completed  bool
	Duration   time.Duration
	Detail     string
	Response   string
	ToolCall   string
	ToolResult string
}

// LifecycleState is the discriminant of the Lifecycle variant.
type LifecycleState int

const (
	// LifecycleNone means no conversation is selected.
	LifecycleNone LifecycleState = iota
	// LifecycleCreating means an id has been minted locally but the
	// first message may not be durably committed yet.
	LifecycleCreating
	// LifecycleActive means the conversation is known to exist.
	LifecycleActive
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleNone:
		return "none"
	case LifecycleCreating:
		return "creating"
	case LifecycleActive:
		return "active"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Lifecycle is the tagged "which conversation is current" value.
// ConversationID is empty exactly when State is LifecycleNone.
type Lifecycle struct {
	State          LifecycleState
	ConversationID string
}

func LifecycleNoneValue() Lifecycle {
	return Lifecycle{State: LifecycleNone}
}

func LifecycleCreatingValue(id string) Lifecycle {
	return Lifecycle{State: LifecycleCreating, ConversationID: id}
}

func LifecycleActiveValue(id string) Lifecycle {
	return Lifecycle{State: LifecycleActive, ConversationID: id}
}

func (l Lifecycle) String() string {
	if l.State == LifecycleNone {
		return "none"
	}
	return fmt.Sprintf("%s{%s}", l.State, l.ConversationID)
}

// ValidTransition reports whether moving from l to next respects the
// lifecycle invariant: Creating{id} may only become Active{id} with the
// same id, and no transition changes the id without passing through
// None. Force-activation from an external signal is modeled as a
// transition to Active and is legal from any state.
func ValidTransition(l, next Lifecycle) bool {
	switch next.State {
	case LifecycleNone:
		return next.ConversationID == ""
	case LifecycleCreating:
		if next.ConversationID == "" {
			return false
		}
		return l.State == LifecycleNone ||
			(l.State == LifecycleCreating && l.ConversationID == next.ConversationID)
	case LifecycleActive:
		if next.ConversationID == "" {
			return false
		}
		if l.State == LifecycleCreating {
			return l.ConversationID == next.ConversationID
		}
		return true
	}
	return false
}

// ActivationSignal is the out-of-band "conversation activated" event
// raised by collaborators outside the sync core (a sidebar picker, a
// deep link). Listeners scoped to AgentID force-transition to
// Active{ConversationID}.
type ActivationSignal struct {
	AgentID        string
	ConversationID string
}
