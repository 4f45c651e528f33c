package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agentdeck/internal/logging"
	"agentdeck/internal/types"
)

// FailureCause distinguishes why a processing cycle ended without a
// final message.
type FailureCause int

const (
	// FailureCancelled means the user aborted or the component was torn
	// down. Not an error; prior optimistic messages stay untouched.
	FailureCancelled FailureCause = iota
	// FailureError means the request genuinely failed; the caller
	// surfaces an error and reconciles the placeholder.
	FailureError
)

func (c FailureCause) String() string {
	if c == FailureCancelled {
		return "cancelled"
	}
	return "error"
}

// ProcessMachine drives the "agent is working" pipeline: phase
// transitions, per-phase step records, and the eventual collapse of the
// thinking placeholder into the persisted-equivalent assistant message,
// exactly once per cycle.
type ProcessMachine struct {
	mu  sync.Mutex
	seq *ReconcileStore

	agentID string
	phase   types.ProcessPhase
	steps   []types.ProcessStep
	tools   []string

	startedAt time.Time
	active    bool
	completed bool

	indicator bool
	hideDelay time.Duration
	hideTimer *time.Timer

	now func() time.Time
}

func NewProcessMachine(agentID string, seq *ReconcileStore, hideDelay time.Duration) *ProcessMachine {
	return &ProcessMachine{
		agentID:   agentID,
		seq:       seq,
		hideDelay: hideDelay,
		now:       time.Now,
	}
}

// Phase returns the current phase.
func (p *ProcessMachine) Phase() types.ProcessPhase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Steps returns a snapshot of the step list.
func (p *ProcessMachine) Steps() []types.ProcessStep {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ProcessStep, len(p.steps))
	copy(out, p.steps)
	return out
}

// IndicatorVisible reports whether the "agent is working" indicator
// should be shown.
func (p *ProcessMachine) IndicatorVisible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indicator
}

// Start opens a new cycle: appends the thinking placeholder to the
// sequence, clears prior steps, and seeds the initial thinking step.
func (p *ProcessMachine) Start() {
	p.mu.Lock()
	now := p.now()
	p.phase = types.PhaseThinking
	p.steps = []types.ProcessStep{{
		Phase:     types.PhaseThinking,
		Label:     labelFor(types.PhaseThinking, ""),
		StartedAt: now,
	}}
	p.tools = nil
	p.startedAt = now
	p.active = true
	p.completed = false
	p.indicator = true
	if p.hideTimer != nil {
		p.hideTimer.Stop()
		p.hideTimer = nil
	}
	p.mu.Unlock()

	p.seq.AppendThinking(types.Message{
		Content:       "",
		Timestamp:     now,
		SenderAgentID: p.agentID,
	})
	logging.Process("Cycle started")
}

// Transition moves to a new phase. If the trailing step carries the
// same phase and is not completed, new fields merge into it (repeated
// executing_tool updates); otherwise all prior steps complete and a new
// step is appended. Steps never un-complete.
func (p *ProcessMachine) Transition(phase types.ProcessPhase, toolName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}

	now := p.now()
	p.phase = phase

	if phase == types.PhaseExecutingTool && toolName != "" {
		p.tools = append(p.tools, toolName)
	}

	if n := len(p.steps); n > 0 {
		last := &p.steps[n-1]
		if last.Phase == phase && !last.Completed {
			if label := labelFor(phase, toolName); toolName != "" {
				last.Label = label
			}
			logging.ProcessDebug("Merged into step: phase=%s", phase)
			return
		}
	}

	p.completeStepsLocked(now)
	p.steps = append(p.steps, types.ProcessStep{
		Phase:     phase,
		Label:     labelFor(phase, toolName),
		StartedAt: now,
	})
	logging.ProcessDebug("Transition: phase=%s steps=%d", phase, len(p.steps))
}

// RecordResponse attaches captured response text to the most recent
// step with the given phase. Inspection data only; never changes
// control flow.
func (p *ProcessMachine) RecordResponse(phase types.ProcessPhase, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.steps) - 1; i >= 0; i-- {
		if p.steps[i].Phase == phase {
			p.steps[i].Response = text
			return
		}
	}
}

// RecordToolCall attaches a tool invocation description (and optional
// result payload) to the most recent step with the given phase.
func (p *ProcessMachine) RecordToolCall(phase types.ProcessPhase, call, result string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.steps) - 1; i >= 0; i-- {
		if p.steps[i].Phase == phase {
			p.steps[i].ToolCall = call
			if result != "" {
				p.steps[i].ToolResult = result
			}
			return
		}
	}
}

// CompleteWithFinalText closes the cycle successfully: all steps
// complete, and the trailing thinking placeholder is replaced in one
// atomic step with the assistant message carrying the full step list.
// Callers invoke it at most once per cycle, from the single success
// path.
func (p *ProcessMachine) CompleteWithFinalText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return fmt.Errorf("process: cycle already completed")
	}
	now := p.now()
	p.completeStepsLocked(now)
	p.phase = types.PhaseCompleted
	p.completed = true
	p.active = false

	total := now.Sub(p.startedAt)
	if len(p.steps) > 0 {
		total = now.Sub(p.steps[0].StartedAt)
	}
	steps := make([]types.ProcessStep, len(p.steps))
	copy(steps, p.steps)
	tools := make([]string, len(p.tools))
	copy(tools, p.tools)
	p.mu.Unlock()

	final := types.Message{
		Role:          types.RoleAssistant,
		Content:       text,
		Timestamp:     now,
		SenderAgentID: p.agentID,
		AIProcessDetails: &types.AIProcessDetails{
			Steps:         steps,
			TotalDuration: total,
			ToolsUsed:     tools,
		},
	}
	if !p.seq.CompleteThinking(final) {
		logging.Get(logging.CategoryProcess).Warn("No thinking placeholder found, appended final message")
	}

	p.scheduleIndicatorHide()
	logging.Process("Cycle completed: steps=%d total=%v", len(steps), total)
	return nil
}

// CompleteAsFailed closes the cycle without a final message: the phase
// goes to failed and all recorded steps complete for audit. The
// thinking placeholder is deliberately left in the sequence; the caller
// reconciles it (or leaves it) depending on the failure cause.
func (p *ProcessMachine) CompleteAsFailed(cause FailureCause) {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return
	}
	p.completeStepsLocked(p.now())
	p.phase = types.PhaseFailed
	p.completed = true
	p.active = false
	p.mu.Unlock()

	p.scheduleIndicatorHide()
	logging.Process("Cycle failed: cause=%s", cause)
}

// completeStepsLocked marks every uncompleted step done. Caller holds
// the lock.
func (p *ProcessMachine) completeStepsLocked(now time.Time) {
	for i := range p.steps {
		if !p.steps[i].Completed {
			p.steps[i].Completed = true
			p.steps[i].Duration = now.Sub(p.steps[i].StartedAt)
		}
	}
}

// scheduleIndicatorHide delays hiding the working indicator briefly so
// a fast completion does not flicker.
func (p *ProcessMachine) scheduleIndicatorHide() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hideTimer != nil {
		p.hideTimer.Stop()
	}
	if p.hideDelay <= 0 {
		p.indicator = false
		return
	}
	p.hideTimer = time.AfterFunc(p.hideDelay, func() {
		p.mu.Lock()
		if !p.active {
			p.indicator = false
		}
		p.mu.Unlock()
	})
}

// labelFor derives the human-readable step label from a phase tag.
func labelFor(phase types.ProcessPhase, toolName string) string {
	switch phase {
	case types.PhaseThinking:
		return "Thinking"
	case types.PhaseAnalyzingTools:
		return "Analyzing available tools"
	case types.PhaseExecutingTool:
		if toolName != "" {
			return fmt.Sprintf("Using %s", toolName)
		}
		return "Executing tool"
	case types.PhaseProcessingResults:
		return "Processing results"
	case types.PhaseGeneratingResponse:
		return "Generating response"
	case types.PhaseCompleted:
		return "Completed"
	case types.PhaseFailed:
		return "Failed"
	}
	return string(phase)
}
