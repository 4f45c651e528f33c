package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentdeck/internal/types"
)

func newTestMachine(t *testing.T) (*ProcessMachine, *ReconcileStore) {
	t.Helper()
	seq, _ := newTestSeq(t, newFakeReader())
	return NewProcessMachine("agent-1", seq, 0), seq
}

func TestStartSeedsThinking(t *testing.T) {
	p, seq := newTestMachine(t)

	p.Start()

	require.Equal(t, types.PhaseThinking, p.Phase())
	require.True(t, p.IndicatorVisible())

	steps := p.Steps()
	require.Len(t, steps, 1)
	require.Equal(t, types.PhaseThinking, steps[0].Phase)
	require.False(t, steps[0].Completed)

	msgs := seq.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, types.RoleThinking, msgs[0].Role)
}

func TestTransitionAppendsAndCompletes(t *testing.T) {
	p, _ := newTestMachine(t)
	p.Start()

	p.Transition(types.PhaseAnalyzingTools, "")
	p.Transition(types.PhaseGeneratingResponse, "")

	steps := p.Steps()
	require.Len(t, steps, 3)
	require.True(t, steps[0].Completed)
	require.True(t, steps[1].Completed)
	require.False(t, steps[2].Completed)
	require.Equal(t, types.PhaseGeneratingResponse, p.Phase())
}

func TestTransitionMergesRepeatedToolPhase(t *testing.T) {
	p, _ := newTestMachine(t)
	p.Start()

	p.Transition(types.PhaseExecutingTool, "search")
	p.Transition(types.PhaseExecutingTool, "calculator")

	steps := p.Steps()
	require.Len(t, steps, 2, "repeated executing_tool must merge into one step")
	require.Equal(t, "Using calculator", steps[1].Label)

	// Both tools are still accounted for.
	require.NoError(t, p.CompleteWithFinalText(context.Background(), "done"))
	final := lastMessage(t, p.seq)
	require.Equal(t, []string{"search", "calculator"}, final.AIProcessDetails.ToolsUsed)
}

func TestStepsNeverUncomplete(t *testing.T) {
	p, _ := newTestMachine(t)
	p.Start()

	p.Transition(types.PhaseExecutingTool, "search")
	p.Transition(types.PhaseProcessingResults, "")
	// A late transition back to an earlier phase appends; it must not
	// reopen the completed step.
	p.Transition(types.PhaseExecutingTool, "search")

	steps := p.Steps()
	require.Len(t, steps, 4)
	require.True(t, steps[1].Completed)
	require.False(t, steps[3].Completed)
}

func TestRecordResponseAndToolCall(t *testing.T) {
	p, _ := newTestMachine(t)
	p.Start()

	p.Transition(types.PhaseExecutingTool, "search")
	p.RecordToolCall(types.PhaseExecutingTool, "search(query)", "3 results")
	p.Transition(types.PhaseGeneratingResponse, "")
	p.RecordResponse(types.PhaseGeneratingResponse, "the reply")

	steps := p.Steps()
	require.Equal(t, "search(query)", steps[1].ToolCall)
	require.Equal(t, "3 results", steps[1].ToolResult)
	require.Equal(t, "the reply", steps[2].Response)
}

func TestCompleteWithFinalText(t *testing.T) {
	p, seq := newTestMachine(t)
	p.Start()
	p.Transition(types.PhaseGeneratingResponse, "")

	require.NoError(t, p.CompleteWithFinalText(context.Background(), "final answer"))

	msgs := seq.Messages()
	require.Len(t, msgs, 1, "placeholder must be replaced, not joined")
	final := msgs[0]
	require.Equal(t, types.RoleAssistant, final.Role)
	require.Equal(t, "final answer", final.Content)
	require.NotNil(t, final.AIProcessDetails)
	require.NotEmpty(t, final.AIProcessDetails.Steps)
	for i, step := range final.AIProcessDetails.Steps {
		require.True(t, step.Completed, "step %d left uncompleted", i)
	}
	require.GreaterOrEqual(t, final.AIProcessDetails.TotalDuration, time.Duration(0))
	require.Equal(t, types.PhaseCompleted, p.Phase())
	require.False(t, p.IndicatorVisible())
}

func TestCompleteTwiceFails(t *testing.T) {
	p, _ := newTestMachine(t)
	p.Start()

	require.NoError(t, p.CompleteWithFinalText(context.Background(), "first"))
	require.Error(t, p.CompleteWithFinalText(context.Background(), "second"))
}

func TestCompleteWithCancelledContext(t *testing.T) {
	p, seq := newTestMachine(t)
	p.Start()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, p.CompleteWithFinalText(ctx, "too late"), context.Canceled)

	// The placeholder stays; the cycle was not completed.
	msgs := seq.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, types.RoleThinking, msgs[0].Role)
}

func TestCompleteAsFailedKeepsPlaceholder(t *testing.T) {
	p, seq := newTestMachine(t)
	p.Start()
	p.Transition(types.PhaseAnalyzingTools, "")

	p.CompleteAsFailed(FailureCancelled)

	require.Equal(t, types.PhaseFailed, p.Phase())
	for i, step := range p.Steps() {
		require.True(t, step.Completed, "step %d left uncompleted", i)
	}
	msgs := seq.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, types.RoleThinking, msgs[0].Role)

	// Failure after completion is a no-op.
	p.CompleteAsFailed(FailureError)
	require.Equal(t, types.PhaseFailed, p.Phase())
}

func TestFailedCycleAfterSuccessIsNoop(t *testing.T) {
	p, _ := newTestMachine(t)
	p.Start()

	require.NoError(t, p.CompleteWithFinalText(context.Background(), "done"))
	p.CompleteAsFailed(FailureError)

	require.Equal(t, types.PhaseCompleted, p.Phase())
}

func TestIndicatorHideDelay(t *testing.T) {
	seq, _ := newTestSeq(t, newFakeReader())
	p := NewProcessMachine("agent-1", seq, 10*time.Millisecond)

	p.Start()
	require.NoError(t, p.CompleteWithFinalText(context.Background(), "done"))

	// Still visible immediately after completion, hidden shortly after.
	require.True(t, p.IndicatorVisible())
	require.Eventually(t, func() bool {
		return !p.IndicatorVisible()
	}, time.Second, 5*time.Millisecond)
}

func lastMessage(t *testing.T, seq *ReconcileStore) types.Message {
	t.Helper()
	msgs := seq.Messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}
