package conversation

import (
	"context"

	"agentdeck/internal/logging"
	"agentdeck/internal/statecache"
	"agentdeck/internal/types"
)

// Controller binds the lifecycle manager, the reconcile store, and the
// external selection/activation sources into one running unit per
// agent. It owns the rule that a lifecycle transition retargets the
// live subscription first and only then triggers a history fetch.
type Controller struct {
	agentID    string
	lifecycle  *Manager
	seq        *ReconcileStore
	dispatcher *ActivationDispatcher
	cache      *statecache.Cache
}

func NewController(
	agentID string,
	lifecycle *Manager,
	seq *ReconcileStore,
	dispatcher *ActivationDispatcher,
	cache *statecache.Cache,
) *Controller {
	c := &Controller{
		agentID:    agentID,
		lifecycle:  lifecycle,
		seq:        seq,
		dispatcher: dispatcher,
		cache:      cache,
	}
	lifecycle.OnTransition(c.onTransition)
	return c
}

// onTransition runs synchronously on every lifecycle change. The
// reconcile store is updated inline so the visible sequence and the
// live subscription never lag the lifecycle; the history fetch runs in
// the background.
func (c *Controller) onTransition(prev, next types.Lifecycle, refreshKey uint64) {
	c.seq.ApplyLifecycle(prev, next)

	if next.State != types.LifecycleActive {
		return
	}
	reselected := prev == next // refresh key advanced, same conversation
	if prev.ConversationID != next.ConversationID || reselected {
		go func() {
			if err := c.seq.FetchHistory(context.Background()); err != nil {
				logging.Get(logging.CategorySync).Error("History fetch failed: %v", err)
			}
		}()
	}
}

// Run consumes activation signals and external selection changes until ctx is
// done. It restores any previously selected conversation first, then
// blocks; callers run it in its own goroutine.
func (c *Controller) Run(ctx context.Context) error {
	c.lifecycle.Resume()

	activations := c.dispatcher.Subscribe()
	defer c.dispatcher.Unsubscribe(activations)

	selections, err := c.cache.Watch(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.seq.Close()
			return ctx.Err()
		case sig, ok := <-activations:
			if !ok {
				return nil
			}
			c.lifecycle.HandleActivation(ctx, sig)
		case change, ok := <-selections:
			if !ok {
				return nil
			}
			if change.AgentID != c.agentID {
				continue
			}
			c.lifecycle.SyncSelection(change.ConversationID)
		}
	}
}
