package conversation

import (
	"sync"

	"agentdeck/internal/types"
)

// ActivationDispatcher fans out "conversation activated" signals to
// subscribers. Collaborators outside the sync core (a sidebar picker, a
// deep link handler) publish; every lifecycle manager whose agent
// matches the signal force-transitions. The dispatcher is injected
// rather than global so the dependency is visible at the type level.
type ActivationDispatcher struct {
	mu   sync.RWMutex
	subs map[chan types.ActivationSignal]struct{}
}

func NewActivationDispatcher() *ActivationDispatcher {
	return &ActivationDispatcher{subs: make(map[chan types.ActivationSignal]struct{})}
}

// Subscribe returns a buffered channel of activation signals.
func (d *ActivationDispatcher) Subscribe() chan types.ActivationSignal {
	ch := make(chan types.ActivationSignal, 16)
	d.mu.Lock()
	d.subs[ch] = struct{}{}
	d.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (d *ActivationDispatcher) Unsubscribe(ch chan types.ActivationSignal) {
	d.mu.Lock()
	if _, ok := d.subs[ch]; ok {
		delete(d.subs, ch)
		close(ch)
	}
	d.mu.Unlock()
}

// Publish delivers a signal to all subscribers without blocking.
func (d *ActivationDispatcher) Publish(sig types.ActivationSignal) {
	d.mu.RLock()
	for ch := range d.subs {
		select {
		case ch <- sig:
		default:
		}
	}
	d.mu.RUnlock()
}
