package allocator

import (
	"context"
	"sync"
	"time"

	"arbitration-service/allocation"

	"github.com/rs/zerolog/log"
)

// watcher is the handle of one lifecycle notifier.
type watcher struct {
	wake chan struct{}
	stop chan struct{}
}

func (w *watcher) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// notifiers tracks the running lifecycle notifiers. Its map is guarded by
// the controller's mutex.
type notifiers struct {
	watchers map[string]*watcher
	wg       sync.WaitGroup
}

func newNotifiers() *notifiers {
	return &notifiers{watchers: make(map[string]*watcher)}
}

// notify wakes the notifier of id so it re-reads its record.
func (n *notifiers) notify(id string) {
	w, ok := n.watchers[id]
	if !ok {
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// stop ends the notifier of id without touching its record.
func (n *notifiers) stop(id string) {
	w, ok := n.watchers[id]
	if !ok {
		return
	}
	delete(n.watchers, id)
	close(w.stop)
}

func (n *notifiers) wait() {
	n.wg.Wait()
}

// startNotifier launches the lifecycle notifier for a freshly stored record.
// Callers hold mu.
func (c *Controller) startNotifier(id string) {
	c.notifiers.stop(id)
	w := &watcher{wake: make(chan struct{}, 1), stop: make(chan struct{})}
	c.notifiers.watchers[id] = w
	c.notifiers.wg.Add(1)
	go c.watch(c.notifyCtx, id, w)
}

// wakeAt returns when the record needs the notifier's attention next.
func wakeAt(a allocation.Allocation, deadline time.Time) time.Time {
	switch a.State {
	case allocation.StateRequested:
		return deadline
	case allocation.StateScheduled:
		return a.Slot.Begin
	default:
		return a.Slot.End
	}
}

// watch parks until the next slot boundary of its record or until woken by a
// change, then performs the time-driven transition. It exits once the record
// is terminal and interrupts the record when ctx is cancelled.
func (c *Controller) watch(ctx context.Context, id string, w *watcher) {
	defer c.notifiers.wg.Done()
	deadline := time.Now().Add(c.timeout)

	for {
		c.mu.Lock()
		a, ok := c.registry.Get(id)
		c.mu.Unlock()
		if !ok || w.stopped() {
			return
		}

		timer := time.NewTimer(time.Until(wakeAt(a, deadline)))
		select {
		case <-ctx.Done():
			timer.Stop()
			c.interrupt(id, w)
			return
		case <-w.stop:
			timer.Stop()
			return
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
			c.advance(id, w, deadline)
		}
	}
}

// advance re-checks the record under the lock, since its slot may have moved
// since the notifier went to sleep.
func (c *Controller) advance(id string, w *watcher, deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w.stopped() {
		return
	}
	a, ok := c.registry.Get(id)
	if !ok {
		return
	}
	now := time.Now()
	switch a.State {
	case allocation.StateRequested:
		if !now.Before(deadline) {
			log.Warn().Str("allocationId", id).Dur("timeout", c.timeout).Msg("notifier: allocation not scheduled in time")
			c.commit(a.WithState(allocation.StateRejected).WithReason(ReasonSchedulingTimeout))
		}
	case allocation.StateScheduled:
		if !now.Before(a.Slot.Begin) {
			c.commit(a.WithState(allocation.StateAllocated))
		}
	case allocation.StateAllocated:
		if !now.Before(a.Slot.End) {
			c.commit(a.WithState(allocation.StateReleased))
		}
	}
}

// interrupt ends a record whose notifier is cancelled in the state matching
// how far its lifecycle got.
func (c *Controller) interrupt(id string, w *watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w.stopped() {
		return
	}
	a, ok := c.registry.Get(id)
	if !ok {
		return
	}
	log.Debug().Str("allocationId", id).Str("state", a.State.String()).Msg("notifier: interrupted")
	c.commit(a.WithState(allocation.Interrupted(a.State)).WithReason(ReasonInterrupted))
}
