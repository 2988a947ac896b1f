package allocator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/metrics"
	"arbitration-service/queues"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Handle once the controller has shut down.
var ErrClosed = errors.New("allocator: controller closed")

const (
	DefaultSchedulingTimeout = 2 * time.Second

	defaultOutboxSize = 1024
	publishTimeout    = 10 * time.Second
)

// Reasons appended to records that were changed without being asked to.
const (
	ReasonNoSlot            = "no slot available"
	ReasonExpired           = "slot expired"
	ReasonSuperseded        = "slot superseded"
	ReasonModifyDeclined    = "slot not available"
	ReasonSchedulingTimeout = "scheduling timeout"
	ReasonInterrupted       = "interrupted"
)

// Controller resolves inbound allocation records against the registry and
// broadcasts every committed change through its publisher.
// All registry mutation happens while holding mu.
type Controller struct {
	mu        sync.Mutex
	registry  *Registry
	notifiers *notifiers
	publisher queues.Publisher
	tieBreak  TieBreak
	timeout   time.Duration
	outbox    *outbox
	closed    bool

	notifyCtx    context.Context
	cancelNotify context.CancelFunc
}

type Option func(*Controller)

func WithTieBreak(t TieBreak) Option {
	return func(c *Controller) { c.tieBreak = t }
}

// WithSchedulingTimeout bounds how long a record may stay REQUESTED.
func WithSchedulingTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithOutboxSize bounds the number of broadcasts waiting for the publisher.
func WithOutboxSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.outbox = newOutbox(n)
		}
	}
}

func NewController(p queues.Publisher, opts ...Option) *Controller {
	c := &Controller{
		registry:  NewRegistry(),
		notifiers: newNotifiers(),
		publisher: p,
		tieBreak:  TieBreakInitiator,
		timeout:   DefaultSchedulingTimeout,
		outbox:    newOutbox(defaultOutboxSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.notifyCtx, c.cancelNotify = context.WithCancel(context.Background())
	return c
}

// Registry returns a read-only view of the controller's registry.
func (c *Controller) Registry() View {
	return View{r: c.registry}
}

// HandleRecord adapts Handle to queues.Handler. Invalid records are dropped.
func (c *Controller) HandleRecord(ctx context.Context, rec *queues.AllocationRecord) error {
	a, err := rec.Allocation()
	if err != nil {
		log.Error().Err(err).Str("allocationId", rec.ID).Msg("controller: dropping invalid record")
		metrics.IllegalRequests.Inc()
		return nil
	}
	return c.Handle(ctx, a)
}

// Handle dispatches one inbound record on its state and the state stored for its id.
// Infeasible fits and illegal transitions are not errors; they end in a
// broadcast or are logged and dropped.
func (c *Controller) Handle(ctx context.Context, a allocation.Allocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	stored, ok := c.registry.Get(a.ID)
	log.Debug().Str("allocationId", a.ID).Str("state", a.State.String()).Bool("stored", ok).Msg("controller: handling record")

	switch {
	case !ok && a.State == allocation.StateRequested:
		c.request(a)
	case ok && a.State == allocation.StateCancelled && stored.State == allocation.StateScheduled:
		c.finalize(stored, a)
	case ok && (a.State == allocation.StateAborted || a.State == allocation.StateReleased) && stored.State == allocation.StateAllocated:
		c.finalize(stored, a)
	case ok && (a.State == allocation.StateScheduled || a.State == allocation.StateAllocated) && stored.State == a.State:
		c.modify(stored, a)
	case !ok && a.State.Terminal():
		log.Debug().Str("allocationId", a.ID).Str("state", a.State.String()).Msg("controller: finalize for unknown allocation ignored")
	default:
		metrics.IllegalRequests.Inc()
		from := "none"
		if ok {
			from = stored.State.String()
		}
		log.Warn().Str("allocationId", a.ID).Str("from", from).Str("to", a.State.String()).Msg("controller: illegal transition ignored")
	}
	return nil
}

func (c *Controller) request(a allocation.Allocation) {
	now := time.Now()
	log.Info().Object("allocation", a).Msg("controller: allocation requested")
	c.registry.Put(a)
	c.startNotifier(a.ID)

	start := time.Now()
	slot, ok := c.fit(a, false, now)
	metrics.FitDuration.Observe(time.Since(start).Seconds())
	if !ok {
		c.commit(a.WithState(allocation.StateRejected).WithReason(ReasonNoSlot))
		return
	}
	if !slot.End.After(now) {
		c.commit(a.WithState(allocation.StateRejected).WithReason(ReasonExpired))
		return
	}
	log.Debug().Str("allocationId", a.ID).Stringer("requested", a.Slot).Stringer("fitted", slot).Msg("controller: slot fitted")

	scheduled := a.WithSlot(slot).WithState(allocation.StateScheduled)
	c.commit(scheduled)
	c.updateAffected(scheduled, fmt.Sprintf("%s by %s", ReasonSuperseded, a.ID), now)
}

// modify refits the stored record to the requested slot. A declined
// modification leaves the stored slot in place and is broadcast as such.
func (c *Controller) modify(stored, req allocation.Allocation) {
	now := time.Now()
	desired := stored.WithSlot(req.Slot)

	start := time.Now()
	slot, ok := c.fit(desired, false, now)
	metrics.FitDuration.Observe(time.Since(start).Seconds())
	if !ok {
		log.Info().Str("allocationId", stored.ID).Stringer("requested", req.Slot).Msg("controller: modification declined")
		c.commit(stored.WithReason(ReasonModifyDeclined))
		return
	}

	// A running allocation can only be trimmed; anything short of the requested end is a refusal.
	if stored.State == allocation.StateAllocated && !slot.End.Equal(desired.Slot.End) {
		log.Info().Str("allocationId", stored.ID).Stringer("requested", req.Slot).Stringer("available", slot).Msg("controller: modification declined")
		c.commit(stored.WithReason(ReasonModifyDeclined))
		return
	}

	modified := desired.WithSlot(slot)
	c.commit(modified)
	c.updateAffected(modified, fmt.Sprintf("%s by %s", ReasonSuperseded, stored.ID), now)
}

func (c *Controller) finalize(stored, req allocation.Allocation) {
	c.commit(stored.WithState(req.State).WithReason(req.Reason))
}

// updateAffected refits every live allocation that a outranks on a shared
// resource. Members without a feasible slot are cancelled or aborted; members
// whose slot moved are re-broadcast. The pass does not recurse: changes made
// here do not start further cascades, later records and notifier steps
// settle whatever is left. Members are refit highest priority first so that
// each one sees the final slots of everything that outranks it.
func (c *Controller) updateAffected(a allocation.Allocation, reason string, now time.Time) {
	members := c.affected(a, now)
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Priority > members[j].Priority
	})
	for _, member := range members {
		current, ok := c.registry.Get(member.ID)
		if !ok {
			continue
		}
		slot, ok := c.fit(current, true, now)
		if !ok {
			metrics.CascadeAdjustments.WithLabelValues("preempted").Inc()
			c.commit(current.WithState(allocation.Preempted(current.State)).WithReason(reason))
			continue
		}
		if slot.Equal(current.Slot) {
			continue
		}
		metrics.CascadeAdjustments.WithLabelValues("shifted").Inc()
		c.commit(current.WithSlot(slot).WithReason(reason))
	}
}

// commit stores a, or removes it when terminal, and queues its broadcast.
// Callers hold mu.
func (c *Controller) commit(a allocation.Allocation) {
	prev, had := c.registry.Get(a.ID)
	if a.State.Terminal() {
		c.registry.Remove(a.ID)
		c.notifiers.stop(a.ID)
	} else {
		c.registry.Put(a)
		c.notifiers.notify(a.ID)
	}
	metrics.LiveAllocations.Set(float64(c.registry.Len()))

	if !had || prev.State != a.State {
		metrics.TransitionsTotal.WithLabelValues(a.State.String()).Inc()
		from := "none"
		if had {
			from = prev.State.String()
		}
		ev := log.Info().Str("allocationId", a.ID).Str("from", from).Str("to", a.State.String()).Stringer("slot", a.Slot)
		if a.Reason != "" {
			ev = ev.Str("reason", a.Reason)
		}
		ev.Msg("controller: transition")
	} else {
		log.Debug().Str("allocationId", a.ID).Stringer("slot", a.Slot).Str("reason", a.Reason).Msg("controller: record updated")
	}
	c.outbox.push(a)
}

// Run publishes committed changes in commit order until ctx is done. It then
// interrupts every live allocation, publishes the resulting terminal records
// and returns.
func (c *Controller) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			batch, finished := c.outbox.take()
			if finished {
				return
			}
			if len(batch) == 0 {
				<-c.outbox.signal
				continue
			}
			for _, a := range batch {
				c.publish(a)
			}
		}
	}()

	<-ctx.Done()
	log.Info().Msg("controller: shutting down")
	c.shutdown()
	<-done
	log.Info().Msg("controller: stopped")
	return nil
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancelNotify()
	c.notifiers.wait()
	c.outbox.close()
}

func (c *Controller) publish(a allocation.Allocation) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.publisher.Publish(ctx, queues.FromAllocation(a)); err != nil {
		metrics.PublishFailures.Inc()
		log.Error().Err(err).Str("allocationId", a.ID).Str("state", a.State.String()).Msg("controller: failed to publish allocation")
	}
}
