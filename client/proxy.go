package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/interval"

	"github.com/rs/zerolog/log"
)

var (
	ErrTimeout        = errors.New("client: await timed out")
	ErrAlreadyStarted = errors.New("client: allocation already scheduled")
	ErrTerminal       = errors.New("client: allocation ended in another state")
)

// Proxy is one requester's handle on a single allocation. It keeps the
// latest record broadcast for its id and an append-only log of the states
// it observed.
type Proxy struct {
	svc *Service

	mu        sync.Mutex
	current   allocation.Allocation
	observed  []allocation.State
	changed   chan struct{}
	started   bool
	listeners []chan allocation.Allocation
}

func (p *Proxy) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.ID
}

// Schedule submits the allocation and starts following its updates. It
// waits for the service to be receiving so no broadcast is missed.
func (p *Proxy) Schedule(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	a := p.current
	p.observed = append(p.observed, a.State)
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()

	select {
	case <-p.svc.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	p.svc.watch(p, a.ID)
	if err := p.svc.publish(ctx, a); err != nil {
		p.svc.unwatch(p, a.ID)
		return fmt.Errorf("schedule %s: %w", a.ID, err)
	}
	log.Debug().Str("allocationId", a.ID).Strs("resources", a.ResourceIDs).Str("priority", a.Priority.String()).Msg("proxy: scheduled")
	return nil
}

func (p *Proxy) observe(a allocation.Allocation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current.State.Terminal() {
		return
	}
	if p.current.State != a.State {
		p.observed = append(p.observed, a.State)
		log.Debug().Str("allocationId", a.ID).Str("from", p.current.State.String()).Str("to", a.State.String()).Msg("proxy: state observed")
	}
	p.current = a
	close(p.changed)
	p.changed = make(chan struct{})

	for _, l := range p.listeners {
		select {
		case l <- a:
		default:
			log.Warn().Str("allocationId", a.ID).Msg("proxy: listener full; update dropped")
		}
	}
	if a.State.Terminal() {
		for _, l := range p.listeners {
			close(l)
		}
		p.listeners = nil
		p.svc.unwatch(p, a.ID)
	}
}

// Subscribe returns a channel receiving every update for this allocation.
// Updates are dropped when the channel is full. The channel is closed once
// a terminal state is observed.
func (p *Proxy) Subscribe(buffer int) <-chan allocation.Allocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan allocation.Allocation, buffer)
	if p.current.State.Terminal() {
		close(ch)
		return ch
	}
	p.listeners = append(p.listeners, ch)
	return ch
}

// Await blocks until state has been observed. It returns ErrTerminal when
// the allocation ended without reaching state, and ErrTimeout when ctx
// expires first.
func (p *Proxy) Await(ctx context.Context, state allocation.State) error {
	for {
		p.mu.Lock()
		if slices.Contains(p.observed, state) {
			p.mu.Unlock()
			return nil
		}
		last := p.current.State
		ended := p.started && last.Terminal()
		ch := p.changed
		p.mu.Unlock()

		if ended {
			return fmt.Errorf("%w: awaited %s, got %s", ErrTerminal, state, last)
		}
		select {
		case <-ch:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s not observed", ErrTimeout, state)
			}
			return ctx.Err()
		}
	}
}

func (p *Proxy) AwaitTimeout(state allocation.State, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Await(ctx, state)
}

func (p *Proxy) Cancel(ctx context.Context) error {
	return p.transition(ctx, allocation.StateCancelled)
}

func (p *Proxy) Abort(ctx context.Context) error {
	return p.transition(ctx, allocation.StateAborted)
}

func (p *Proxy) Release(ctx context.Context) error {
	return p.transition(ctx, allocation.StateReleased)
}

// Shutdown ends the allocation in whatever way its last observed state allows.
func (p *Proxy) Shutdown(ctx context.Context) error {
	switch p.State() {
	case allocation.StateRequested, allocation.StateScheduled:
		return p.Cancel(ctx)
	case allocation.StateAllocated:
		return p.Abort(ctx)
	}
	return nil
}

// transition asks the server to move the allocation to state. Requests the
// state machine does not allow from the last observed state are dropped.
func (p *Proxy) transition(ctx context.Context, to allocation.State) error {
	p.mu.Lock()
	if !p.started || !allocation.CanTransition(p.current.State, to) {
		log.Debug().Str("allocationId", p.current.ID).Str("from", p.current.State.String()).Str("to", to.String()).Msg("proxy: transition not allowed; ignored")
		p.mu.Unlock()
		return nil
	}
	a := p.current.WithState(to)
	p.mu.Unlock()
	return p.svc.publish(ctx, a)
}

func (p *Proxy) Shift(ctx context.Context, d time.Duration) error {
	return p.modify(ctx, func(s interval.Interval) interval.Interval { return s.Shift(d) })
}

func (p *Proxy) ShiftTo(ctx context.Context, t time.Time) error {
	return p.modify(ctx, func(s interval.Interval) interval.Interval { return s.ShiftTo(t) })
}

func (p *Proxy) Extend(ctx context.Context, d time.Duration) error {
	return p.modify(ctx, func(s interval.Interval) interval.Interval { return s.Extend(d) })
}

func (p *Proxy) ExtendTo(ctx context.Context, t time.Time) error {
	return p.modify(ctx, func(s interval.Interval) interval.Interval { return s.ExtendTo(t) })
}

// modify edits the slot locally before Schedule; afterwards it asks the
// server for the new slot. The server broadcasts the outcome either way.
func (p *Proxy) modify(ctx context.Context, f func(interval.Interval) interval.Interval) error {
	p.mu.Lock()
	if !p.started {
		p.current = p.current.WithSlot(f(p.current.Slot))
		p.mu.Unlock()
		return nil
	}
	if s := p.current.State; s != allocation.StateScheduled && s != allocation.StateAllocated {
		p.mu.Unlock()
		return nil
	}
	a := p.current.WithSlot(f(p.current.Slot))
	p.mu.Unlock()
	return p.svc.publish(ctx, a)
}

func (p *Proxy) State() allocation.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.State
}

// Current returns the latest record seen for this allocation.
func (p *Proxy) Current() allocation.Allocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone()
}

// HasState reports whether s was ever observed.
func (p *Proxy) HasState(s allocation.State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Contains(p.observed, s)
}

// Observed returns the states seen so far, in order.
func (p *Proxy) Observed() []allocation.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.observed)
}

// Remaining returns the time left until the slot ends, or -1 once the
// allocation is terminal.
func (p *Proxy) Remaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current.State.Terminal() {
		return -1
	}
	if d := time.Until(p.current.Slot.End); d > 0 {
		return d
	}
	return 0
}
