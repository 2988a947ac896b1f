package allocator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/interval"
)

// TieBreak decides whether a stored allocation blocks an incoming one of equal priority.
type TieBreak int

const (
	// TieBreakInitiator lets a HUMAN request take over an equal-priority slot
	// unless it is a refit or the holder was SYSTEM-initiated. SYSTEM requests
	// are always blocked by equal priority.
	TieBreakInitiator TieBreak = iota
	// TieBreakSymmetric blocks on equal priority regardless of initiator.
	TieBreakSymmetric
)

func (t TieBreak) String() string {
	switch t {
	case TieBreakInitiator:
		return "initiator"
	case TieBreakSymmetric:
		return "symmetric"
	}
	return fmt.Sprintf("TieBreak(%d)", int(t))
}

func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "initiator":
		return TieBreakInitiator, nil
	case "symmetric":
		return TieBreakSymmetric, nil
	}
	return TieBreakInitiator, fmt.Errorf("unknown tie break %q", s)
}

// blocks reports whether stored keeps incoming out of its slot, ignoring resources.
func (t TieBreak) blocks(stored, incoming allocation.Allocation, refit bool) bool {
	if stored.Priority != incoming.Priority {
		return stored.Priority > incoming.Priority
	}
	if t == TieBreakSymmetric || incoming.Initiator == allocation.InitiatorSystem {
		return true
	}
	return refit || stored.Initiator == allocation.InitiatorSystem
}

// conflicting returns live records other than a that compete for its
// resources, have not ended by now and satisfy keep, sorted by end.
func (c *Controller) conflicting(a allocation.Allocation, now time.Time, keep func(other allocation.Allocation) bool) []allocation.Allocation {
	var out []allocation.Allocation
	for _, other := range c.registry.Live() {
		if other.ID == a.ID || !other.Slot.End.After(now) || !a.Conflicts(other) {
			continue
		}
		if keep(other) {
			out = append(out, other)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Slot.End.Before(out[j].Slot.End)
	})
	return out
}

// blockers returns the live allocations that prevent a from taking its desired slot.
func (c *Controller) blockers(a allocation.Allocation, refit bool, now time.Time) []allocation.Allocation {
	return c.conflicting(a, now, func(stored allocation.Allocation) bool {
		return c.tieBreak.blocks(stored, a, refit)
	})
}

// affected returns the live allocations that a outranks and that may need a refit once a is accepted.
func (c *Controller) affected(a allocation.Allocation, now time.Time) []allocation.Allocation {
	return c.conflicting(a, now, func(stored allocation.Allocation) bool {
		return c.tieBreak.blocks(a, stored, true)
	})
}

func slots(as []allocation.Allocation) []interval.Interval {
	out := make([]interval.Interval, len(as))
	for i, a := range as {
		out[i] = a.Slot
	}
	return out
}

// fit computes a conflict-free slot for a against the current registry.
// A running allocation keeps its begin and may only be cut short.
func (c *Controller) fit(a allocation.Allocation, refit bool, now time.Time) (interval.Interval, bool) {
	blocking := slots(c.blockers(a, refit, now))
	if a.State == allocation.StateAllocated {
		if len(blocking) == 0 {
			return interval.IncludeNow(a.Slot, now), true
		}
		return interval.Remaining(a.Slot, blocking, now)
	}
	switch a.Policy {
	case allocation.PolicyFirst:
		return interval.First(a.Slot, a.Bound(), blocking)
	case allocation.PolicyMaximum:
		return interval.Maximum(a.Slot, a.Bound(), blocking)
	default:
		return interval.Preserve(a.Slot, a.Bound(), blocking)
	}
}
