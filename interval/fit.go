package interval

import (
	"sort"
	"time"
)

// The fitting functions below are pure: results depend only on their arguments.
// Blockers may be passed in any order; callers conventionally sort them by end.

// Preserve returns desired if it lies within bound and overlaps no blocker.
func Preserve(desired, bound Interval, blockers []Interval) (Interval, bool) {
	if available(desired, bound, blockers) {
		return desired, true
	}
	return Interval{}, false
}

// First returns desired when it is available, otherwise the earliest gap in
// bound that can hold the full duration of desired.
func First(desired, bound Interval, blockers []Interval) (Interval, bool) {
	if available(desired, bound, blockers) {
		return desired, true
	}
	d := desired.Duration()
	for _, g := range Gaps(bound, blockers) {
		if g.Duration() >= d {
			return Interval{Begin: g.Begin, End: g.Begin.Add(d)}, true
		}
	}
	return Interval{}, false
}

// Maximum returns desired when it is available, otherwise the largest gap in
// bound, cut to the duration of desired. Equal gaps resolve to the earliest.
func Maximum(desired, bound Interval, blockers []Interval) (Interval, bool) {
	if available(desired, bound, blockers) {
		return desired, true
	}
	var (
		best  Interval
		found bool
	)
	for _, g := range Gaps(bound, blockers) {
		if !found || g.Duration() > best.Duration() {
			best, found = g, true
		}
	}
	if !found {
		return Interval{}, false
	}
	if d := desired.Duration(); best.Duration() > d {
		best.End = best.Begin.Add(d)
	}
	return best, true
}

// Remaining refits an interval that has already started. Its begin is fixed;
// only the end may be cut back to the begin of the nearest overlapping blocker.
// It fails when that blocker begins at or before now.
func Remaining(current Interval, blockers []Interval, now time.Time) (Interval, bool) {
	var (
		nearest Interval
		found   bool
	)
	for _, b := range blockers {
		if !b.Overlaps(current) {
			continue
		}
		if !found || b.Begin.Before(nearest.Begin) {
			nearest, found = b, true
		}
	}
	if !found {
		return current, true
	}
	if !nearest.Begin.After(now) || !nearest.Begin.After(current.Begin) {
		return Interval{}, false
	}
	return Interval{Begin: current.Begin, End: nearest.Begin}, true
}

// IncludeNow clamps the begin of a started interval so that it does not lie after now.
func IncludeNow(current Interval, now time.Time) Interval {
	if current.Begin.After(now) {
		current.Begin = now
	}
	return current
}

// Gaps returns the free sub-intervals of bound not covered by any blocker, in ascending order.
func Gaps(bound Interval, blockers []Interval) []Interval {
	busy := make([]Interval, 0, len(blockers))
	for _, b := range blockers {
		if b.Valid() && b.Overlaps(bound) {
			busy = append(busy, b)
		}
	}
	sort.Slice(busy, func(i, j int) bool {
		return busy[i].Begin.Before(busy[j].Begin)
	})

	var free []Interval
	cursor := bound.Begin
	for _, b := range busy {
		if b.Begin.After(cursor) {
			free = append(free, Interval{Begin: cursor, End: b.Begin})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(bound.End) {
		free = append(free, Interval{Begin: cursor, End: bound.End})
	}
	return free
}

func available(desired, bound Interval, blockers []Interval) bool {
	if !desired.Valid() || !bound.Contains(desired) {
		return false
	}
	for _, b := range blockers {
		if b.Overlaps(desired) {
			return false
		}
	}
	return true
}
