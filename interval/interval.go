package interval

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Begin, End).
type Interval struct {
	Begin time.Time
	End   time.Time
}

func New(begin, end time.Time) Interval {
	return Interval{Begin: begin, End: end}
}

// Relative builds the interval starting delay after now and lasting duration.
func Relative(now time.Time, delay, duration time.Duration) Interval {
	begin := now.Add(delay)
	return Interval{Begin: begin, End: begin.Add(duration)}
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Begin)
}

// Valid reports whether the interval has positive length.
func (i Interval) Valid() bool {
	return i.Begin.Before(i.End)
}

func (i Interval) IsZero() bool {
	return i.Begin.IsZero() && i.End.IsZero()
}

// Overlaps reports whether both intervals share at least one instant.
func (i Interval) Overlaps(o Interval) bool {
	return i.Begin.Before(o.End) && o.Begin.Before(i.End)
}

// Contains reports whether o lies completely within i.
func (i Interval) Contains(o Interval) bool {
	return !o.Begin.Before(i.Begin) && !o.End.After(i.End)
}

func (i Interval) Equal(o Interval) bool {
	return i.Begin.Equal(o.Begin) && i.End.Equal(o.End)
}

// Shift moves both bounds by d.
func (i Interval) Shift(d time.Duration) Interval {
	return Interval{Begin: i.Begin.Add(d), End: i.End.Add(d)}
}

// ShiftTo moves the interval to begin at t, keeping its duration.
func (i Interval) ShiftTo(t time.Time) Interval {
	return Interval{Begin: t, End: t.Add(i.Duration())}
}

// Extend moves the end by d.
func (i Interval) Extend(d time.Duration) Interval {
	return Interval{Begin: i.Begin, End: i.End.Add(d)}
}

// ExtendTo moves the end to t.
func (i Interval) ExtendTo(t time.Time) Interval {
	return Interval{Begin: i.Begin, End: t}
}

// Truncate rounds both bounds down to the wire resolution of one microsecond.
func (i Interval) Truncate() Interval {
	return Interval{Begin: i.Begin.Truncate(time.Microsecond), End: i.End.Truncate(time.Microsecond)}
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Begin.Format(time.RFC3339Nano), i.End.Format(time.RFC3339Nano))
}
