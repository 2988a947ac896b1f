package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/interval"

	"github.com/fatih/color"
)

func init() {
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow)
	faint  = color.New(color.Faint)

	stateColors = map[allocation.State]*color.Color{
		allocation.StateRequested: color.New(color.FgCyan),
		allocation.StateScheduled: color.New(color.FgBlue),
		allocation.StateAllocated: color.New(color.FgGreen, color.Bold),
		allocation.StateRejected:  color.New(color.FgRed),
		allocation.StateCancelled: color.New(color.FgYellow),
		allocation.StateAborted:   color.New(color.FgMagenta),
		allocation.StateReleased:  color.New(color.FgGreen),
	}
)

func colorState(s allocation.State) string {
	name := fmt.Sprintf("%-9s", s)
	if c, ok := stateColors[s]; ok {
		return c.Sprint(name)
	}
	return name
}

// formatSlot renders a slot relative to now, e.g. "+1.5s..+11.5s".
func formatSlot(slot interval.Interval, now time.Time) string {
	rel := func(t time.Time) string {
		d := t.Sub(now).Round(time.Millisecond)
		if d >= 0 {
			return "+" + d.String()
		}
		return d.String()
	}
	return rel(slot.Begin) + ".." + rel(slot.End)
}

// printUpdate writes one observed record as a single line.
func printUpdate(w io.Writer, a allocation.Allocation, now time.Time) {
	line := fmt.Sprintf("%s  %s  %s  %s  [%s]",
		faint.Sprint(now.Format(time.TimeOnly)),
		colorState(a.State),
		a.ID,
		formatSlot(a.Slot, now),
		strings.Join(a.ResourceIDs, ","),
	)
	if a.Reason != "" {
		line += "  " + yellow.Sprint(a.Reason)
	}
	fmt.Fprintln(w, line)
}

// printError writes a formatted error to stderr and returns a plain error for cobra.
func printError(title, explanation string, suggestions ...string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(os.Stderr, "%s\n", explanation)
	}
	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		for _, s := range suggestions {
			fmt.Fprintf(os.Stderr, "  %s\n", s)
		}
	}
	return fmt.Errorf("%s", title)
}
