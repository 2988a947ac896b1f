package allocation

import (
	"fmt"
	"strings"
)

// Policy selects how a slot is placed when the requested one is unavailable.
type Policy int

const (
	PolicyPreserve Policy = iota
	PolicyFirst
	PolicyMaximum
)

var policyNames = []string{"PRESERVE", "FIRST", "MAXIMUM"}

// Priority is totally ordered; higher values win conflicts.
type Priority int

const (
	PriorityNo Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityEmergency
)

var priorityNames = []string{"NO", "LOW", "NORMAL", "HIGH", "URGENT", "EMERGENCY"}

type Initiator int

const (
	InitiatorSystem Initiator = iota
	InitiatorHuman
)

var initiatorNames = []string{"SYSTEM", "HUMAN"}

type State int

const (
	StateRequested State = iota
	StateScheduled
	StateAllocated
	StateRejected
	StateCancelled
	StateAborted
	StateReleased
)

var stateNames = []string{"REQUESTED", "SCHEDULED", "ALLOCATED", "REJECTED", "CANCELLED", "ABORTED", "RELEASED"}

func name(names []string, v int) string {
	if v < 0 || v >= len(names) {
		return fmt.Sprintf("UNKNOWN(%d)", v)
	}
	return names[v]
}

func parse(kind string, names []string, s string) (int, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, s)
}

func (p Policy) String() string    { return name(policyNames, int(p)) }
func (p Priority) String() string  { return name(priorityNames, int(p)) }
func (i Initiator) String() string { return name(initiatorNames, int(i)) }
func (s State) String() string     { return name(stateNames, int(s)) }

func ParsePolicy(s string) (Policy, error) {
	v, err := parse("policy", policyNames, s)
	return Policy(v), err
}

func ParsePriority(s string) (Priority, error) {
	v, err := parse("priority", priorityNames, s)
	return Priority(v), err
}

func ParseInitiator(s string) (Initiator, error) {
	v, err := parse("initiator", initiatorNames, s)
	return Initiator(v), err
}

func ParseState(s string) (State, error) {
	v, err := parse("state", stateNames, s)
	return State(v), err
}

func (p Policy) MarshalText() ([]byte, error)    { return []byte(p.String()), nil }
func (p Priority) MarshalText() ([]byte, error)  { return []byte(p.String()), nil }
func (i Initiator) MarshalText() ([]byte, error) { return []byte(i.String()), nil }
func (s State) MarshalText() ([]byte, error)     { return []byte(s.String()), nil }

func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (i *Initiator) UnmarshalText(b []byte) error {
	v, err := ParseInitiator(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
