package allocation

// transitions is the canonical state machine shared by the server and client views.
// Terminal states have no outgoing edges.
var transitions = map[State][]State{
	StateRequested: {StateScheduled, StateRejected, StateCancelled},
	StateScheduled: {StateAllocated, StateCancelled},
	StateAllocated: {StateReleased, StateAborted},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateCancelled, StateAborted, StateReleased:
		return true
	}
	return false
}

func (s State) Live() bool {
	return !s.Terminal()
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Interrupted maps a live state to the terminal state it ends in when its
// lifecycle is cut short: REQUESTED is rejected, SCHEDULED cancelled and
// ALLOCATED aborted. Terminal states map to themselves.
func Interrupted(s State) State {
	switch s {
	case StateRequested:
		return StateRejected
	case StateScheduled:
		return StateCancelled
	case StateAllocated:
		return StateAborted
	}
	return s
}

// Preempted maps a live state to the terminal state it ends in when a
// higher-priority claim leaves it no slot.
func Preempted(s State) State {
	if s == StateAllocated {
		return StateAborted
	}
	if s.Live() {
		return StateCancelled
	}
	return s
}
