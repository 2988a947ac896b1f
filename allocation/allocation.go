package allocation

import (
	"errors"
	"fmt"
	"strings"

	"arbitration-service/interval"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const ticketSeparator = "#"

// Allocation is a timed, priority-tagged claim on one or more named resources.
// Values are snapshots: the With* methods return modified copies and never
// touch the receiver.
type Allocation struct {
	ID          string
	ResourceIDs []string
	Slot        interval.Interval
	// Constraints bounds where Slot may be placed; nil means Slot itself.
	Constraints *interval.Interval
	Policy      Policy
	Priority    Priority
	Initiator   Initiator
	State       State
	Description string
	// Reason accumulates the causes of every forced modification.
	Reason string
	// Ticket has the form <ownerId>#<token>.
	Ticket string
}

// NewID returns a fresh short identifier.
func NewID() string {
	return uuid.NewString()[:12]
}

// NewTicket joins owner and token into a ticket.
func NewTicket(owner, token string) string {
	return owner + ticketSeparator + token
}

// TicketToken returns the token part of a ticket, or "" when it has none.
func TicketToken(ticket string) string {
	i := strings.LastIndex(ticket, ticketSeparator)
	if i < 0 {
		return ""
	}
	return ticket[i+len(ticketSeparator):]
}

// Clone returns a deep copy.
func (a Allocation) Clone() Allocation {
	c := a
	c.ResourceIDs = append([]string(nil), a.ResourceIDs...)
	if a.Constraints != nil {
		bound := *a.Constraints
		c.Constraints = &bound
	}
	return c
}

func (a Allocation) WithState(s State) Allocation {
	c := a.Clone()
	c.State = s
	return c
}

func (a Allocation) WithSlot(slot interval.Interval) Allocation {
	c := a.Clone()
	c.Slot = slot
	return c
}

// WithReason appends reason to the audit trail.
func (a Allocation) WithReason(reason string) Allocation {
	c := a.Clone()
	if reason == "" {
		return c
	}
	if c.Reason == "" {
		c.Reason = reason
	} else {
		c.Reason = c.Reason + "; " + reason
	}
	return c
}

// Bound returns the interval the slot may be placed in.
func (a Allocation) Bound() interval.Interval {
	if a.Constraints != nil {
		return *a.Constraints
	}
	return a.Slot
}

func (a Allocation) Live() bool {
	return a.State.Live()
}

// Exempt reports whether a and b hold tickets with the same token.
func (a Allocation) Exempt(b Allocation) bool {
	token := TicketToken(a.Ticket)
	return token != "" && token == TicketToken(b.Ticket)
}

// Conflicts reports whether a and b compete for a resource: some resource id
// of one is a prefix of a resource id of the other and their tickets do not
// exempt them from each other.
func (a Allocation) Conflicts(b Allocation) bool {
	return ResourcesOverlap(a.ResourceIDs, b.ResourceIDs) && !a.Exempt(b)
}

// ResourcesOverlap reports whether any pair of resource ids stands in a prefix relationship.
func ResourcesOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.HasPrefix(x, y) || strings.HasPrefix(y, x) {
				return true
			}
		}
	}
	return false
}

var (
	errMissingID        = errors.New("missing id")
	errMissingResources = errors.New("missing resource ids")
)

// Validate checks the invariants every submitted allocation must satisfy.
func (a Allocation) Validate() error {
	if a.ID == "" {
		return errMissingID
	}
	if len(a.ResourceIDs) == 0 {
		return errMissingResources
	}
	for i, r := range a.ResourceIDs {
		if r == "" {
			return fmt.Errorf("empty resource id at %d", i)
		}
	}
	if !a.Slot.Valid() {
		return fmt.Errorf("invalid slot %s", a.Slot)
	}
	if a.Constraints != nil && !a.Constraints.Valid() {
		return fmt.Errorf("invalid constraints %s", *a.Constraints)
	}
	return nil
}

// MarshalZerologObject lets allocations be logged with Object().
func (a Allocation) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", a.ID).
		Strs("resources", a.ResourceIDs).
		Time("begin", a.Slot.Begin).
		Time("end", a.Slot.End).
		Str("state", a.State.String()).
		Str("priority", a.Priority.String()).
		Str("initiator", a.Initiator.String()).
		Str("policy", a.Policy.String())
	if a.Ticket != "" {
		e.Str("ticket", a.Ticket)
	}
	if a.Reason != "" {
		e.Str("reason", a.Reason)
	}
}
