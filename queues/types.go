package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/interval"
)

const (
	EnvelopeVersion = "1.0"
	TypeAllocation  = "allocation"
)

// ErrInvalidRecord is returned for records that do not describe a valid allocation.
var ErrInvalidRecord = errors.New("invalid allocation record")

// Slot is an interval on the wire, in microseconds since the Unix epoch.
type Slot struct {
	Begin int64 `json:"begin"`
	End   int64 `json:"end"`
}

type AllocationRecord struct {
	EnvelopeVersion string               `json:"envelopeVersion"`
	Type            string               `json:"type"`
	ID              string               `json:"id"`
	ResourceIDs     []string             `json:"resourceIds"`
	Slot            Slot                 `json:"slot"`
	Constraints     *Slot                `json:"constraints,omitempty"`
	Policy          allocation.Policy    `json:"policy"`
	Priority        allocation.Priority  `json:"priority"`
	Initiator       allocation.Initiator `json:"initiator"`
	State           allocation.State     `json:"state"`
	Description     string               `json:"description,omitempty"`
	Reason          string               `json:"reason,omitempty"`
	Ticket          string               `json:"ticket,omitempty"`
}

// Envelope carries a record together with the identity of the endpoint that
// sent it, for transports without message attributes.
type Envelope struct {
	Origin string            `json:"origin"`
	Record *AllocationRecord `json:"record"`
}

// Handler processes one inbound record. A returned error asks the transport
// to redeliver when it can. The sender's origin is available through Origin.
type Handler func(context.Context, *AllocationRecord) error

// ServerOriginPrefix starts the origin of every allocation server endpoint.
const ServerOriginPrefix = "server"

type originKey struct{}

// WithOrigin returns ctx tagged with the origin of the record being handled.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// Origin returns the sender of the record being handled, when the transport knows it.
func Origin(ctx context.Context) (string, bool) {
	o, ok := ctx.Value(originKey{}).(string)
	return o, ok && o != ""
}

// FromServer reports whether origin names an allocation server endpoint.
func FromServer(origin string) bool {
	return strings.HasPrefix(origin, ServerOriginPrefix)
}

type Subscriber interface {
	// Start blocks receiving records until ctx is done or the transport fails.
	Start(ctx context.Context, handler Handler) error
	// Ready is closed once Start is receiving.
	Ready() <-chan struct{}
}

type Publisher interface {
	Publish(ctx context.Context, rec *AllocationRecord) error
}

func toSlot(i interval.Interval) Slot {
	return Slot{Begin: i.Begin.UnixMicro(), End: i.End.UnixMicro()}
}

func (s Slot) Interval() interval.Interval {
	return interval.New(time.UnixMicro(s.Begin), time.UnixMicro(s.End))
}

// FromAllocation converts an allocation into its wire form.
func FromAllocation(a allocation.Allocation) *AllocationRecord {
	rec := &AllocationRecord{
		EnvelopeVersion: EnvelopeVersion,
		Type:            TypeAllocation,
		ID:              a.ID,
		ResourceIDs:     append([]string(nil), a.ResourceIDs...),
		Slot:            toSlot(a.Slot),
		Policy:          a.Policy,
		Priority:        a.Priority,
		Initiator:       a.Initiator,
		State:           a.State,
		Description:     a.Description,
		Reason:          a.Reason,
		Ticket:          a.Ticket,
	}
	if a.Constraints != nil {
		c := toSlot(*a.Constraints)
		rec.Constraints = &c
	}
	return rec
}

// Allocation converts the record back and validates it.
func (r *AllocationRecord) Allocation() (allocation.Allocation, error) {
	if r.Type != "" && r.Type != TypeAllocation {
		return allocation.Allocation{}, fmt.Errorf("%w: unexpected type %q", ErrInvalidRecord, r.Type)
	}
	a := allocation.Allocation{
		ID:          r.ID,
		ResourceIDs: append([]string(nil), r.ResourceIDs...),
		Slot:        r.Slot.Interval(),
		Policy:      r.Policy,
		Priority:    r.Priority,
		Initiator:   r.Initiator,
		State:       r.State,
		Description: r.Description,
		Reason:      r.Reason,
		Ticket:      r.Ticket,
	}
	if r.Constraints != nil {
		c := r.Constraints.Interval()
		a.Constraints = &c
	}
	if err := a.Validate(); err != nil {
		return allocation.Allocation{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return a, nil
}

func Marshal(rec *AllocationRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// Unmarshal decodes a record; malformed payloads wrap ErrInvalidRecord.
func Unmarshal(b []byte) (*AllocationRecord, error) {
	var rec AllocationRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return &rec, nil
}
