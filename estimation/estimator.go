package estimation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/interval"

	"github.com/rs/zerolog/log"
)

const (
	DefaultDuration = 10 * time.Second

	// slotMargin pads estimated slots past the expected duration.
	slotMargin = 2 * time.Second
)

// Estimator holds the defaults of one submitter. With a nil store nothing is persisted.
type Estimator struct {
	store     Store
	submitter string
	entry     Entry
}

// NewEstimator loads the submitter's defaults and fills in what is missing:
// the handler defaults to the submitter with scope removed, the duration to
// DefaultDuration and the resources to the handler alone.
func NewEstimator(ctx context.Context, store Store, submitter, scope string) (*Estimator, error) {
	e := &Estimator{store: store, submitter: submitter}
	if store != nil {
		entry, err := store.Get(ctx, submitter)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		e.entry = entry
	}

	changed := false
	if e.entry.Handler == "" {
		e.entry.Handler = submitter
		if scope != "" {
			e.entry.Handler = strings.ReplaceAll(submitter, scope, "")
		}
		changed = true
	}
	if e.entry.Duration <= 0 {
		e.entry.Duration = DefaultDuration
		changed = true
	}
	if len(e.entry.Resources) == 0 {
		e.entry.Resources = []string{e.entry.Handler}
		changed = true
	}
	if changed {
		if err := e.save(ctx); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Estimator) Handler() string {
	return e.entry.Handler
}

func (e *Estimator) Duration() time.Duration {
	return e.entry.Duration
}

func (e *Estimator) Resources() []string {
	return slices.Clone(e.entry.Resources)
}

// Allocation returns a fresh request for the estimated resources, starting now.
func (e *Estimator) Allocation(now time.Time) allocation.Allocation {
	return allocation.Allocation{
		ID:          allocation.NewID(),
		ResourceIDs: e.Resources(),
		Slot:        interval.Relative(now, 0, e.entry.Duration+slotMargin),
		Policy:      allocation.PolicyPreserve,
		Priority:    allocation.PriorityNormal,
		Initiator:   allocation.InitiatorSystem,
		State:       allocation.StateRequested,
		Description: e.entry.Handler,
	}
}

// AddDuration records an observed duration. The estimate is the longest seen.
func (e *Estimator) AddDuration(ctx context.Context, d time.Duration) error {
	if d <= e.entry.Duration {
		return nil
	}
	e.entry.Duration = d
	return e.save(ctx)
}

// AddResource adds r to the submitter's resource set.
func (e *Estimator) AddResource(ctx context.Context, r string) error {
	if r == "" || slices.Contains(e.entry.Resources, r) {
		return nil
	}
	e.entry.Resources = append(e.entry.Resources, r)
	slices.Sort(e.entry.Resources)
	return e.save(ctx)
}

// SetHandler overrides the handler derived from the submitter.
func (e *Estimator) SetHandler(ctx context.Context, handler string) error {
	if handler == "" || handler == e.entry.Handler {
		return nil
	}
	e.entry.Handler = handler
	return e.save(ctx)
}

func (e *Estimator) save(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Put(ctx, e.submitter, e.entry); err != nil {
		return err
	}
	log.Debug().Str("submitter", e.submitter).Str("handler", e.entry.Handler).Strs("resources", e.entry.Resources).Dur("duration", e.entry.Duration).Msg("estimation: defaults stored")
	return nil
}
