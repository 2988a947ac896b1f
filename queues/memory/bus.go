package memory

import (
	"context"
	"sync"
	"time"

	"arbitration-service/queues"

	"github.com/rs/zerolog/log"
)

// Config for the in-process bus
type Config struct {
	MaxRetries  int
	RetryDelay  time.Duration
	InboxBuffer int
}

// DefaultConfig returns a standard configuration for the in-process bus
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		RetryDelay:  10 * time.Millisecond,
		InboxBuffer: 256,
	}
}

// Bus fans every published record out to all started endpoints except the
// sender. It connects a server and its clients inside one process.
type Bus struct {
	config Config

	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
}

// NewBus creates a new in-process bus
func NewBus(config Config) *Bus {
	def := DefaultConfig()
	if config.InboxBuffer <= 0 {
		config.InboxBuffer = def.InboxBuffer
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	return &Bus{config: config, endpoints: make(map[*Endpoint]struct{})}
}

// Endpoint is one participant on the bus. It implements both queues.Publisher
// and queues.Subscriber.
type Endpoint struct {
	bus    *Bus
	origin string
	inbox  chan delivery

	readyOnce sync.Once
	ready     chan struct{}
}

// Endpoint creates a participant identified by origin. It receives records
// only while Start is running.
func (b *Bus) Endpoint(origin string) *Endpoint {
	return &Endpoint{
		bus:    b,
		origin: origin,
		inbox:  make(chan delivery, b.config.InboxBuffer),
		ready:  make(chan struct{}),
	}
}

type delivery struct {
	origin string
	rec    *queues.AllocationRecord
}

func clone(rec *queues.AllocationRecord) *queues.AllocationRecord {
	c := *rec
	c.ResourceIDs = append([]string(nil), rec.ResourceIDs...)
	if rec.Constraints != nil {
		s := *rec.Constraints
		c.Constraints = &s
	}
	return &c
}

func (e *Endpoint) Publish(ctx context.Context, rec *queues.AllocationRecord) error {
	e.bus.mu.RLock()
	defer e.bus.mu.RUnlock()

	for peer := range e.bus.endpoints {
		if peer == e {
			continue
		}
		select {
		case peer.inbox <- delivery{origin: e.origin, rec: clone(rec)}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Endpoint) Ready() <-chan struct{} {
	return e.ready
}

// Start delivers records to handler one at a time, in publish order, until
// ctx is done. A failing handler is retried up to MaxRetries times before
// the record is dropped.
func (e *Endpoint) Start(ctx context.Context, handler queues.Handler) error {
	e.bus.mu.Lock()
	e.bus.endpoints[e] = struct{}{}
	e.bus.mu.Unlock()
	defer func() {
		e.bus.mu.Lock()
		delete(e.bus.endpoints, e)
		e.bus.mu.Unlock()
	}()
	e.readyOnce.Do(func() { close(e.ready) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-e.inbox:
			e.deliver(queues.WithOrigin(ctx, d.origin), handler, d.rec)
		}
	}
}

func (e *Endpoint) deliver(ctx context.Context, handler queues.Handler, rec *queues.AllocationRecord) {
	for attempt := 0; ; attempt++ {
		err := handler(ctx, rec)
		if err == nil {
			return
		}
		if attempt >= e.bus.config.MaxRetries {
			log.Error().Err(err).Str("origin", e.origin).Str("allocationId", rec.ID).Msg("memory bus: handler failed; record dropped")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.bus.config.RetryDelay):
		}
	}
}
