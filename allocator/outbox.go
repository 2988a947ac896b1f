package allocator

import (
	"sync"

	"arbitration-service/allocation"
	"arbitration-service/metrics"

	"github.com/rs/zerolog/log"
)

// outbox queues committed records for publishing in commit order. push never
// blocks, so a stalled publisher cannot hold up the controller lock; records
// beyond limit are dropped and counted.
type outbox struct {
	mu     sync.Mutex
	queue  []allocation.Allocation
	limit  int
	closed bool
	signal chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit, signal: make(chan struct{}, 1)}
}

func (o *outbox) push(a allocation.Allocation) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	if len(o.queue) >= o.limit {
		metrics.BroadcastsDropped.Inc()
		log.Error().Str("allocationId", a.ID).Str("state", a.State.String()).Int("queued", len(o.queue)).Msg("controller: outbox full; broadcast dropped")
		return false
	}
	o.queue = append(o.queue, a)
	o.wake()
	return true
}

func (o *outbox) wake() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// close stops accepting records; queued ones are still handed out by take.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.wake()
}

// take removes and returns everything queued. done is set once the outbox is
// closed and empty.
func (o *outbox) take() (batch []allocation.Allocation, done bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch, o.queue = o.queue, nil
	return batch, o.closed && len(batch) == 0
}
