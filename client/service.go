// Package client lets a requester submit allocations to the allocation
// service and follow their lifecycle.
package client

import (
	"context"
	"sync"
	"time"

	"arbitration-service/allocation"
	"arbitration-service/interval"
	"arbitration-service/queues"

	"github.com/rs/zerolog/log"
)

// Service routes records broadcast by the allocation server to the proxies
// watching their ids. One Service serves any number of proxies.
type Service struct {
	pub queues.Publisher
	sub queues.Subscriber

	mu       sync.Mutex
	watchers map[string]map[*Proxy]struct{}
}

func NewService(pub queues.Publisher, sub queues.Subscriber) *Service {
	return &Service{pub: pub, sub: sub, watchers: make(map[string]map[*Proxy]struct{})}
}

// Run receives broadcasts until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	return s.sub.Start(ctx, s.dispatch)
}

// Ready is closed once Run is receiving.
func (s *Service) Ready() <-chan struct{} {
	return s.sub.Ready()
}

// NewProxy wraps a for submission. A missing id is generated.
func (s *Service) NewProxy(a allocation.Allocation) *Proxy {
	a = a.Clone()
	if a.ID == "" {
		a.ID = allocation.NewID()
	}
	a.State = allocation.StateRequested
	return &Proxy{svc: s, current: a, changed: make(chan struct{})}
}

// NewRelative builds a proxy whose slot starts delay from now and lasts duration.
func (s *Service) NewRelative(description string, policy allocation.Policy, priority allocation.Priority, initiator allocation.Initiator, delay, duration time.Duration, resources ...string) *Proxy {
	return s.NewProxy(allocation.Allocation{
		ResourceIDs: resources,
		Slot:        interval.Relative(time.Now(), delay, duration),
		Policy:      policy,
		Priority:    priority,
		Initiator:   initiator,
		Description: description,
	})
}

// dispatch hands server broadcasts to the proxies watching their id. Records
// published by other clients are requests, not observations, and are skipped.
func (s *Service) dispatch(ctx context.Context, rec *queues.AllocationRecord) error {
	if origin, ok := queues.Origin(ctx); !ok || !queues.FromServer(origin) {
		log.Debug().Str("allocationId", rec.ID).Str("state", rec.State.String()).Msg("proxy: ignoring record not sent by the allocation server")
		return nil
	}
	a, err := rec.Allocation()
	if err != nil {
		log.Warn().Err(err).Str("allocationId", rec.ID).Msg("proxy: ignoring invalid broadcast")
		return nil
	}
	s.mu.Lock()
	proxies := make([]*Proxy, 0, len(s.watchers[a.ID]))
	for p := range s.watchers[a.ID] {
		proxies = append(proxies, p)
	}
	s.mu.Unlock()

	for _, p := range proxies {
		p.observe(a)
	}
	return nil
}

func (s *Service) watch(p *Proxy, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.watchers[id]
	if !ok {
		set = make(map[*Proxy]struct{})
		s.watchers[id] = set
	}
	set[p] = struct{}{}
}

func (s *Service) unwatch(p *Proxy, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers[id], p)
	if len(s.watchers[id]) == 0 {
		delete(s.watchers, id)
	}
}

func (s *Service) publish(ctx context.Context, a allocation.Allocation) error {
	log.Debug().Str("allocationId", a.ID).Str("state", a.State.String()).Stringer("slot", a.Slot).Msg("proxy: publishing request")
	return s.pub.Publish(ctx, queues.FromAllocation(a))
}
