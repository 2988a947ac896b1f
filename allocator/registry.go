package allocator

import (
	"sort"
	"sync"

	"arbitration-service/allocation"
)

// Registry is the authoritative map from allocation id to its current record.
// It holds live allocations only; terminal records are removed on commit.
// Since the allocation server is intended to be a single instance, records are kept in memory.
type Registry struct {
	mu      sync.RWMutex
	records map[string]allocation.Allocation
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]allocation.Allocation),
	}
}

// Get returns a snapshot of the record stored for id
func (r *Registry) Get(id string) (allocation.Allocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.records[id]
	if !ok {
		return allocation.Allocation{}, false
	}
	return a.Clone(), true
}

// Put stores a snapshot of a, replacing any previous record with the same id
func (r *Registry) Put(a allocation.Allocation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[a.ID] = a.Clone()
}

// Remove drops the record for id and reports whether one existed
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	return true
}

// IsAlive reports whether a live record is stored for id
func (r *Registry) IsAlive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.records[id]
	return ok && a.Live()
}

// Live returns snapshots of all live records ordered by slot begin, then id
func (r *Registry) Live() []allocation.Allocation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]allocation.Allocation, 0, len(r.records))
	for _, a := range r.records {
		if a.Live() {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Slot.Begin.Equal(out[j].Slot.Begin) {
			return out[i].Slot.Begin.Before(out[j].Slot.Begin)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// View is a read-only window on a Registry for observers outside the controller.
type View struct {
	r *Registry
}

func (v View) Get(id string) (allocation.Allocation, bool) { return v.r.Get(id) }
func (v View) Live() []allocation.Allocation { return v.r.Live() }
func (v View) IsAlive(id string) bool { return v.r.IsAlive(id) }
func (v View) Len() int { return v.r.Len() }

// Len returns the number of stored records (for monitoring)
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}
