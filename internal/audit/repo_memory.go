package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in process. Used by tests and when no database is
// configured for audit.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of every event, oldest first.
func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

// ForTenant returns the events of one tenant, oldest first.
func (r *MemoryRepo) ForTenant(tenant string) []Event {
	return r.filter(func(e Event) bool { return e.Tenant == tenant })
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
