package relay

import (
	"sync"
)

type registryEntry struct {
	role   Role
	handle Handle
}

// Registry tracks live connections by id.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]registryEntry),
	}
}

// Register inserts or overwrites the entry for id.
func (r *Registry) Register(id string, role Role, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[id] = registryEntry{role: role, handle: handle}
}

// Unregister removes the entry for id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, id)
}

// ListByRole returns a snapshot of the handles registered with role,
// in no particular order.
func (r *Registry) ListByRole(role Role) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]Handle, 0, len(r.entries))
	for _, e := range r.entries {
		if e.role == role {
			handles = append(handles, e.handle)
		}
	}
	return handles
}

// Count returns the total number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// CountByRole returns the number of registered connections with role.
func (r *Registry) CountByRole(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		if e.role == role {
			n++
		}
	}
	return n
}
