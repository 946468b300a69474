package controller

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/flashsync/internal/rendezvous"
)

// DefaultGroup is the group used by callers that do not name one.
const DefaultGroup = ""

// Registry maps group names to their coordination stores.
//
// Every group owns its own lock, so unrelated groups never contend. The
// registry lock only guards the map and is held for lookups and inserts.
//
// Thread Safety:
// All methods are safe for concurrent use.
type Registry struct {
	groups map[string]*rendezvous.Group
	mu     sync.RWMutex
}

// NewRegistry creates a registry holding only the default group.
func NewRegistry() *Registry {
	return &Registry{
		groups: map[string]*rendezvous.Group{
			DefaultGroup: rendezvous.NewGroup(DefaultGroup),
		},
	}
}

// Group returns the group called name, creating it on first use.
func (r *Registry) Group(name string) *rendezvous.Group {
	r.mu.RLock()
	g, ok := r.groups[name]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groups[name]; ok {
		return g
	}
	g = rendezvous.NewGroup(name)
	r.groups[name] = g
	return g
}

// Lookup returns the group called name without creating it.
func (r *Registry) Lookup(name string) (*rendezvous.Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	return g, ok
}

// Names returns the sorted names of all known groups.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Len returns the number of known groups.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// Snapshots returns one snapshot per group, ordered by group name.
func (r *Registry) Snapshots() []rendezvous.Snapshot {
	groups := r.all()
	out := make([]rendezvous.Snapshot, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Snapshot())
	}
	return out
}

// Pending returns the blocked rendezvous objects of every group.
func (r *Registry) Pending() []rendezvous.Pending {
	var out []rendezvous.Pending
	for _, g := range r.all() {
		out = append(out, g.Pending()...)
	}
	return out
}

// all copies the group list so per-group locks are taken without the registry lock.
func (r *Registry) all() []*rendezvous.Group {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*rendezvous.Group, 0, len(names))
	for _, name := range names {
		if g, ok := r.groups[name]; ok {
			out = append(out, g)
		}
	}
	return out
}
