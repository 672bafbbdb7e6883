package mcp

import (
	"sort"
	"sync"

	"github.com/rendis/tracelens/internal/tracking"
)

// WatchRegistry tracks the runs each MCP client session follows and the
// stop function of every watch.
type WatchRegistry struct {
	mu      sync.Mutex
	watches map[string]map[tracking.RunRef]func() // sessionID → run → stop
}

// NewWatchRegistry creates an empty WatchRegistry.
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{watches: make(map[string]map[tracking.RunRef]func())}
}

// Add records a watch. It returns false, leaving the registry unchanged,
// when the session already follows ref.
func (r *WatchRegistry) Add(sessionID string, ref tracking.RunRef, stop func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	runs, ok := r.watches[sessionID]
	if !ok {
		runs = make(map[tracking.RunRef]func())
		r.watches[sessionID] = runs
	}
	if _, exists := runs[ref]; exists {
		return false
	}
	runs[ref] = stop
	return true
}

// Has reports whether the session follows ref.
func (r *WatchRegistry) Has(sessionID string, ref tracking.RunRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watches[sessionID][ref]
	return ok
}

// Remove stops one watch.
func (r *WatchRegistry) Remove(sessionID string, ref tracking.RunRef) bool {
	r.mu.Lock()
	stop, ok := r.watches[sessionID][ref]
	if ok {
		delete(r.watches[sessionID], ref)
		if len(r.watches[sessionID]) == 0 {
			delete(r.watches, sessionID)
		}
	}
	r.mu.Unlock()

	if ok {
		stop()
	}
	return ok
}

// RemoveSession stops every watch of a session. Called when the session
// has disconnected.
func (r *WatchRegistry) RemoveSession(sessionID string) int {
	r.mu.Lock()
	runs := r.watches[sessionID]
	delete(r.watches, sessionID)
	r.mu.Unlock()

	for _, stop := range runs {
		stop()
	}
	return len(runs)
}

// Refs lists the runs a session follows, sorted.
func (r *WatchRegistry) Refs(sessionID string) []tracking.RunRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs := make([]tracking.RunRef, 0, len(r.watches[sessionID]))
	for ref := range r.watches[sessionID] {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs
}

// Len returns the number of active watches across sessions.
func (r *WatchRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, runs := range r.watches {
		n += len(runs)
	}
	return n
}

// Close stops every watch.
func (r *WatchRegistry) Close() {
	r.mu.Lock()
	all := r.watches
	r.watches = make(map[string]map[tracking.RunRef]func())
	r.mu.Unlock()

	for _, runs := range all {
		for _, stop := range runs {
			stop()
		}
	}
}
