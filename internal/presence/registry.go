package presence

import "sync"

// Registry maps live connection ids to participant display names.
// It lives as long as the server process and is never persisted.
type Registry struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]string)}
}

// Register records the display name for a connection. Registering the same
// connection again replaces the name.
func (r *Registry) Register(connID, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[connID] = displayName
}

// Unregister removes the connection and returns its last known name.
// Unknown ids are ignored.
func (r *Registry) Unregister(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[connID]
	delete(r.names, connID)
	return name, ok
}

func (r *Registry) Lookup(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[connID]
	return name, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
