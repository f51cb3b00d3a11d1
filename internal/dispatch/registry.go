// Package dispatch routes admitted frames to service handlers and applies
// the actions they return.
package dispatch

import (
	"sync"

	"github.com/wsprism/wsprism/pkg/realtime"
)

// Registry maps Ext service names and Hot service ids to handlers.
// Registration happens at startup; lookups are concurrent.
type Registry struct {
	mu  sync.RWMutex
	ext map[string]realtime.ExtService
	hot map[uint8]realtime.HotService
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{
		ext: make(map[string]realtime.ExtService),
		hot: make(map[uint8]realtime.HotService),
	}
}

// RegisterExt adds an Ext Lane service. Later registrations win.
func (r *Registry) RegisterExt(svc realtime.ExtService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ext[svc.Name()] = svc
}

// RegisterHot adds a Hot Lane service. Later registrations win.
func (r *Registry) RegisterHot(svc realtime.HotService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hot[svc.SvcID()] = svc
}

// LookupExt returns the handler for a service name.
func (r *Registry) LookupExt(name string) (realtime.ExtService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.ext[name]
	return svc, ok
}

// LookupHot returns the handler for a service id.
func (r *Registry) LookupHot(id uint8) (realtime.HotService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.hot[id]
	return svc, ok
}

// ExtNames returns the registered Ext service names.
func (r *Registry) ExtNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ext))
	for name := range r.ext {
		names = append(names, name)
	}
	return names
}
