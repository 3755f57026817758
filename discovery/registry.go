package discovery

import (
	"sort"
	"sync"

	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
)

// Registry maps the handler names used in manifests to compiled handlers.
type Registry struct {
	handlers map[string]server.HandlerFunc
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]server.HandlerFunc),
	}
}

func (r *Registry) Register(name string, handler server.HandlerFunc) error {
	if name == "" {
		return types.Errorf(types.ErrDiscoveryFailed, "handler name is empty")
	}
	if handler == nil {
		return types.ErrHandlerIsNil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return types.Errorf(types.ErrDiscoveryFailed, "handler %q already registered", name)
	}

	r.handlers[name] = handler
	return nil
}

func (r *Registry) MustRegister(name string, handler server.HandlerFunc) {
	if err := r.Register(name, handler); err != nil {
		panic(err)
	}
}

func (r *Registry) Handler(name string) (server.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[name]
	return handler, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
