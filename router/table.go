package router

import (
	"fmt"
	"strings"
	"sync"

	"github.com/saiset-co/sai-turbo/types"
)

// Table is the registry of routes. Registration happens during setup; Find
// is safe to call concurrently with it.
type Table[H any] struct {
	mu     sync.RWMutex
	routes [][]*Route[H]
	order  []*Route[H]
}

func NewTable[H any]() *Table[H] {
	return &Table[H]{
		routes: make([][]*Route[H], len(methodIndex)),
	}
}

// Add compiles route and registers it. A route whose base segment is already
// taken for the same method, or whose pattern can match the same paths as an
// existing route, is rejected with a conflict error.
func (t *Table[H]) Add(route *Route[H]) error {
	if route == nil {
		return types.Errorf(types.ErrRouteInvalid, "route is nil")
	}

	route.Method = strings.ToUpper(route.Method)
	if err := route.compile(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := methodIndex[route.Method]
	for _, existing := range t.routes[idx] {
		if existing.base == route.base || existing.overlaps(route) {
			return conflictError(route, existing)
		}
	}

	t.routes[idx] = append(t.routes[idx], route)
	t.order = append(t.order, route)
	return nil
}

func (t *Table[H]) Register(method, pattern string, handle H, middlewares ...H) (*Route[H], error) {
	route := NewRoute(method, pattern, handle, middlewares...)
	if err := t.Add(route); err != nil {
		return nil, err
	}
	return route, nil
}

// Find resolves method and path to exactly one route. Zero or several
// candidates both yield ErrRouteNotFound.
func (t *Table[H]) Find(method, path string) (*Route[H], map[string]string, error) {
	idx, ok := methodIndex[strings.ToUpper(method)]
	if !ok {
		return nil, nil, types.Errorf(types.ErrRouteNotFound, "%s %s", method, path)
	}

	segments := splitPath(NormalizePath(path))

	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		found  *Route[H]
		params map[string]string
	)

	for _, route := range t.routes[idx] {
		p, ok := route.match(segments)
		if !ok {
			continue
		}
		if found != nil {
			return nil, nil, types.Errorf(types.ErrRouteNotFound, "%s %s is ambiguous", method, path)
		}
		found, params = route, p
	}

	if found == nil {
		return nil, nil, types.Errorf(types.ErrRouteNotFound, "%s %s", method, path)
	}

	return found, params, nil
}

// Routes returns the registered routes in registration order.
func (t *Table[H]) Routes() []*Route[H] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Route[H], len(t.order))
	copy(out, t.order)
	return out
}

func (t *Table[H]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

func conflictError[H any](route, existing *Route[H]) error {
	return types.NewConflictError(fmt.Sprintf(
		"Cannot mount \".%s('%s')\" because a route at '%s' already exists with same pattern!",
		strings.ToLower(route.Method), route.Pattern, existing.base,
	))
}
