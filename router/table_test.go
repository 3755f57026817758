package router

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-turbo/types"
)

type handler func() string

func named(name string) handler {
	return func() string { return name }
}

func TestBaseSegment(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"/users/:id":     "/users",
		"users/:id/tags": "/users",
		"/users":         "/users",
		"/":              "/",
		"":               "/",
		"/:id":           "/:id",
	}

	for pattern, want := range cases {
		assert.Equal(t, want, BaseSegment(pattern), pattern)
	}
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/", NormalizePath(""))
	assert.Equal(t, "/", NormalizePath("/"))
	assert.Equal(t, "/users", NormalizePath("users/"))
	assert.Equal(t, "/users/1", NormalizePath("/users/1//"))
}

func TestTable_Register(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		existing [][2]string
		method   string
		pattern  string
		conflict bool
		invalid  bool
	}{
		{name: "ok/empty table", method: "GET", pattern: "/users/:id"},
		{name: "ok/other method same pattern", existing: [][2]string{{"GET", "/users/:id"}}, method: "POST", pattern: "/users/:id"},
		{name: "ok/other base", existing: [][2]string{{"GET", "/users/:id"}}, method: "GET", pattern: "/orders/:id"},
		{name: "ok/lowercase method", method: "get", pattern: "/health"},
		{name: "err/same base", existing: [][2]string{{"GET", "/users/:id"}}, method: "GET", pattern: "/users/:name", conflict: true},
		{name: "err/same base different depth", existing: [][2]string{{"GET", "/users"}}, method: "GET", pattern: "/users/:id", conflict: true},
		{name: "err/param base overlaps literal", existing: [][2]string{{"GET", "/users"}}, method: "GET", pattern: "/:resource", conflict: true},
		{name: "err/unknown method", method: "BREW", pattern: "/coffee", invalid: true},
		{name: "err/empty param", method: "GET", pattern: "/users/:", invalid: true},
		{name: "err/duplicate param", method: "GET", pattern: "/a/:id/:id", invalid: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			table := NewTable[handler]()
			for _, e := range tt.existing {
				_, err := table.Register(e[0], e[1], named(e[1]))
				require.NoError(t, err)
			}

			route, err := table.Register(tt.method, tt.pattern, named(tt.pattern))
			switch {
			case tt.conflict:
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrRouteConflict))
				assert.True(t, types.IsKind(err, types.KindConflict))
				assert.Nil(t, route)
				assert.Equal(t, len(tt.existing), table.Len())
			case tt.invalid:
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrRouteInvalid))
			default:
				require.NoError(t, err)
				require.NotNil(t, route)
				assert.Equal(t, len(tt.existing)+1, table.Len())
			}
		})
	}
}

func TestTable_ConflictMessage(t *testing.T) {
	t.Parallel()

	table := NewTable[handler]()
	_, err := table.Register("GET", "/users/:id", named("a"))
	require.NoError(t, err)

	_, err = table.Register("GET", "/users/:name", named("b"))
	require.Error(t, err)
	assert.Equal(t,
		"Cannot mount \".get('/users/:name')\" because a route at '/users' already exists with same pattern!",
		err.Error(),
	)
}

func TestTable_Find(t *testing.T) {
	t.Parallel()

	table := NewTable[handler]()
	_, err := table.Register("GET", "/users/:id", named("user"))
	require.NoError(t, err)
	_, err = table.Register("GET", "/orders/:orderId/items/:itemId", named("item"))
	require.NoError(t, err)
	_, err = table.Register("GET", "/", named("root"))
	require.NoError(t, err)
	_, err = table.Register("POST", "/users", named("create"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		method  string
		path    string
		want    string
		params  map[string]string
		missing bool
	}{
		{name: "ok/param", method: "GET", path: "/users/42", want: "user", params: map[string]string{"id": "42"}},
		{name: "ok/trailing slash", method: "GET", path: "/users/42/", want: "user", params: map[string]string{"id": "42"}},
		{name: "ok/two params", method: "GET", path: "/orders/7/items/9", want: "item", params: map[string]string{"orderId": "7", "itemId": "9"}},
		{name: "ok/root", method: "GET", path: "/", want: "root", params: map[string]string{}},
		{name: "ok/lowercase method", method: "post", path: "/users", want: "create", params: map[string]string{}},
		{name: "err/wrong method", method: "DELETE", path: "/users/42", missing: true},
		{name: "err/unknown path", method: "GET", path: "/nope", missing: true},
		{name: "err/too deep", method: "GET", path: "/users/42/extra", missing: true},
		{name: "err/unknown method", method: "BREW", path: "/", missing: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			route, params, err := table.Find(tt.method, tt.path)
			if tt.missing {
				require.Error(t, err)
				assert.True(t, errors.Is(err, types.ErrRouteNotFound))
				assert.Nil(t, route)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, route.Handle())
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestTable_RoutesOrder(t *testing.T) {
	t.Parallel()

	table := NewTable[handler]()
	for i := 0; i < 5; i++ {
		_, err := table.Register("GET", fmt.Sprintf("/r%d", i), named(fmt.Sprint(i)))
		require.NoError(t, err)
	}

	routes := table.Routes()
	require.Len(t, routes, 5)
	for i, r := range routes {
		assert.Equal(t, fmt.Sprintf("/r%d", i), r.Pattern)
	}
}

func TestTable_ConcurrentRegisterKeepsUniqueness(t *testing.T) {
	t.Parallel()

	table := NewTable[handler]()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := table.Register("GET", fmt.Sprintf("/shared/:p%d", i), named("x")); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, table.Len())
}

func TestRoute_ParamNames(t *testing.T) {
	t.Parallel()

	table := NewTable[handler]()
	route, err := table.Register("GET", "/orders/:orderId/items/{itemId}", named("x"))
	require.NoError(t, err)

	assert.Equal(t, []string{"orderId", "itemId"}, route.ParamNames())
	assert.Equal(t, "/orders", route.Base())
}
