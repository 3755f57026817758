package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-turbo/logger"
	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
)

type resolver map[string]server.HandlerFunc

func (r resolver) Lookup(name string) (server.HandlerFunc, error) {
	mw, ok := r[name]
	if !ok {
		return nil, types.Errorf(types.ErrMiddlewareNotFound, "%s", name)
	}
	return mw, nil
}

func noop(req *server.Request, res *server.Response) error { return nil }

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newScanner(t *testing.T) *ManifestScanner {
	t.Helper()

	registry := NewRegistry()
	registry.MustRegister("users.list", noop)
	registry.MustRegister("users.get", noop)
	registry.MustRegister("orders.create", noop)

	return NewManifestScanner(logger.NewNop(), registry, resolver{"auth": noop})
}

func TestManifestScanner_Discover(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "users.yaml", `
routes:
  - method: get
    path: /users
    handler: users.list
  - method: GET
    path: /accounts/:id
    handler: users.get
    middlewares: [auth]
    schema:
      params:
        id: {type: string, pattern: "^[0-9]+$"}
`)
	writeFile(t, dir, "nested/orders.yml", `
routes:
  - method: POST
    path: /orders
    handler: orders.create
    schema:
      data:
        type: object
        properties:
          sku: {type: string}
          qty: {type: integer, optional: true}
`)
	writeFile(t, dir, "README.txt", "not a manifest")
	writeFile(t, dir, "empty.yaml", "")

	routes, err := newScanner(t).Discover(dir)
	require.NoError(t, err)
	require.Len(t, routes, 3)

	assert.Equal(t, "POST", routes[0].Method)
	assert.Equal(t, "/orders", routes[0].Pattern)
	assert.NotNil(t, routes[0].Schema)

	assert.Equal(t, "GET", routes[1].Method)
	assert.Equal(t, "/users", routes[1].Pattern)
	assert.Nil(t, routes[1].Schema)

	assert.Len(t, routes[2].Middlewares, 1)

	table := server.NewTable()
	for _, route := range routes {
		require.NoError(t, table.Add(route))
	}

	route, params, err := table.Find("GET", "/accounts/42")
	require.NoError(t, err)
	assert.Equal(t, "/accounts/:id", route.Pattern)
	assert.Equal(t, "42", params["id"])
}

func TestManifestScanner_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{"err/unknown handler", "routes:\n  - {method: GET, path: /x, handler: nope}\n"},
		{"err/unknown middleware", "routes:\n  - {method: GET, path: /x, handler: users.list, middlewares: [missing]}\n"},
		{"err/bad method", "routes:\n  - {method: FETCH, path: /x, handler: users.list}\n"},
		{"err/relative path", "routes:\n  - {method: GET, path: x, handler: users.list}\n"},
		{"err/unknown field", "routes:\n  - {method: GET, path: /x, handler: users.list, timeout: 3}\n"},
		{"err/bad schema", "routes:\n  - {method: GET, path: /x, handler: users.list, schema: {params: {id: {type: string, pattern: '('}}}}\n"},
		{"err/malformed yaml", "routes: [\n"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, dir, "routes.yaml", tc.content)

			_, err := newScanner(t).Discover(dir)
			assert.ErrorIs(t, err, types.ErrDiscoveryFailed)
		})
	}
}

func TestManifestScanner_MissingDir(t *testing.T) {
	t.Parallel()

	s := newScanner(t)

	_, err := s.Discover(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.yaml")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err = s.Scan(file)
	assert.ErrorIs(t, err, types.ErrDiscoveryFailed)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	require.NoError(t, r.Register("a", noop))
	assert.ErrorIs(t, r.Register("a", noop), types.ErrDiscoveryFailed)
	assert.ErrorIs(t, r.Register("", noop), types.ErrDiscoveryFailed)
	assert.ErrorIs(t, r.Register("b", nil), types.ErrHandlerIsNil)

	_, ok := r.Handler("a")
	assert.True(t, ok)
	_, ok = r.Handler("b")
	assert.False(t, ok)

	assert.Equal(t, []string{"a"}, r.Names())
}
