package discovery

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-turbo/schema"
	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
)

// Discoverer turns a directory into routes ready for registration.
type Discoverer interface {
	Discover(dir string) ([]*server.Route, error)
}

// MiddlewareResolver resolves middleware names used in manifests.
type MiddlewareResolver interface {
	Lookup(name string) (server.HandlerFunc, error)
}

// Manifest is one route file. A file holds a list of routes:
//
//	routes:
//	  - method: GET
//	    path: /users/:id
//	    handler: users.get
//	    middlewares: [auth]
//	    schema:
//	      params:
//	        id: {type: string}
type Manifest struct {
	Routes []RouteSpec `yaml:"routes" validate:"dive"`
}

type RouteSpec struct {
	Method      string          `yaml:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Path        string          `yaml:"path" validate:"required,startswith=/"`
	Handler     string          `yaml:"handler" validate:"required"`
	Middlewares []string        `yaml:"middlewares"`
	Schema      *schema.Options `yaml:"schema"`
}

// Source is a decoded manifest and the file it came from.
type Source struct {
	File     string
	Manifest *Manifest
}

type ManifestScanner struct {
	logger      types.Logger
	registry    *Registry
	middlewares MiddlewareResolver
	validator   *validator.Validate
}

func NewManifestScanner(logger types.Logger, registry *Registry, middlewares MiddlewareResolver) *ManifestScanner {
	return &ManifestScanner{
		logger:      logger,
		registry:    registry,
		middlewares: middlewares,
		validator:   validator.New(),
	}
}

// Scan decodes every *.yml and *.yaml file under dir in lexical order.
func (s *ManifestScanner) Scan(dir string) ([]Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, types.WrapError(err, "route directory")
	}
	if !info.IsDir() {
		return nil, types.Errorf(types.ErrDiscoveryFailed, "%s is not a directory", dir)
	}

	var files []string

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yml", ".yaml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to walk route directory")
	}

	sort.Strings(files)

	sources := make([]Source, 0, len(files))
	for _, file := range files {
		manifest, err := s.decode(file)
		if err != nil {
			return nil, err
		}
		sources = append(sources, Source{File: file, Manifest: manifest})
	}

	return sources, nil
}

func (s *ManifestScanner) decode(file string) (*Manifest, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, types.WrapError(err, "failed to read route manifest")
	}

	manifest := &Manifest{}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err = decoder.Decode(manifest); err != nil && !errors.Is(err, io.EOF) {
		return nil, types.Errorf(types.ErrDiscoveryFailed, "%s: %v", file, err)
	}

	for i := range manifest.Routes {
		manifest.Routes[i].Method = strings.ToUpper(manifest.Routes[i].Method)
	}

	if err = s.validator.Struct(manifest); err != nil {
		return nil, types.Errorf(types.ErrDiscoveryFailed, "%s: %v", file, err)
	}

	return manifest, nil
}

// Discover scans dir and resolves every manifest entry into a route with its
// handler, middlewares and compiled schema.
func (s *ManifestScanner) Discover(dir string) ([]*server.Route, error) {
	sources, err := s.Scan(dir)
	if err != nil {
		return nil, err
	}

	var routes []*server.Route

	for _, source := range sources {
		for _, spec := range source.Manifest.Routes {
			route, err := s.build(spec)
			if err != nil {
				return nil, types.Errorf(types.ErrDiscoveryFailed, "%s: %s %s: %v", source.File, spec.Method, spec.Path, err)
			}
			routes = append(routes, route)
		}

		s.logger.Debug("Route manifest loaded",
			zap.String("file", source.File),
			zap.Int("routes", len(source.Manifest.Routes)))
	}

	s.logger.Info("Routes discovered", zap.String("dir", dir), zap.Int("count", len(routes)))

	return routes, nil
}

func (s *ManifestScanner) build(spec RouteSpec) (*server.Route, error) {
	handler, ok := s.registry.Handler(spec.Handler)
	if !ok {
		return nil, types.NewErrorf("unknown handler %q", spec.Handler)
	}

	middlewares := make([]server.HandlerFunc, 0, len(spec.Middlewares))
	for _, name := range spec.Middlewares {
		if s.middlewares == nil {
			return nil, types.Errorf(types.ErrMiddlewareNotFound, "%s", name)
		}

		mw, err := s.middlewares.Lookup(name)
		if err != nil {
			return nil, err
		}
		middlewares = append(middlewares, mw)
	}

	route := server.NewRoute(spec.Method, spec.Path, handler, middlewares...)

	if spec.Schema != nil {
		compiled, err := schema.Compile(spec.Schema)
		if err != nil {
			return nil, err
		}
		route.WithSchema(compiled)
	}

	return route, nil
}
