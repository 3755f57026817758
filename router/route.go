package router

import (
	"strings"

	"github.com/saiset-co/sai-turbo/types"
)

var methodIndex = map[string]uint8{
	"GET":     0,
	"POST":    1,
	"PUT":     2,
	"DELETE":  3,
	"PATCH":   4,
	"HEAD":    5,
	"OPTIONS": 6,
	"CONNECT": 7,
	"TRACE":   8,
}

// Route is generic over the handler type so the table never depends on the
// dispatcher that consumes it.
type Route[H any] struct {
	Method      string
	Pattern     string
	Schema      Schema
	Middlewares []H
	Handle      H

	base     string
	segments []segment
}

// Schema is satisfied by compiled request schemas. A nil Schema disables the
// validation gate.
type Schema interface {
	Validate(data map[string]interface{}) error
	Sanitize(data map[string]interface{}) map[string]interface{}
}

type segment struct {
	value   string
	isParam bool
}

func NewRoute[H any](method, pattern string, handle H, middlewares ...H) *Route[H] {
	return &Route[H]{
		Method:      strings.ToUpper(method),
		Pattern:     pattern,
		Middlewares: middlewares,
		Handle:      handle,
	}
}

func (r *Route[H]) WithSchema(schema Schema) *Route[H] {
	r.Schema = schema
	return r
}

// Base is the leading path component of the pattern, e.g. "/users" for
// "/users/:id".
func (r *Route[H]) Base() string {
	return r.base
}

func (r *Route[H]) ParamNames() []string {
	var names []string
	for _, seg := range r.segments {
		if seg.isParam {
			names = append(names, seg.value)
		}
	}
	return names
}

func (r *Route[H]) compile() error {
	if _, ok := methodIndex[r.Method]; !ok {
		return types.Errorf(types.ErrRouteInvalid, "unsupported method %q", r.Method)
	}

	segments, err := compilePattern(r.Pattern)
	if err != nil {
		return err
	}

	r.segments = segments
	r.base = BaseSegment(r.Pattern)
	return nil
}

func (r *Route[H]) match(pathSegments []string) (map[string]string, bool) {
	if len(pathSegments) != len(r.segments) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range r.segments {
		if seg.isParam {
			if params == nil {
				params = make(map[string]string, len(r.segments))
			}
			params[seg.value] = pathSegments[i]
			continue
		}
		if seg.value != pathSegments[i] {
			return nil, false
		}
	}

	if params == nil {
		params = map[string]string{}
	}
	return params, true
}

// overlaps reports whether some path could match both routes.
func (r *Route[H]) overlaps(other *Route[H]) bool {
	if len(r.segments) != len(other.segments) {
		return false
	}

	for i, seg := range r.segments {
		theirs := other.segments[i]
		if seg.isParam || theirs.isParam {
			continue
		}
		if seg.value != theirs.value {
			return false
		}
	}

	return true
}

func compilePattern(pattern string) ([]segment, error) {
	parts := splitPath(NormalizePath(pattern))
	segments := make([]segment, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))

	for _, part := range parts {
		name, isParam := paramName(part)
		if !isParam {
			segments = append(segments, segment{value: part})
			continue
		}

		if name == "" {
			return nil, types.Errorf(types.ErrRouteInvalid, "empty parameter name in %q", pattern)
		}
		if _, dup := seen[name]; dup {
			return nil, types.Errorf(types.ErrRouteInvalid, "duplicate parameter %q in %q", name, pattern)
		}
		seen[name] = struct{}{}
		segments = append(segments, segment{value: name, isParam: true})
	}

	return segments, nil
}

func paramName(part string) (string, bool) {
	switch {
	case strings.HasPrefix(part, ":"):
		return part[1:], true
	case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
		return part[1 : len(part)-1], true
	default:
		return "", false
	}
}

// BaseSegment returns the leading component of pattern up to but excluding a
// second slash, always with a leading slash.
func BaseSegment(pattern string) string {
	pattern = lead(pattern)
	if idx := strings.IndexByte(pattern[1:], '/'); idx >= 0 {
		return pattern[:idx+1]
	}
	return pattern
}

// NormalizePath adds a leading slash and drops trailing ones, keeping "/".
func NormalizePath(path string) string {
	path = lead(path)
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}

func lead(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{}
	}
	return strings.Split(path, "/")
}
