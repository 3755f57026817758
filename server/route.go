package server

import (
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-turbo/router"
	"github.com/saiset-co/sai-turbo/schema"
)

// HandlerFunc is both a middleware and a route handler. A middleware that
// ends the response stops the chain.
type HandlerFunc func(req *Request, res *Response) error

type (
	Route = router.Route[HandlerFunc]
	Table = router.Table[HandlerFunc]
)

func NewTable() *Table {
	return router.NewTable[HandlerFunc]()
}

func NewRoute(method, pattern string, handle HandlerFunc, middlewares ...HandlerFunc) *Route {
	return router.NewRoute(method, pattern, handle, middlewares...)
}

// RouteBuilder collects a route definition and registers it on Register.
type RouteBuilder struct {
	table       *Table
	method      string
	pattern     string
	handle      HandlerFunc
	middlewares []HandlerFunc
	schema      *schema.Options
}

func (rb *RouteBuilder) WithMiddlewares(middlewares ...HandlerFunc) *RouteBuilder {
	rb.middlewares = append(rb.middlewares, middlewares...)
	return rb
}

func (rb *RouteBuilder) WithSchema(opts *schema.Options) *RouteBuilder {
	rb.schema = opts
	return rb
}

// Register compiles the schema, if any, and adds the route to the table.
func (rb *RouteBuilder) Register() (*Route, error) {
	route := NewRoute(rb.method, rb.pattern, rb.handle, rb.middlewares...)

	if rb.schema != nil {
		compiled, err := schema.Compile(rb.schema)
		if err != nil {
			return nil, err
		}
		route.WithSchema(compiled)
	}

	if err := rb.table.Add(route); err != nil {
		return nil, err
	}
	return route, nil
}

// MustRegister is Register for setup code where a conflict is fatal.
func (rb *RouteBuilder) MustRegister() *Route {
	route, err := rb.Register()
	if err != nil {
		panic(err)
	}
	return route
}

// FromFastHTTP adapts a raw fasthttp handler. The wrapped handler owns the
// response, so it is marked ended afterwards.
func FromFastHTTP(handler fasthttp.RequestHandler) HandlerFunc {
	return func(req *Request, res *Response) error {
		handler(req.Ctx())
		res.MarkEnded()
		return nil
	}
}
