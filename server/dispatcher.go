package server

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/logger"
	"github.com/saiset-co/sai-turbo/metrics"
	"github.com/saiset-co/sai-turbo/router"
	"github.com/saiset-co/sai-turbo/schema"
	"github.com/saiset-co/sai-turbo/types"
)

// Dispatcher runs every request through parse, route lookup, validation,
// the middleware chain and the handler. Whatever happens, the response is
// ended exactly once.
type Dispatcher struct {
	table    *Table
	logger   types.Logger
	renderer Renderer
	cache    types.CacheManager
	metrics  *metrics.Collector
	global   []HandlerFunc
}

type DispatcherOption func(d *Dispatcher)

func WithRenderer(renderer Renderer) DispatcherOption {
	return func(d *Dispatcher) {
		if renderer != nil {
			d.renderer = renderer
		}
	}
}

func WithCache(cache types.CacheManager) DispatcherOption {
	return func(d *Dispatcher) {
		d.cache = cache
	}
}

func WithMetrics(collector *metrics.Collector) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = collector
	}
}

// WithMiddlewares adds app-wide middlewares. They run after the request
// target is parsed and before route lookup, so they also see unmatched
// requests.
func WithMiddlewares(middlewares ...HandlerFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.global = append(d.global, middlewares...)
	}
}

// NewDispatcher serves table. A nil table or logger gets an empty one.
func NewDispatcher(table *Table, log types.Logger, opts ...DispatcherOption) *Dispatcher {
	if table == nil {
		table = NewTable()
	}
	if log == nil {
		log = logger.NewNop()
	}

	d := &Dispatcher{
		table:    table,
		logger:   log,
		renderer: NewJSONRenderer(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Dispatcher) Table() *Table {
	return d.table
}

func (d *Dispatcher) Use(middlewares ...HandlerFunc) {
	d.global = append(d.global, middlewares...)
}

func (d *Dispatcher) Route(method, pattern string, handle HandlerFunc) *RouteBuilder {
	return &RouteBuilder{
		table:   d.table,
		method:  method,
		pattern: pattern,
		handle:  handle,
	}
}

func (d *Dispatcher) GET(pattern string, handle HandlerFunc) *RouteBuilder {
	return d.Route(fasthttp.MethodGet, pattern, handle)
}

func (d *Dispatcher) POST(pattern string, handle HandlerFunc) *RouteBuilder {
	return d.Route(fasthttp.MethodPost, pattern, handle)
}

func (d *Dispatcher) PUT(pattern string, handle HandlerFunc) *RouteBuilder {
	return d.Route(fasthttp.MethodPut, pattern, handle)
}

func (d *Dispatcher) PATCH(pattern string, handle HandlerFunc) *RouteBuilder {
	return d.Route(fasthttp.MethodPatch, pattern, handle)
}

func (d *Dispatcher) DELETE(pattern string, handle HandlerFunc) *RouteBuilder {
	return d.Route(fasthttp.MethodDelete, pattern, handle)
}

// Register adds ready-made routes, stopping at the first conflict.
func (d *Dispatcher) Register(routes ...*Route) error {
	for _, route := range routes {
		if err := d.table.Add(route); err != nil {
			d.logger.Error("Route registration failed",
				zap.String("method", route.Method),
				zap.String("pattern", route.Pattern),
				zap.Error(err))
			return err
		}
	}
	return nil
}

func (d *Dispatcher) Handler() fasthttp.RequestHandler {
	return d.Dispatch
}

func (d *Dispatcher) Dispatch(ctx *fasthttp.RequestCtx) {
	context := NewContext()
	req := newRequest(ctx, context)
	res := newResponse(ctx, context, d.renderer, d.cache)

	done := d.metrics.Begin(string(ctx.Method()))

	defer func() {
		if r := recover(); r != nil {
			d.fail(req, res, panicError(r))
		}

		if !res.Ended() {
			// Nothing was emitted and nothing failed; end the response
			// anyway and drop the connection.
			ctx.SetConnectionClose()
			_ = res.End(nil)
		}

		pattern := ""
		if req.route != nil {
			pattern = req.route.Pattern
		}
		done(pattern, ctx.Response.StatusCode())
	}()

	if err := d.run(req, res); err != nil {
		d.fail(req, res, err)
	}
}

func (d *Dispatcher) run(req *Request, res *Response) error {
	if err := req.parse(); err != nil {
		return err
	}

	for _, middleware := range d.global {
		if err := d.execute(middleware, req, res); err != nil {
			return err
		}
		if res.Ended() {
			return nil
		}
	}

	route, params, err := d.table.Find(req.Method(), req.Path())
	if err != nil {
		d.logger.Debug("Route not found",
			zap.String("method", req.Method()),
			zap.String("path", req.Path()))
		return types.NewNotFoundError("Route not found for path: " + req.Path())
	}

	req.route = route
	req.params = params

	if route.Schema != nil {
		if err = d.validate(req, route.Schema); err != nil {
			return err
		}
	}

	for _, middleware := range route.Middlewares {
		if err = d.execute(middleware, req, res); err != nil {
			return err
		}
		if res.Ended() {
			return nil
		}
	}

	return d.execute(route.Handle, req, res)
}

func (d *Dispatcher) execute(handle HandlerFunc, req *Request, res *Response) error {
	if res.Ended() || handle == nil {
		return nil
	}
	return handle(req, res)
}

func (d *Dispatcher) validate(req *Request, compiled router.Schema) error {
	body, err := req.readBody()
	if err != nil {
		return err
	}

	params := make(map[string]interface{}, len(req.params))
	for name, value := range req.params {
		params[name] = value
	}

	data := map[string]interface{}{
		schema.KeyHeaders: collectHeaders(req.ctx),
		schema.KeyParams:  params,
		schema.KeyData:    body,
	}

	if err = compiled.Validate(data); err != nil {
		if !types.IsKind(err, types.KindValidation) {
			return types.NewValidationError(err.Error())
		}
		return err
	}

	clean := compiled.Sanitize(data)
	if headers, ok := clean[schema.KeyHeaders].(map[string]interface{}); ok {
		req.headers = headers
	}
	req.data = clean[schema.KeyData]

	return nil
}

// fail renders err unless the response already ended. A renderer that fails
// or panics leaves the response to the safety net.
func (d *Dispatcher) fail(req *Request, res *Response, err error) {
	terr := types.AsError(err)

	if terr.Kind == types.KindInternal {
		d.logger.ErrorWithErrStack("Request failed",
			err,
			zap.Int("status", terr.StatusCode),
			zap.String("method", req.Method()),
			zap.String("path", req.Path()))
	}

	if res.Ended() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Error renderer panicked", zap.Any("panic", r))
		}
	}()

	if renderErr := d.renderer.RenderError(res, terr); renderErr != nil && !types.IsError(renderErr, types.ErrResponseEnded) {
		d.logger.Error("Error renderer failed", zap.Error(renderErr))
	}

	if !res.Ended() {
		res.ctx.SetStatusCode(terr.StatusCode)
	}
}

func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return errors.WithStack(err)
	}
	return errors.WithStack(fmt.Errorf("%v", r))
}
