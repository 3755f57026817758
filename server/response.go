package server

import (
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-turbo/cache"
	"github.com/saiset-co/sai-turbo/types"
)

// Response wraps the transport response. It can be ended once; after that
// the dispatcher treats the request as finished.
type Response struct {
	ctx      *fasthttp.RequestCtx
	context  *Context
	renderer Renderer
	cache    types.CacheManager
	ended    bool
	hooks    []func(res *Response)
}

func newResponse(ctx *fasthttp.RequestCtx, context *Context, renderer Renderer, cache types.CacheManager) *Response {
	return &Response{
		ctx:      ctx,
		context:  context,
		renderer: renderer,
		cache:    cache,
	}
}

func (r *Response) Ctx() *fasthttp.RequestCtx {
	return r.ctx
}

func (r *Response) Context() *Context {
	return r.context
}

func (r *Response) SetExtras(name string, value interface{}) *Response {
	r.context.SetExtras(name, value)
	return r
}

func (r *Response) UseExtras(name string) (interface{}, bool) {
	return r.context.UseExtras(name)
}

// SetStatus sets the status code and, when given, the reason phrase.
func (r *Response) SetStatus(code int, status ...string) *Response {
	r.ctx.SetStatusCode(code)
	if len(status) > 0 && status[0] != "" {
		r.ctx.Response.Header.SetStatusMessage([]byte(status[0]))
	}
	return r
}

func (r *Response) StatusCode() int {
	return r.ctx.Response.StatusCode()
}

func (r *Response) SetHeader(name, value string) *Response {
	r.ctx.Response.Header.Set(name, value)
	return r
}

// JSON emits data through the success renderer and ends the response.
func (r *Response) JSON(data interface{}) error {
	return r.renderer.RenderSuccess(r, data)
}

// Error emits err through the error renderer and ends the response.
func (r *Response) Error(err error) error {
	return r.renderer.RenderError(r, err)
}

// End writes body and finalizes the response. Hooks registered with OnEnd
// run once, in order, after the body is set.
func (r *Response) End(body []byte) error {
	if r.ended {
		return types.ErrResponseEnded
	}

	if body != nil {
		r.ctx.SetBody(body)
	}
	r.ended = true

	for _, hook := range r.hooks {
		hook(r)
	}

	return nil
}

func (r *Response) Ended() bool {
	return r.ended
}

// OnEnd registers fn to run when the response is ended.
func (r *Response) OnEnd(fn func(res *Response)) {
	r.hooks = append(r.hooks, fn)
}

// Cache returns the value stored under opts.Name or computes it with producer
// and stores it for opts.TTL milliseconds. Without a cache producer always runs.
func (r *Response) Cache(opts types.CacheOptions, producer func() (interface{}, error)) (interface{}, error) {
	if r.cache == nil {
		if producer == nil {
			return nil, types.ErrProducerIsNil
		}
		return producer()
	}
	return cache.Cached(r.cache, opts, producer)
}

// MarkEnded records that a raw fasthttp handler already wrote the response.
func (r *Response) MarkEnded() {
	if !r.ended {
		_ = r.End(nil)
	}
}
