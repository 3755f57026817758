package server

import (
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-turbo/types"
	"github.com/saiset-co/sai-turbo/utils"
)

// Request wraps the transport request with the route match, the validated
// payload and the shared Context.
type Request struct {
	ctx     *fasthttp.RequestCtx
	context *Context
	url     *url.URL
	route   *Route
	params  map[string]string
	headers map[string]interface{}
	data    interface{}
}

func newRequest(ctx *fasthttp.RequestCtx, context *Context) *Request {
	return &Request{
		ctx:     ctx,
		context: context,
	}
}

// parse derives pathname and query from the request target. Both
// origin-form ("/a?b=1") and absolute-form ("http://h/a?b=1") are accepted.
func (r *Request) parse() error {
	target := string(r.ctx.RequestURI())
	if target == "" || target == "*" {
		target = "/"
	}

	parsed, err := url.ParseRequestURI(target)
	if err != nil {
		if parsed, err = url.Parse("/" + strings.TrimLeft(target, "/")); err != nil {
			return types.NewStatusError(fasthttp.StatusBadRequest, "Malformed request target: "+target)
		}
	}

	if parsed.Path == "" {
		parsed.Path = "/"
	}

	r.url = parsed
	return nil
}

func (r *Request) Ctx() *fasthttp.RequestCtx {
	return r.ctx
}

func (r *Request) Context() *Context {
	return r.context
}

func (r *Request) SetExtras(name string, value interface{}) *Request {
	r.context.SetExtras(name, value)
	return r
}

func (r *Request) UseExtras(name string) (interface{}, bool) {
	return r.context.UseExtras(name)
}

func (r *Request) Method() string {
	return string(r.ctx.Method())
}

func (r *Request) Path() string {
	if r.url == nil {
		return string(r.ctx.Path())
	}
	return r.url.Path
}

func (r *Request) Search() string {
	if r.url == nil || r.url.RawQuery == "" {
		return ""
	}
	return "?" + r.url.RawQuery
}

func (r *Request) Query() url.Values {
	if r.url == nil {
		return url.Values{}
	}
	return r.url.Query()
}

// Route is the matched route, nil before lookup.
func (r *Request) Route() *Route {
	return r.route
}

func (r *Request) Params() map[string]string {
	return r.params
}

func (r *Request) Param(name string) string {
	return r.params[name]
}

func (r *Request) Header(name string) string {
	return string(r.ctx.Request.Header.Peek(name))
}

// Headers returns the validated headers when the route has a schema, and
// every header lowercased otherwise.
func (r *Request) Headers() map[string]interface{} {
	if r.headers != nil {
		return r.headers
	}
	return collectHeaders(r.ctx)
}

// Data is the sanitized body, set only for routes with a schema.
func (r *Request) Data() interface{} {
	return r.data
}

func (r *Request) Body() []byte {
	return r.ctx.PostBody()
}

func (r *Request) IsJSON() bool {
	return strings.HasPrefix(strings.ToLower(string(r.ctx.Request.Header.ContentType())), utils.ContentTypeJSON)
}

// Bind decodes the JSON body into target.
func (r *Request) Bind(target interface{}) error {
	if err := sonic.ConfigStd.Unmarshal(r.ctx.PostBody(), target); err != nil {
		return types.NewValidationError("Malformed JSON body: " + err.Error())
	}
	return nil
}

// readBody reads the payload for methods that carry one: parsed JSON for
// application/json, raw text otherwise.
func (r *Request) readBody() (interface{}, error) {
	if !utils.MethodHasBody(r.ctx.Method()) {
		return nil, nil
	}

	raw := r.ctx.PostBody()
	if len(raw) == 0 {
		return nil, nil
	}

	if !r.IsJSON() {
		return string(raw), nil
	}

	value, err := utils.Decode(raw)
	if err != nil {
		return nil, types.NewValidationError("Malformed JSON body: " + err.Error())
	}
	return value, nil
}

func collectHeaders(ctx *fasthttp.RequestCtx) map[string]interface{} {
	headers := make(map[string]interface{}, ctx.Request.Header.Len())
	ctx.Request.Header.VisitAll(func(key, value []byte) {
		headers[strings.ToLower(string(key))] = string(value)
	})
	return headers
}
