package server

const (
	// ExtraCode overrides the success envelope code.
	ExtraCode = "code"
	// ExtraStatus overrides the success envelope status message.
	ExtraStatus = "status"
	// ExtraRequestID holds the id assigned by the request id middleware.
	ExtraRequestID = "request_id"
	// ExtraUser holds the principal set by the auth middleware.
	ExtraUser = "user"
)

// Context is the per-request bag of extras shared by the request and the
// response. It lives for one dispatch and is only touched by the goroutine
// serving that request.
type Context struct {
	extras map[string]interface{}
}

func NewContext() *Context {
	return &Context{}
}

func (c *Context) SetExtras(name string, value interface{}) *Context {
	if c.extras == nil {
		c.extras = make(map[string]interface{}, 4)
	}
	c.extras[name] = value
	return c
}

func (c *Context) UseExtras(name string) (interface{}, bool) {
	value, ok := c.extras[name]
	return value, ok
}

func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.extras))
	for key := range c.extras {
		keys = append(keys, key)
	}
	return keys
}

// Extra returns the extra stored under name when it holds a T.
func Extra[T any](c *Context, name string) (T, bool) {
	var zero T

	value, ok := c.UseExtras(name)
	if !ok {
		return zero, false
	}

	typed, ok := value.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
