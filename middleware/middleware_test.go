package middleware

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-turbo/cache"
	"github.com/saiset-co/sai-turbo/logger"
	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
)

type staticConfig struct {
	cfg *types.ServiceConfig
}

func (s staticConfig) GetConfig() *types.ServiceConfig { return s.cfg }

func (s staticConfig) GetValue(string, interface{}) interface{} { return nil }

func (s staticConfig) GetAs(string, interface{}) error { return nil }

func item(params map[string]interface{}) *types.MiddlewareItemConfig {
	return &types.MiddlewareItemConfig{Enabled: true, Params: params}
}

func newDispatcher(t *testing.T, global ...server.HandlerFunc) *server.Dispatcher {
	t.Helper()
	return server.NewDispatcher(server.NewTable(), logger.NewNop(), server.WithMiddlewares(global...))
}

func do(d *server.Dispatcher, method, uri string, headers map[string]string, body string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	if body != "" {
		req.SetBodyString(body)
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	d.Dispatch(ctx)
	return ctx
}

func envelope(t *testing.T, body []byte) server.Envelope {
	t.Helper()

	var env server.Envelope
	require.NoError(t, sonic.Unmarshal(body, &env), string(body))
	return env
}

func echoUser(req *server.Request, res *server.Response) error {
	user, _ := server.Extra[string](req.Context(), server.ExtraUser)
	return res.JSON(user)
}

func TestManager_RegisterMiddlewares(t *testing.T) {
	t.Parallel()

	cfg := staticConfig{cfg: &types.ServiceConfig{
		Middlewares: &types.MiddlewaresConfig{
			RequestID: item(nil),
			Logging:   item(nil),
			Auth: &types.MiddlewareItemConfig{
				Params: map[string]interface{}{"tokens": map[string]interface{}{"secret": "alice"}},
			},
		},
	}}

	m := NewManager(cfg, logger.NewNop(), nil, nil)
	require.NoError(t, m.RegisterMiddlewares())

	assert.Equal(t, []string{"auth", "logging", "request-id"}, m.Names())
	assert.Len(t, m.Global(), 2)

	auth, err := m.Lookup("auth")
	require.NoError(t, err)
	assert.NotNil(t, auth)

	_, err = m.Lookup("missing")
	assert.ErrorIs(t, err, types.ErrMiddlewareNotFound)

	mw, err := NewLoggingMiddleware(nil, logger.NewNop())
	require.NoError(t, err)
	assert.Error(t, m.Register(mw, false))
}

func TestManager_InvalidParams(t *testing.T) {
	t.Parallel()

	cfg := staticConfig{cfg: &types.ServiceConfig{
		Middlewares: &types.MiddlewaresConfig{
			Compression: item(map[string]interface{}{"algorithm": "zstd"}),
		},
	}}

	m := NewManager(cfg, logger.NewNop(), nil, nil)
	assert.Error(t, m.RegisterMiddlewares())
}

func TestManager_GlobalOrder(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, logger.NewNop(), nil, nil)
	require.NoError(t, m.RegisterMiddlewares())

	auth, err := NewAuthMiddleware(item(nil), logger.NewNop())
	require.NoError(t, err)
	meta, err := NewMetadataMiddleware(nil, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, m.Register(auth, true))
	require.NoError(t, m.Register(meta, true))

	d := newDispatcher(t, m.Global()...)
	d.GET("/x", echoUser).MustRegister()

	ctx := do(d, "GET", "/x", nil, "")

	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	// request id ran first despite being registered last
	assert.NotEmpty(t, ctx.Response.Header.Peek("X-Request-ID"))
}

func TestAuthMiddleware_Token(t *testing.T) {
	t.Parallel()

	auth, err := NewAuthMiddleware(item(map[string]interface{}{
		"tokens":     map[string]interface{}{"secret": "alice"},
		"skip_paths": []interface{}{"/public"},
	}), logger.NewNop())
	require.NoError(t, err)

	d := newDispatcher(t)
	d.GET("/me", echoUser).WithMiddlewares(auth.Handle).MustRegister()
	d.GET("/public", echoUser).WithMiddlewares(auth.Handle).MustRegister()

	cases := []struct {
		name   string
		uri    string
		header string
		code   int
		user   string
	}{
		{"ok/bearer", "/me", "Bearer secret", 200, "alice"},
		{"ok/raw token", "/me", "secret", 200, "alice"},
		{"ok/skip path", "/public", "", 200, ""},
		{"err/missing", "/me", "", 401, ""},
		{"err/wrong", "/me", "Bearer nope", 401, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.header != "" {
				headers["Authorization"] = tc.header
			}

			ctx := do(d, "GET", tc.uri, headers, "")
			assert.Equal(t, tc.code, ctx.Response.StatusCode())

			env := envelope(t, ctx.Response.Body())
			if tc.code == 200 {
				assert.Equal(t, tc.user, env.Data)
			} else {
				assert.Equal(t, "Authentication required", env.Status)
			}
		})
	}
}

func TestAuthMiddleware_Basic(t *testing.T) {
	t.Parallel()

	auth, err := NewAuthMiddleware(item(map[string]interface{}{
		"provider": "basic",
		"users":    map[string]interface{}{"bob": "hunter2"},
	}), logger.NewNop())
	require.NoError(t, err)

	d := newDispatcher(t)
	d.GET("/me", echoUser).WithMiddlewares(auth.Handle).MustRegister()

	ctx := do(d, "GET", "/me", nil, "")
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.Equal(t, `Basic realm="turbo"`, string(ctx.Response.Header.Peek("WWW-Authenticate")))

	creds := base64.StdEncoding.EncodeToString([]byte("bob:hunter2"))
	ctx = do(d, "GET", "/me", map[string]string{"Authorization": "Basic " + creds}, "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "bob", envelope(t, ctx.Response.Body()).Data)

	_, err = NewAuthMiddleware(item(map[string]interface{}{"provider": "ldap"}), logger.NewNop())
	assert.Error(t, err)
}

func TestBodyLimitMiddleware(t *testing.T) {
	t.Parallel()

	bl, err := NewBodyLimitMiddleware(item(map[string]interface{}{"max_body_size": 8}), logger.NewNop())
	require.NoError(t, err)

	d := newDispatcher(t, bl.Handle)
	d.POST("/upload", func(req *server.Request, res *server.Response) error {
		return res.JSON(len(req.Body()))
	}).MustRegister()

	ctx := do(d, "POST", "/upload", nil, "1234")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = do(d, "POST", "/upload", nil, strings.Repeat("x", 16))
	assert.Equal(t, fasthttp.StatusRequestEntityTooLarge, ctx.Response.StatusCode())
	assert.Equal(t, "Request body exceeds maximum size of 8 bytes", envelope(t, ctx.Response.Body()).Status)
	assert.True(t, ctx.Response.ConnectionClose())
}

func TestCORSMiddleware(t *testing.T) {
	t.Parallel()

	cors, err := NewCORSMiddleware(item(map[string]interface{}{
		"allowed_origins": []interface{}{"https://app.test", "*.example.com"},
		"exposed_headers": []interface{}{"X-Request-ID"},
	}), logger.NewNop())
	require.NoError(t, err)

	d := newDispatcher(t, cors.Handle)
	d.GET("/data", func(req *server.Request, res *server.Response) error {
		return res.JSON("ok")
	}).MustRegister()

	t.Run("ok/exact origin", func(t *testing.T) {
		ctx := do(d, "GET", "/data", map[string]string{"Origin": "https://app.test"}, "")
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, "https://app.test", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
		assert.Equal(t, "X-Request-ID", string(ctx.Response.Header.Peek("Access-Control-Expose-Headers")))
	})

	t.Run("ok/wildcard origin", func(t *testing.T) {
		ctx := do(d, "GET", "/data", map[string]string{"Origin": "https://api.example.com"}, "")
		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	})

	t.Run("err/nested subdomain", func(t *testing.T) {
		ctx := do(d, "GET", "/data", map[string]string{"Origin": "https://a.b.example.com"}, "")
		assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
	})

	t.Run("err/blocked", func(t *testing.T) {
		ctx := do(d, "GET", "/data", map[string]string{"Origin": "https://evil.test"}, "")
		assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
		assert.Equal(t, "Origin not allowed", envelope(t, ctx.Response.Body()).Status)
	})

	t.Run("ok/preflight", func(t *testing.T) {
		ctx := do(d, "OPTIONS", "/data", map[string]string{"Origin": "https://app.test"}, "")
		assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Header.Peek("Access-Control-Allow-Methods")), "PATCH")
		assert.Equal(t, "86400", string(ctx.Response.Header.Peek("Access-Control-Max-Age")))
		assert.False(t, ctx.Response.ConnectionClose())
	})
}

func TestMetadataMiddleware(t *testing.T) {
	t.Parallel()

	meta, err := NewMetadataMiddleware(item(nil), logger.NewNop())
	require.NoError(t, err)

	d := newDispatcher(t, meta.Handle)
	d.GET("/id", func(req *server.Request, res *server.Response) error {
		id, _ := server.Extra[string](req.Context(), server.ExtraRequestID)
		trace, _ := server.Extra[string](req.Context(), ExtraTraceID)
		return res.JSON([]string{id, trace})
	}).MustRegister()

	ctx := do(d, "GET", "/id", nil, "")
	generated := string(ctx.Response.Header.Peek("X-Request-ID"))
	_, err = uuid.Parse(generated)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{generated, ""}, envelope(t, ctx.Response.Body()).Data)

	ctx = do(d, "GET", "/id", map[string]string{"X-Request-ID": "abc", "X-Trace-ID": "t-1"}, "")
	assert.Equal(t, "abc", string(ctx.Response.Header.Peek("X-Request-ID")))
	assert.Equal(t, []interface{}{"abc", "t-1"}, envelope(t, ctx.Response.Body()).Data)
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	l := logger.NewZapWrapper(zap.New(core))

	mw, err := NewLoggingMiddleware(item(map[string]interface{}{"log_headers": true}), l)
	require.NoError(t, err)

	d := newDispatcher(t, mw.Handle)
	d.GET("/users/:id", func(req *server.Request, res *server.Response) error {
		return res.JSON(nil)
	}).MustRegister()

	do(d, "GET", "/users/1?x=2", map[string]string{"Authorization": "secret"}, "")
	do(d, "GET", "/missing", nil, "")

	started := logs.FilterMessage("Request started").All()
	require.Len(t, started, 2)
	assert.Equal(t, "x=2", started[0].ContextMap()["query"])
	headers := started[0].ContextMap()["headers"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", headers["authorization"])

	completed := logs.FilterMessage("Request completed").All()
	require.Len(t, completed, 2)
	assert.Equal(t, zapcore.InfoLevel, completed[0].Level)
	assert.Equal(t, int64(200), completed[0].ContextMap()["status"])
	assert.Equal(t, "/users/:id", completed[0].ContextMap()["route"])
	assert.Equal(t, zapcore.WarnLevel, completed[1].Level)
	assert.Equal(t, int64(404), completed[1].ContextMap()["status"])
}

func TestCompressionMiddleware(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("turbo ", 200)

	decoders := map[string]func(r io.Reader) (io.Reader, error){
		AlgorithmGzip: func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
		AlgorithmBrotli: func(r io.Reader) (io.Reader, error) {
			return brotli.NewReader(r), nil
		},
	}

	for algorithm, decode := range decoders {
		algorithm, decode := algorithm, decode
		t.Run(algorithm, func(t *testing.T) {
			t.Parallel()

			mw, err := NewCompressionMiddleware(item(map[string]interface{}{
				"algorithm": algorithm,
				"threshold": 256,
			}), logger.NewNop())
			require.NoError(t, err)

			d := newDispatcher(t, mw.Handle)
			d.GET("/big", func(req *server.Request, res *server.Response) error {
				return res.JSON(payload)
			}).MustRegister()
			d.GET("/small", func(req *server.Request, res *server.Response) error {
				return res.JSON("x")
			}).MustRegister()

			ctx := do(d, "GET", "/big", map[string]string{"Accept-Encoding": algorithm}, "")
			assert.Equal(t, algorithm, string(ctx.Response.Header.Peek("Content-Encoding")))

			reader, err := decode(bytes.NewReader(ctx.Response.Body()))
			require.NoError(t, err)
			raw, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, payload, envelope(t, raw).Data)

			ctx = do(d, "GET", "/small", map[string]string{"Accept-Encoding": algorithm}, "")
			assert.Empty(t, ctx.Response.Header.Peek("Content-Encoding"))

			ctx = do(d, "GET", "/big", nil, "")
			assert.Empty(t, ctx.Response.Header.Peek("Content-Encoding"))
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	rl, err := NewRateLimitMiddleware(item(map[string]interface{}{"requests": 2, "window_seconds": 60}), logger.NewNop(), nil)
	require.NoError(t, err)

	d := newDispatcher(t, rl.Handle)
	d.GET("/x", func(req *server.Request, res *server.Response) error {
		return res.JSON(nil)
	}).MustRegister()

	headers := map[string]string{"X-Real-IP": "10.0.0.1"}

	assert.Equal(t, 200, do(d, "GET", "/x", headers, "").Response.StatusCode())
	ctx := do(d, "GET", "/x", headers, "")
	assert.Equal(t, 200, ctx.Response.StatusCode())
	assert.Equal(t, "0", string(ctx.Response.Header.Peek("X-RateLimit-Remaining")))

	ctx = do(d, "GET", "/x", headers, "")
	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
	assert.Equal(t, "60", string(ctx.Response.Header.Peek("Retry-After")))

	other := do(d, "GET", "/x", map[string]string{"X-Real-IP": "10.0.0.2"}, "")
	assert.Equal(t, 200, other.Response.StatusCode())

	rl.cleanup()
	assert.NotNil(t, rl.shard("10.0.0.1").clients["10.0.0.1"])

	rl.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	rl.cleanup()
	assert.Nil(t, rl.shard("10.0.0.1").clients["10.0.0.1"])

	_, err = NewRateLimitMiddleware(item(map[string]interface{}{"requests": 0}), logger.NewNop(), nil)
	assert.Error(t, err)
}

func TestCacheMiddleware(t *testing.T) {
	t.Parallel()

	mem, err := cache.NewMemoryCache(context.Background(), logger.NewNop(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, mem.Start())
	t.Cleanup(func() { _ = mem.Stop() })

	mw, err := NewCacheMiddleware(item(nil), logger.NewNop(), mem, 0)
	require.NoError(t, err)

	calls := 0

	d := newDispatcher(t)
	d.GET("/list", func(req *server.Request, res *server.Response) error {
		calls++
		return res.JSON(calls)
	}).WithMiddlewares(mw.Handle).MustRegister()

	first := do(d, "GET", "/list?page=1", nil, "")
	assert.Equal(t, "MISS", string(first.Response.Header.Peek(HeaderCache)))

	second := do(d, "GET", "/list?page=1", nil, "")
	assert.Equal(t, "HIT", string(second.Response.Header.Peek(HeaderCache)))
	assert.Equal(t, string(first.Response.Body()), string(second.Response.Body()))

	do(d, "GET", "/list?page=2", nil, "")
	assert.Equal(t, 2, calls)

	_, err = NewCacheMiddleware(nil, logger.NewNop(), nil, 0)
	assert.ErrorIs(t, err, types.ErrCacheIsDisabled)

	withDefault, err := NewCacheMiddleware(item(nil), logger.NewNop(), mem, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 600, withDefault.cacheConfig.TTLSeconds)

	explicit, err := NewCacheMiddleware(item(map[string]interface{}{"ttl_seconds": 30}), logger.NewNop(), mem, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 30, explicit.cacheConfig.TTLSeconds)

	_, err = NewCacheMiddleware(item(map[string]interface{}{"ttl_seconds": -1}), logger.NewNop(), mem, 0)
	assert.Error(t, err)
}

func TestCacheMiddleware_SkipsEmptyBody(t *testing.T) {
	t.Parallel()

	mem, err := cache.NewMemoryCache(context.Background(), logger.NewNop(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, mem.Start())
	t.Cleanup(func() { _ = mem.Stop() })

	mw, err := NewCacheMiddleware(item(nil), logger.NewNop(), mem, 0)
	require.NoError(t, err)

	calls := 0

	d := newDispatcher(t)
	d.GET("/silent", func(req *server.Request, res *server.Response) error {
		calls++
		if calls == 1 {
			return nil
		}
		return res.JSON("filled")
	}).WithMiddlewares(mw.Handle).MustRegister()

	first := do(d, "GET", "/silent", nil, "")
	assert.Empty(t, first.Response.Body())
	assert.Equal(t, 0, mem.Len())

	second := do(d, "GET", "/silent", nil, "")
	assert.Equal(t, "MISS", string(second.Response.Header.Peek(HeaderCache)))
	assert.Contains(t, string(second.Response.Body()), "filled")
	assert.Equal(t, 2, calls)
}
