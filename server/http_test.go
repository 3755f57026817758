package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-turbo/logger"
	"github.com/saiset-co/sai-turbo/types"
)

func TestNewHTTPServer_NilHandler(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPServer(context.Background(), nil, logger.NewNop(), nil)
	assert.ErrorIs(t, err, types.ErrHandlerIsNil)
}

func TestFastHTTPServer_ServeAndStop(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher()
	d.GET("/ping", func(req *Request, res *Response) error {
		return res.JSON("pong")
	}).MustRegister()

	srv, err := NewHTTPServer(context.Background(), &types.HTTPConfig{ShutdownTimeout: 2}, logger.NewNop(), d.Handler())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	started := false
	require.NoError(t, srv.Serve(ln, func() { started = true }))
	assert.True(t, started)
	assert.True(t, srv.IsRunning())
	assert.Equal(t, ln.Addr().String(), srv.Addr().String())

	assert.ErrorIs(t, srv.Serve(ln, nil), types.ErrServerAlreadyRunning)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://" + srv.Addr().String() + "/ping")
	require.NoError(t, fasthttp.DoTimeout(req, resp, 2*time.Second))

	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.JSONEq(t, `{"success":true,"code":200,"status":"Request successful.","data":"pong"}`, string(resp.Body()))

	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
	assert.ErrorIs(t, srv.Stop(), types.ErrServerNotRunning)
}

func TestFastHTTPServer_ListenDefaults(t *testing.T) {
	t.Parallel()

	srv, err := NewHTTPServer(context.Background(), nil, logger.NewNop(), newTestDispatcher().Handler())
	require.NoError(t, err)

	// Port 0 would pick the default; use an ephemeral port to stay isolated.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	require.NoError(t, srv.Listen(port, "", nil, 8))
	defer func() { _ = srv.Stop() }()

	assert.Equal(t, DefaultHostname, srv.Addr().(*net.TCPAddr).IP.String())
	assert.Equal(t, 8, srv.server.Concurrency)
}
