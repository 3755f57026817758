package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-turbo/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	DefaultPort     = 4000
	DefaultHostname = "127.0.0.1"
)

type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	httpConfig      *types.HTTPConfig
	handler         fasthttp.RequestHandler
	server          *fasthttp.Server
	listener        net.Listener
	state           atomic.Value
	shutdownTimeout time.Duration
	serveErr        chan error
}

func NewHTTPServer(ctx context.Context, httpConfig *types.HTTPConfig, logger types.Logger, handler fasthttp.RequestHandler) (*FastHTTPServer, error) {
	if handler == nil {
		return nil, types.ErrHandlerIsNil
	}

	if httpConfig == nil {
		httpConfig = &types.HTTPConfig{}
	}

	serverCtx, cancel := context.WithCancel(ctx)

	shutdownTimeout := 5 * time.Second
	if httpConfig.ShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(httpConfig.ShutdownTimeout) * time.Second
	}

	server := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		httpConfig:      httpConfig,
		handler:         handler,
		shutdownTimeout: shutdownTimeout,
		serveErr:        make(chan error, 1),
	}

	server.state.Store(StateStopped)

	return server, nil
}

// Start listens on the configured host and port.
func (h *FastHTTPServer) Start() error {
	return h.Listen(h.httpConfig.Port, h.httpConfig.Host, nil, h.httpConfig.MaxConnections)
}

// Listen binds hostname:port and serves in the background. Zero values fall
// back to 127.0.0.1:4000; a nil callback logs the address. maxConnections
// caps concurrent connections when positive.
func (h *FastHTTPServer) Listen(port int, hostname string, callback func(), maxConnections int) error {
	if port == 0 {
		port = DefaultPort
	}
	if hostname == "" {
		hostname = DefaultHostname
	}

	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(hostname, fmt.Sprint(port)))
	if err != nil {
		h.setState(StateStopped)
		return types.WrapError(err, "HTTP listener failed")
	}

	if callback == nil {
		callback = func() {
			h.logger.Info(fmt.Sprintf("Server started at http://%s:%d", hostname, port))
		}
	}

	return h.serve(listener, callback, maxConnections)
}

// Serve runs on an existing listener.
func (h *FastHTTPServer) Serve(listener net.Listener, callback func()) error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if callback == nil {
		callback = func() {
			h.logger.Info("Server started at http://" + listener.Addr().String())
		}
	}

	return h.serve(listener, callback, h.httpConfig.MaxConnections)
}

func (h *FastHTTPServer) serve(listener net.Listener, callback func(), maxConnections int) error {
	h.server = &fasthttp.Server{
		Handler:                      h.handler,
		Name:                         "turbo",
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
		Logger:                       fasthttpLogger{logger: h.logger},
	}

	if maxConnections > 0 {
		h.server.Concurrency = maxConnections
	}

	h.listener = listener
	h.setState(StateRunning)

	go func() {
		err := h.server.Serve(listener)
		if err != nil && h.getState() == StateRunning {
			h.logger.Error("HTTP server failed", zap.Error(err))
			h.setState(StateStopped)
		}
		h.serveErr <- err
	}()

	callback()

	return nil
}

func (h *FastHTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		h.logger.Warn("Server stop timeout, some connections were closed forcibly", zap.Error(err))
		return err
	}

	h.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

func (h *FastHTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *FastHTTPServer) setState(newState State) {
	h.state.Store(newState)
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

type fasthttpLogger struct {
	logger types.Logger
}

func (l fasthttpLogger) Printf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
