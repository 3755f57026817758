package service

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-turbo/cache"
	"github.com/saiset-co/sai-turbo/config"
	"github.com/saiset-co/sai-turbo/cron"
	"github.com/saiset-co/sai-turbo/discovery"
	"github.com/saiset-co/sai-turbo/logger"
	"github.com/saiset-co/sai-turbo/metrics"
	"github.com/saiset-co/sai-turbo/middleware"
	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const defaultShutdownTimeout = 10 * time.Second

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *config.ConfigurationManager
	logger          types.LoggerManager
	scheduler       *cron.Scheduler
	collector       *metrics.Collector
	cache           types.CacheManager
	middlewares     *middleware.Manager
	registry        *discovery.Registry
	dispatcher      *server.Dispatcher
	httpServer      *server.FastHTTPServer
	state           atomic.Value
	wg              sync.WaitGroup
	done            chan struct{}
	shutdownTimeout time.Duration
}

// NewService loads configPath and wires every component. Nothing listens
// until Start.
func NewService(ctx context.Context, configPath string) (*Service, error) {
	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to register config manager")
	}
	return newService(ctx, configManager)
}

// NewStaticService wires the service from an in-memory config. A nil config
// uses the defaults.
func NewStaticService(ctx context.Context, cfg *types.ServiceConfig) (*Service, error) {
	configManager, err := config.NewStaticManager(ctx, cfg)
	if err != nil {
		return nil, types.WrapError(err, "failed to register config manager")
	}
	return newService(ctx, configManager)
}

func newService(ctx context.Context, configManager *config.ConfigurationManager) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		config:          configManager,
		registry:        discovery.NewRegistry(),
		done:            make(chan struct{}),
		shutdownTimeout: defaultShutdownTimeout,
	}
	s.state.Store(StateStopped)

	if err := s.registerComponents(); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) registerComponents() error {
	_config := s.config.GetConfig()

	loggerManager, err := logger.NewManager(s.config)
	if err != nil {
		return types.WrapError(err, "failed to register logger")
	}
	s.logger = loggerManager

	s.scheduler = cron.NewScheduler(s.ctx, loggerManager.Named("scheduler"))

	if _config.Metrics != nil && _config.Metrics.Enabled {
		s.collector, err = metrics.NewCollector(_config.Metrics)
		if err != nil {
			return types.WrapError(err, "failed to register metrics collector")
		}
	}

	if _config.Cache != nil && _config.Cache.Enabled {
		s.cache, err = cache.NewCacheManager(s.ctx, s.config, loggerManager.Named("cache"), s.collector, s.scheduler)
		if err != nil {
			return types.WrapError(err, "failed to register cache manager")
		}
	}

	s.middlewares = middleware.NewManager(s.config, loggerManager.Named("middleware"), s.cache, s.scheduler)
	if err = s.middlewares.RegisterMiddlewares(); err != nil {
		return types.WrapError(err, "failed to register middlewares")
	}

	s.dispatcher = server.NewDispatcher(server.NewTable(), loggerManager.Named("dispatcher"),
		server.WithCache(s.cache),
		server.WithMetrics(s.collector),
		server.WithMiddlewares(s.middlewares.Global()...),
	)

	if s.collector != nil {
		if _, err = s.dispatcher.GET(s.collector.Path(), server.FromFastHTTP(s.collector.Handler())).Register(); err != nil {
			return types.WrapError(err, "failed to mount metrics endpoint")
		}
	}

	if _config.Server != nil && _config.Server.HTTP != nil && _config.Server.HTTP.ShutdownTimeout > 0 {
		s.shutdownTimeout = time.Duration(_config.Server.HTTP.ShutdownTimeout) * time.Second
	}

	var httpConfig *types.HTTPConfig
	if _config.Server != nil {
		httpConfig = _config.Server.HTTP
	}

	s.httpServer, err = server.NewHTTPServer(s.ctx, httpConfig, loggerManager.Named("http"), s.dispatcher.Handler())
	if err != nil {
		return types.WrapError(err, "failed to register HTTP server")
	}

	return nil
}

// Handle names a handler so route manifests can refer to it.
func (s *Service) Handle(name string, handler server.HandlerFunc) error {
	return s.registry.Register(name, handler)
}

func (s *Service) Registry() *discovery.Registry {
	return s.registry
}

func (s *Service) Dispatcher() *server.Dispatcher {
	return s.dispatcher
}

func (s *Service) Middlewares() *middleware.Manager {
	return s.middlewares
}

func (s *Service) Cache() types.CacheManager {
	return s.cache
}

func (s *Service) Logger() types.Logger {
	return s.logger
}

func (s *Service) Config() types.ConfigManager {
	return s.config
}

func (s *Service) HTTPServer() *server.FastHTTPServer {
	return s.httpServer
}

// Done is closed once the service context ends.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Start mounts the discovered routes, starts every component and begins
// serving. It returns once the listener is up.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServiceIsRunning
	}

	if err := s.discoverRoutes(); err != nil {
		s.setState(StateStopped)
		return err
	}

	if err := s.startComponents(); err != nil {
		s.setState(StateStopped)
		return err
	}

	s.setState(StateRunning)

	s.wg.Add(1)
	go s.contextMonitor()

	s.setupSignalHandling()

	_config := s.config.GetConfig()
	s.logger.Info("Service started",
		zap.String("name", _config.Name),
		zap.String("version", _config.Version),
		zap.Int("routes", len(s.dispatcher.Table().Routes())),
	)

	return nil
}

// Run starts the service and blocks until a signal or context cancellation,
// then stops it.
func (s *Service) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	<-s.done

	return s.Stop()
}

func (s *Service) Stop() error {
	state := s.getState()
	if state != StateRunning && state != StateStopping {
		return types.ErrServiceIsNotRunning
	}
	s.setState(StateStopping)

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	err := s.stopComponents(ctx)

	s.cancel()
	s.wg.Wait()
	s.setState(StateStopped)

	if err == nil {
		s.logger.Info("All components stopped successfully")
	}

	_ = s.logger.Stop()

	return err
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) discoverRoutes() error {
	routesConfig := s.config.GetConfig().Routes
	if routesConfig == nil || routesConfig.Dir == "" {
		return nil
	}

	if _, err := os.Stat(routesConfig.Dir); os.IsNotExist(err) {
		s.logger.Debug("Routes directory not found, skipping discovery", zap.String("dir", routesConfig.Dir))
		return nil
	}

	scanner := discovery.NewManifestScanner(s.logger.Named("discovery"), s.registry, s.middlewares)

	routes, err := scanner.Discover(routesConfig.Dir)
	if err != nil {
		return err
	}

	if err = s.dispatcher.Register(routes...); err != nil {
		return types.WrapError(err, "failed to mount discovered routes")
	}

	return nil
}

func (s *Service) startComponents() error {
	if err := s.config.Start(); err != nil {
		return types.WrapError(err, "failed to start config manager")
	}

	if err := s.logger.Start(); err != nil {
		return types.WrapError(err, "failed to start logger")
	}

	g, gCtx := errgroup.WithContext(s.ctx)

	if s.collector != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				return types.WrapError(s.collector.Start(), "failed to start metrics collector")
			}
		})
	}

	if s.cache != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				return types.WrapError(s.cache.Start(), "failed to start cache manager")
			}
		})
	}

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		default:
			return types.WrapError(s.scheduler.Start(), "failed to start scheduler")
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.httpServer.Start(); err != nil {
		return types.WrapError(err, "failed to start HTTP server")
	}

	return nil
}

func (s *Service) stopComponents(ctx context.Context) error {
	var errs []error

	if s.httpServer.IsRunning() {
		if err := s.httpServer.Stop(); err != nil {
			s.logger.Error("Failed to stop HTTP server", zap.Error(err))
			errs = append(errs, err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	if s.scheduler.IsRunning() {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := s.scheduler.Stop(); err != nil {
					s.logger.Error("Failed to stop scheduler", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if s.cache != nil && s.cache.IsRunning() {
		g.Go(func() error {
			if err := s.cache.Stop(); err != nil {
				s.logger.Error("Failed to stop cache manager", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if s.collector != nil {
		g.Go(func() error {
			return s.collector.Stop()
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errs = append(errs, err)
		}
	}

	if s.config.IsRunning() {
		if err := s.config.Stop(); err != nil {
			s.logger.Error("Failed to stop config manager", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errs)
	}

	return nil
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}
		case <-s.ctx.Done():
		}
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.logger.Info("Service shutdown: context done")
	}
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) {
	s.state.Store(newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
