package middleware

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/cron"
	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
	"github.com/saiset-co/sai-turbo/utils"
)

// Middleware is a named step of the dispatch chain. Weight orders the
// app-wide chain, lower first.
type Middleware interface {
	Name() string
	Weight() int
	Handle(req *server.Request, res *server.Response) error
}

// Manager builds the configured middlewares and hands them out by name for
// route manifests, or as the ordered app-wide chain.
type Manager struct {
	config    types.ConfigManager
	logger    types.Logger
	cache     types.CacheManager
	scheduler *cron.Scheduler
	byName    map[string]Middleware
	global    []Middleware
	mu        sync.RWMutex
}

func NewManager(config types.ConfigManager, logger types.Logger, cache types.CacheManager, scheduler *cron.Scheduler) *Manager {
	return &Manager{
		config:    config,
		logger:    logger,
		cache:     cache,
		scheduler: scheduler,
		byName:    make(map[string]Middleware),
	}
}

// RegisterMiddlewares builds every middleware that has a config section.
func (m *Manager) RegisterMiddlewares() error {
	if m.config == nil || m.config.GetConfig().Middlewares == nil {
		return nil
	}

	mws := m.config.GetConfig().Middlewares

	builders := []struct {
		item  *types.MiddlewareItemConfig
		build func(item *types.MiddlewareItemConfig) (Middleware, error)
	}{
		{mws.RequestID, func(item *types.MiddlewareItemConfig) (Middleware, error) {
			return NewMetadataMiddleware(item, m.logger)
		}},
		{mws.Logging, func(item *types.MiddlewareItemConfig) (Middleware, error) {
			return NewLoggingMiddleware(item, m.logger)
		}},
		{mws.CORS, func(item *types.MiddlewareItemConfig) (Middleware, error) {
			return NewCORSMiddleware(item, m.logger)
		}},
		{mws.RateLimit, func(item *types.MiddlewareItemConfig) (Middleware, error) {
			return NewRateLimitMiddleware(item, m.logger, m.scheduler)
		}},
		{mws.BodyLimit, func(item *types.MiddlewareItemConfig) (Middleware, error) {
			return NewBodyLimitMiddleware(item, m.logger)
		}},
		{mws.Auth, func(item *types.MiddlewareItemConfig) (Middleware, error) {
			return NewAuthMiddleware(item, m.logger)
		}},
		{mws.Compression, func(item *types.MiddlewareItemConfig) (Middleware, error) {
			return NewCompressionMiddleware(item, m.logger)
		}},
		{mws.Cache, func(item *types.MiddlewareItemConfig) (Middleware, error) {
			var defaultTTL time.Duration
			if cacheConfig := m.config.GetConfig().Cache; cacheConfig != nil {
				defaultTTL = cacheConfig.DefaultTTL
			}
			return NewCacheMiddleware(item, m.logger, m.cache, defaultTTL)
		}},
	}

	for _, b := range builders {
		if b.item == nil {
			continue
		}

		mw, err := b.build(b.item)
		if err != nil {
			return err
		}

		if err = m.Register(mw, b.item.Enabled); err != nil {
			return err
		}

		m.logger.Info("Middleware registered",
			zap.String("name", mw.Name()),
			zap.Bool("global", b.item.Enabled))
	}

	return nil
}

// Register makes mw available by name and, when global is set, adds it to
// the app-wide chain.
func (m *Manager) Register(mw Middleware, global bool) error {
	if mw == nil {
		return types.ErrHandlerIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[mw.Name()]; exists {
		return types.NewErrorf("middleware %q already registered", mw.Name())
	}

	m.byName[mw.Name()] = mw

	if global {
		m.global = append(m.global, mw)
		sort.SliceStable(m.global, func(i, j int) bool {
			return m.global[i].Weight() < m.global[j].Weight()
		})
	}

	return nil
}

// Global returns the app-wide chain in weight order.
func (m *Manager) Global() []server.HandlerFunc {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]server.HandlerFunc, 0, len(m.global))
	for _, mw := range m.global {
		out = append(out, mw.Handle)
	}
	return out
}

func (m *Manager) Lookup(name string) (server.HandlerFunc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mw, ok := m.byName[name]
	if !ok {
		return nil, types.Errorf(types.ErrMiddlewareNotFound, "%s", name)
	}
	return mw.Handle, nil
}

func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeParams[T any](item *types.MiddlewareItemConfig, target *T) error {
	if item == nil || item.Params == nil {
		return nil
	}
	return utils.UnmarshalConfig(item.Params, target)
}
