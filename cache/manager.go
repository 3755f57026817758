package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-turbo/cron"
	"github.com/saiset-co/sai-turbo/metrics"
	"github.com/saiset-co/sai-turbo/types"
)

const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

var customCacheCreators = make(map[string]types.CacheManagerCreator)

func RegisterCacheManager(cacheManagerName string, creator types.CacheManagerCreator) {
	customCacheCreators[cacheManagerName] = creator
}

// NewCacheManager builds the configured backend wrapped with metrics. The
// scheduler hosts the memory sweep and may be nil.
func NewCacheManager(ctx context.Context, config types.ConfigManager, logger types.Logger, collector *metrics.Collector, scheduler *cron.Scheduler) (types.CacheManager, error) {
	cacheConfig := config.GetConfig().Cache

	if cacheConfig == nil || !cacheConfig.Enabled {
		return nil, types.ErrCacheIsDisabled
	}

	cacheManagerName := cacheConfig.Type
	if cacheManagerName == "" {
		cacheManagerName = TypeMemory
	}

	var impl types.CacheManager
	var err error

	switch cacheManagerName {
	case TypeMemory:
		impl, err = NewMemoryCache(ctx, logger, cacheConfig, scheduler)
	case TypeRedis:
		impl, err = NewRedisCache(ctx, logger, cacheConfig)
	default:
		if creator, exists := customCacheCreators[cacheManagerName]; exists {
			impl, err = creator(cacheConfig)
		} else {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", cacheManagerName)
		}
	}

	if err != nil {
		return nil, err
	}

	return NewInstrumented(impl, collector), nil
}

type instrumentedCacheManager struct {
	impl      types.CacheManager
	collector *metrics.Collector
}

func NewInstrumented(impl types.CacheManager, collector *metrics.Collector) types.CacheManager {
	if collector == nil {
		return impl
	}

	return &instrumentedCacheManager{
		impl:      impl,
		collector: collector,
	}
}

func (icm *instrumentedCacheManager) Get(key string) (interface{}, bool) {
	start := time.Now()
	value, exists := icm.impl.Get(key)

	result := "miss"
	if exists {
		result = "hit"
	}

	icm.collector.ObserveCache("get", result, time.Since(start))
	return value, exists
}

func (icm *instrumentedCacheManager) Set(key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	err := icm.impl.Set(key, value, ttl)

	icm.collector.ObserveCache("set", outcome(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Delete(key string) error {
	start := time.Now()
	err := icm.impl.Delete(key)

	icm.collector.ObserveCache("delete", outcome(err), time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Start() error {
	return icm.impl.Start()
}

func (icm *instrumentedCacheManager) Stop() error {
	return icm.impl.Stop()
}

func (icm *instrumentedCacheManager) IsRunning() bool {
	return icm.impl.IsRunning()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
