package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/types"
	"github.com/saiset-co/sai-turbo/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	KeyPrefix          string        `json:"key_prefix"`
}

// RedisCache keeps entries in redis as JSON. Expiry is delegated to redis;
// the stored ExpiresAt is still checked on read.
type RedisCache struct {
	ctx        context.Context
	logger     types.Logger
	config     *RedisConfig
	client     redis.UniversalClient
	started    int32
}

func NewRedisCache(ctx context.Context, logger types.Logger, config *types.CacheConfig) (*RedisCache, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		KeyPrefix:          "turbo",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis cache config")
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	cache := newRedisCache(ctx, logger, redisConfig, client)

	if err := cache.ping(); err != nil {
		_ = client.Close()
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	return cache, nil
}

func newRedisCache(ctx context.Context, logger types.Logger, config *RedisConfig, client redis.UniversalClient) *RedisCache {
	return &RedisCache{
		ctx:    ctx,
		logger: logger,
		config: config,
		client: client,
	}
}

func (r *RedisCache) Get(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	fullKey := r.buildFullKey(key)

	result, err := r.client.Get(r.ctx, fullKey).Bytes()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Error("Failed to get cache entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var entry types.CacheEntry
	if err = utils.Unmarshal(result, &entry); err != nil {
		r.logger.Error("Failed to unmarshal cache entry", zap.String("key", key), zap.Error(err))
		r.client.Del(r.ctx, fullKey)
		return nil, false
	}

	if entry.Expired(time.Now()) {
		r.client.Del(r.ctx, fullKey)
		return nil, false
	}

	return entry.Value, true
}

// Set stores value for ttl. Redis treats a zero expiration as "keep forever",
// so a non-positive ttl drops the key instead.
func (r *RedisCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		return r.Delete(key)
	}

	now := time.Now()
	entry := &types.CacheEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache entry")
	}

	if err = r.client.Set(r.ctx, r.buildFullKey(key), data, ttl).Err(); err != nil {
		r.logger.Error("Failed to set cache entry", zap.String("key", key), zap.Error(err))
		return types.WrapError(types.Errorf(types.ErrCacheOperationFailed, "%v", err), "failed to set cache entry")
	}

	return nil
}

func (r *RedisCache) Delete(key string) error {
	if key == "" {
		return nil
	}

	if err := r.client.Del(r.ctx, r.buildFullKey(key)).Err(); err != nil {
		r.logger.Error("Failed to delete cache key", zap.String("key", key), zap.Error(err))
		return types.WrapError(types.Errorf(types.ErrCacheOperationFailed, "%v", err), "failed to delete cache key")
	}

	return nil
}

func (r *RedisCache) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrServiceIsRunning
	}

	r.logger.Debug("Redis cache started", zap.String("key_prefix", r.config.KeyPrefix))
	return nil
}

func (r *RedisCache) Stop() error {
	atomic.StoreInt32(&r.started, 0)
	return r.client.Close()
}

func (r *RedisCache) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisCache) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.DialTimeout)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) buildFullKey(key string) string {
	if r.config.KeyPrefix == "" {
		return key
	}
	return r.config.KeyPrefix + ":" + key
}
