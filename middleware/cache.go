package middleware

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
	"github.com/saiset-co/sai-turbo/utils"
)

const (
	HeaderCache = "X-Cache"
	cachePrefix = "http:"
)

// CacheMiddleware replays successful GET responses from the cache. The key is
// the method, path and query string.
type CacheMiddleware struct {
	logger      types.Logger
	cache       types.CacheManager
	cacheConfig *CacheConfig
	name        string
	weight      int
}

type CacheConfig struct {
	TTLSeconds int `json:"ttl_seconds"`
}

// NewCacheMiddleware builds the middleware. defaultTTL applies when the params
// carry no ttl_seconds; without either, entries live five minutes.
func NewCacheMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, cache types.CacheManager, defaultTTL time.Duration) (*CacheMiddleware, error) {
	if cache == nil {
		return nil, types.ErrCacheIsDisabled
	}

	var cacheConfig = &CacheConfig{
		TTLSeconds: 300,
	}
	if seconds := int(defaultTTL / time.Second); seconds > 0 {
		cacheConfig.TTLSeconds = seconds
	}

	if err := decodeParams(item, cacheConfig); err != nil {
		logger.Error("Failed to unmarshal Cache middleware config", zap.Error(err))
		return nil, err
	}

	if cacheConfig.TTLSeconds <= 0 {
		return nil, types.NewErrorf("invalid cache ttl: %ds", cacheConfig.TTLSeconds)
	}

	return &CacheMiddleware{
		name:        "cache",
		weight:      60,
		logger:      logger,
		cache:       cache,
		cacheConfig: cacheConfig,
	}, nil
}

func (c *CacheMiddleware) Name() string { return c.name }
func (c *CacheMiddleware) Weight() int  { return c.weight }

func (c *CacheMiddleware) Handle(req *server.Request, res *server.Response) error {
	if req.Method() != fasthttp.MethodGet {
		return nil
	}

	key := cachePrefix + req.Method() + ":" + req.Path() + req.Search()

	if cached, ok := c.cache.Get(key); ok {
		if body, isString := cached.(string); isString {
			utils.PrepareJSONResponse(res.Ctx(), fasthttp.StatusOK)
			res.SetHeader(HeaderCache, "HIT")
			return res.End([]byte(body))
		}
	}

	res.SetHeader(HeaderCache, "MISS")

	res.OnEnd(func(res *server.Response) {
		if res.StatusCode() != fasthttp.StatusOK || len(res.Ctx().Response.Header.Peek("Content-Encoding")) > 0 {
			return
		}

		body := string(res.Ctx().Response.Body())
		if body == "" {
			return
		}

		if err := c.cache.Set(key, body, time.Duration(c.cacheConfig.TTLSeconds)*time.Second); err != nil {
			c.logger.Warn("Failed to cache response", zap.String("key", key), zap.Error(err))
		}
	})

	return nil
}
