package middleware

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/cron"
	"github.com/saiset-co/sai-turbo/server"
	"github.com/saiset-co/sai-turbo/types"
)

const (
	shardCount          = 64
	rateLimitCleanupJob = "rate-limit-cleanup"
)

// RateLimitMiddleware counts requests per client address in fixed windows.
type RateLimitMiddleware struct {
	logger          types.Logger
	rateLimitConfig *RateLimitConfig
	shards          [shardCount]*rateLimitShard
	window          time.Duration
	now             func() time.Time
	name            string
	weight          int
}

type rateLimitShard struct {
	clients map[string]*clientWindow
	mu      sync.Mutex
}

type clientWindow struct {
	start time.Time
	count int64
}

type RateLimitConfig struct {
	Requests      int64 `json:"requests"`
	WindowSeconds int   `json:"window_seconds"`
}

// NewRateLimitMiddleware registers a cleanup job for idle clients when a
// scheduler is given.
func NewRateLimitMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, scheduler *cron.Scheduler) (*RateLimitMiddleware, error) {
	var rateLimitConfig = &RateLimitConfig{
		Requests:      100,
		WindowSeconds: 60,
	}

	if err := decodeParams(item, rateLimitConfig); err != nil {
		logger.Error("Failed to unmarshal RateLimit middleware config", zap.Error(err))
		return nil, err
	}

	if rateLimitConfig.Requests <= 0 || rateLimitConfig.WindowSeconds <= 0 {
		return nil, types.NewErrorf("invalid rate limit: %d requests per %ds",
			rateLimitConfig.Requests, rateLimitConfig.WindowSeconds)
	}

	rl := &RateLimitMiddleware{
		name:            "rate-limit",
		weight:          30,
		logger:          logger,
		rateLimitConfig: rateLimitConfig,
		window:          time.Duration(rateLimitConfig.WindowSeconds) * time.Second,
		now:             time.Now,
	}

	for i := range rl.shards {
		rl.shards[i] = &rateLimitShard{clients: make(map[string]*clientWindow)}
	}

	if scheduler != nil {
		if err := scheduler.Every(rateLimitCleanupJob, rl.window, rl.cleanup); err != nil {
			return nil, err
		}
	}

	return rl, nil
}

func (rl *RateLimitMiddleware) Name() string { return rl.name }
func (rl *RateLimitMiddleware) Weight() int  { return rl.weight }

func (rl *RateLimitMiddleware) Handle(req *server.Request, res *server.Response) error {
	client := remoteAddr(req)

	remaining, allowed := rl.allow(client)

	res.SetHeader("X-RateLimit-Limit", strconv.FormatInt(rl.rateLimitConfig.Requests, 10))
	res.SetHeader("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

	if !allowed {
		rl.logger.Warn("Rate limit exceeded",
			zap.String("client", client),
			zap.String("path", req.Path()))

		res.SetHeader("Retry-After", strconv.Itoa(rl.rateLimitConfig.WindowSeconds))
		return types.NewStatusError(fasthttp.StatusTooManyRequests, "Too many requests")
	}

	return nil
}

func (rl *RateLimitMiddleware) allow(client string) (int64, bool) {
	shard := rl.shard(client)
	now := rl.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, ok := shard.clients[client]
	if !ok || now.Sub(w.start) >= rl.window {
		w = &clientWindow{start: now}
		shard.clients[client] = w
	}

	if w.count >= rl.rateLimitConfig.Requests {
		return 0, false
	}

	w.count++
	return rl.rateLimitConfig.Requests - w.count, true
}

func (rl *RateLimitMiddleware) cleanup() {
	now := rl.now()
	removed := 0

	for _, shard := range rl.shards {
		shard.mu.Lock()
		for client, w := range shard.clients {
			if now.Sub(w.start) >= rl.window {
				delete(shard.clients, client)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	if removed > 0 {
		rl.logger.Debug("Rate limit windows cleaned", zap.Int("removed", removed))
	}
}

func (rl *RateLimitMiddleware) shard(client string) *rateLimitShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(client))
	return rl.shards[h.Sum32()%shardCount]
}
