package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/cron"
	"github.com/saiset-co/sai-turbo/types"
	"github.com/saiset-co/sai-turbo/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

const (
	DefaultSweepInterval = 5 * time.Second

	sweepJobName = "cache-sweep"
)

type MemoryConfig struct {
	MaxEntries int `json:"max_entries"`
}

type MemoryStats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
}

// MemoryCache is the in-process response cache. Expired entries are never
// served; they are removed either on read or by the background sweep, which
// is scheduled on the first Set and exists once per cache.
type MemoryCache struct {
	ctx           context.Context
	cancel        context.CancelFunc
	config        *MemoryConfig
	logger        types.Logger
	scheduler     *cron.Scheduler
	ownScheduler  bool
	data          map[string]*list.Element
	order         *list.List
	hits          uint64
	misses        uint64
	evictions     uint64
	expired       uint64
	sweepInterval time.Duration
	sweepOnce     sync.Once
	sweepStarted  atomic.Bool
	now           func() time.Time
	mu            sync.RWMutex
	state         atomic.Value
}

// NewMemoryCache builds a memory cache. A nil scheduler makes the cache run
// its own.
func NewMemoryCache(ctx context.Context, logger types.Logger, config *types.CacheConfig, scheduler *cron.Scheduler) (*MemoryCache, error) {
	memConfig := &MemoryConfig{
		MaxEntries: 10000,
	}

	if config == nil {
		config = &types.CacheConfig{}
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory cache config")
		}
	}

	cacheCtx, cancel := context.WithCancel(ctx)

	ownScheduler := scheduler == nil
	if ownScheduler {
		scheduler = cron.NewScheduler(cacheCtx, logger)
	}

	cache := &MemoryCache{
		ctx:           cacheCtx,
		cancel:        cancel,
		config:        memConfig,
		logger:        logger,
		scheduler:     scheduler,
		ownScheduler:  ownScheduler,
		data:          make(map[string]*list.Element),
		order:         list.New(),
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
	}

	if config.SweepInterval > 0 {
		cache.sweepInterval = config.SweepInterval
	}

	cache.state.Store(MemoryStateStopped)

	return cache, nil
}

func (m *MemoryCache) Get(key string) (interface{}, bool) {
	now := m.now()

	m.mu.RLock()
	elem, exists := m.data[key]
	if !exists {
		m.mu.RUnlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	entry := elem.Value.(*types.CacheEntry)
	if entry.Expired(now) {
		m.mu.RUnlock()

		m.mu.Lock()
		if elem, exists := m.data[key]; exists && elem.Value.(*types.CacheEntry).Expired(now) {
			m.removeUnsafe(elem)
			atomic.AddUint64(&m.expired, 1)
		}
		m.mu.Unlock()

		atomic.AddUint64(&m.misses, 1)
		return nil, false
	}

	value := entry.Value
	m.mu.RUnlock()

	atomic.AddUint64(&m.hits, 1)

	return value, true
}

// Set stores value until now+ttl, replacing any previous entry. A non-positive
// ttl stores an entry that is already expired.
func (m *MemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	now := m.now()
	entry := &types.CacheEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	m.mu.Lock()
	if elem, exists := m.data[key]; exists {
		m.removeUnsafe(elem)
	} else if m.config.MaxEntries > 0 && len(m.data) >= m.config.MaxEntries {
		m.evictOldestUnsafe()
	}
	m.data[key] = m.order.PushBack(entry)
	m.mu.Unlock()

	m.ensureSweep()

	return nil
}

func (m *MemoryCache) Delete(key string) error {
	m.mu.Lock()
	if elem, exists := m.data[key]; exists {
		m.removeUnsafe(elem)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryCache) Stats() MemoryStats {
	return MemoryStats{
		Entries:   m.Len(),
		Hits:      atomic.LoadUint64(&m.hits),
		Misses:    atomic.LoadUint64(&m.misses),
		Evictions: atomic.LoadUint64(&m.evictions),
		Expired:   atomic.LoadUint64(&m.expired),
	}
}

// SweepRunning reports whether the background sweep has been scheduled.
func (m *MemoryCache) SweepRunning() bool {
	return m.sweepStarted.Load()
}

func (m *MemoryCache) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateRunning) {
		return types.ErrServiceIsRunning
	}

	m.logger.Debug("Memory cache started",
		zap.Int("max_entries", m.config.MaxEntries),
		zap.Duration("sweep_interval", m.sweepInterval))
	return nil
}

// Stop cancels the sweep and drops every entry.
func (m *MemoryCache) Stop() error {
	m.transitionState(MemoryStateRunning, MemoryStateStopping)
	defer m.setState(MemoryStateStopped)

	m.cancel()

	var err error
	if m.sweepStarted.Load() {
		m.scheduler.Remove(sweepJobName)
		if m.ownScheduler {
			err = m.scheduler.Stop()
		}
	}

	m.mu.Lock()
	cleared := len(m.data)
	m.data = make(map[string]*list.Element)
	m.order.Init()
	m.mu.Unlock()

	m.logger.Debug("Memory cache stopped", zap.Int("cleared_entries", cleared))

	return err
}

func (m *MemoryCache) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryCache) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryCache) setState(newState MemoryState) {
	m.state.Store(newState)
}

func (m *MemoryCache) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryCache) ensureSweep() {
	m.sweepOnce.Do(func() {
		if m.ctx.Err() != nil {
			return
		}

		if err := m.scheduler.Every(sweepJobName, m.sweepInterval, m.sweep); err != nil {
			m.logger.Error("Failed to schedule cache sweep", zap.Error(err))
			return
		}

		if !m.scheduler.IsRunning() {
			if err := m.scheduler.Start(); err != nil && !types.IsError(err, types.ErrSchedulerIsRunning) {
				m.logger.Error("Failed to start cache sweep", zap.Error(err))
				return
			}
		}

		m.sweepStarted.Store(true)
	})
}

func (m *MemoryCache) sweep() {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for elem := m.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*types.CacheEntry).Expired(now) {
			m.removeUnsafe(elem)
			removed++
		}
		elem = next
	}
	m.mu.Unlock()

	if removed > 0 {
		atomic.AddUint64(&m.expired, uint64(removed))
		m.logger.Debug("Cache sweep completed", zap.Int("expired_entries", removed))
	}
}

// evictOldestUnsafe drops the entry written first.
func (m *MemoryCache) evictOldestUnsafe() {
	if oldest := m.order.Front(); oldest != nil {
		m.removeUnsafe(oldest)
		atomic.AddUint64(&m.evictions, 1)
	}
}

func (m *MemoryCache) removeUnsafe(elem *list.Element) {
	delete(m.data, elem.Value.(*types.CacheEntry).Key)
	m.order.Remove(elem)
}
