package types

import (
	"time"
)

type CacheManager interface {
	LifecycleManager
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration) error
	Delete(key string) error
}

type CacheManagerCreator func(config *CacheConfig) (CacheManager, error)

// CacheOptions names a cache slot and its lifetime. TTL is in milliseconds.
type CacheOptions struct {
	TTL  int    `yaml:"ttl" json:"ttl" validate:"min=0"`
	Name string `yaml:"name" json:"name" validate:"required"`
}

func (o CacheOptions) Duration() time.Duration {
	return time.Duration(o.TTL) * time.Millisecond
}

type CacheEntry struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired reports whether the entry is dead at now. An entry is never served
// once now >= ExpiresAt.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
