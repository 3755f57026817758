package cache

import (
	"github.com/saiset-co/sai-turbo/types"
)

// Cached is a read-through lookup: on a hit it returns the stored value, on a
// miss it runs producer, stores the result under opts.Name for opts.TTL and
// returns it. A failed producer stores nothing.
//
// Concurrent misses for the same name each run producer; the last write wins.
func Cached(c types.CacheManager, opts types.CacheOptions, producer func() (interface{}, error)) (interface{}, error) {
	if producer == nil {
		return nil, types.ErrProducerIsNil
	}
	if opts.Name == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	if value, ok := c.Get(opts.Name); ok {
		return value, nil
	}

	value, err := producer()
	if err != nil {
		return nil, err
	}

	if err = c.Set(opts.Name, value, opts.Duration()); err != nil {
		return nil, types.WrapError(err, "failed to store produced value")
	}

	return value, nil
}
