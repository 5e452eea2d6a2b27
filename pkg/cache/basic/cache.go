package basic

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tablestream-project/tablestream/pkg/cache"
	"github.com/tablestream-project/tablestream/pkg/cache/counter"
	"github.com/tablestream-project/tablestream/pkg/util/generic"
)

type BasicCache[T any] struct {
	items            generic.SyncMap[string, CacheItem[T]]
	cost             counter.Counter
	closer           chan struct{}
	clock            clock.Clock
	evictionFunction EvictItemFunc
}

type CacheItem[T any] struct {
	contents  T
	cost      uint64
	expiresAt int64
}

func NewCache[T any](options ...Option) (*BasicCache[T], error) {
	config := &Config{
		maxCost:          1000,
		cleanupFrequency: time.Hour,
		clock:            clock.New(),
		evictionFunction: func(key string, cost uint64, expiresAt int64, now int64) bool {
			return expiresAt != 0 && expiresAt <= now
		},
	}

	// override defaults with passed options.
	for _, opt := range options {
		opt(config)
	}

	c := &BasicCache[T]{
		closer:           make(chan struct{}),
		cost:             counter.NewCounter(config.maxCost),
		clock:            config.clock,
		evictionFunction: config.evictionFunction,
	}

	go c.cleanup(config.cleanupFrequency)
	return c, nil
}

func (c *BasicCache[T]) Get(key string) (T, bool) {
	result, exists := c.items.Get(key)
	if !exists {
		return *new(T), false
	}

	// expired items are absent even before the cleanup pass collects them
	if result.expiresAt != 0 && result.expiresAt <= c.clock.Now().Unix() {
		return *new(T), false
	}

	return result.contents, true
}

// Set writes a value to the cache. expiresInSeconds of zero means the
// item never expires.
func (c *BasicCache[T]) Set(key string, value T, cost uint64, expiresInSeconds int64) error {
	var expires int64
	if expiresInSeconds > 0 {
		expires = c.clock.Now().Add(time.Duration(expiresInSeconds) * time.Second).Unix()
	}

	item := CacheItem[T]{
		contents:  value,
		cost:      cost,
		expiresAt: expires,
	}

	if !c.cost.HasSpaceFor(item.cost) {
		return cache.ErrCacheTooCostly
	}

	c.cost.Inc(cost)
	c.items.Put(key, item)

	return nil
}

func (c *BasicCache[T]) Delete(key string) {
	item, exists := c.items.Get(key)
	if !exists {
		return
	}
	c.items.Delete(key)
	c.cost.Dec(item.cost)
}

func (c *BasicCache[T]) Close() {
	close(c.closer)
}

func (c *BasicCache[T]) cleanup(frequency time.Duration) {
	ticker := c.clock.Ticker(frequency)
	defer ticker.Stop()
	for {
		select {
		case <-c.closer:
			return
		case <-ticker.C:
			now := c.clock.Now().Unix()

			c.items.Iter(func(key string, item CacheItem[T]) bool {
				if c.evictionFunction(key, item.cost, item.expiresAt, now) {
					c.items.Delete(key)
					c.cost.Dec(item.cost)
				}
				return true
			})
		} // end select
	}
}

// compile-time check that BasicCache implements Cache
var _ cache.Cache[string] = (*BasicCache[string])(nil)
