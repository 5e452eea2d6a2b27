package basic

import (
	"time"

	"github.com/benbjohnson/clock"
)

type Config struct {
	maxCost          uint64
	cleanupFrequency time.Duration
	clock            clock.Clock
	evictionFunction EvictItemFunc
}

// EvictItemFunc can be used to tell the cache not to evict an
// item based on the provided key, cost or expiry time.
type EvictItemFunc func(key string, cost uint64, expiryTime int64, now int64) bool

type Option func(*Config)

func WithMaxCost(maxCost uint64) Option {
	return func(o *Config) {
		o.maxCost = maxCost
	}
}

func WithCleanupFrequency(cleanupFrequency time.Duration) Option {
	return func(o *Config) {
		o.cleanupFrequency = cleanupFrequency
	}
}

func WithEvictionFunction(f EvictItemFunc) Option {
	return func(o *Config) {
		o.evictionFunction = f
	}
}

// WithClock replaces the wall clock, allowing tests to control expiry.
func WithClock(c clock.Clock) Option {
	return func(o *Config) {
		o.clock = c
	}
}
