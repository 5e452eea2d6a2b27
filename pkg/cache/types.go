package cache

import (
	"errors"
)

var ErrCacheTooCostly = errors.New("item too costly for cache")
var ErrCacheFull = errors.New("cache is full")

// Cache is a generic in-memory cache with TTL based expiry and a
// maximum cost (capacity measured in a caller-defined unit).
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T, cost uint64, expiresInSeconds int64) error
	Delete(key string)
	Close()
}
