package session

import (
	"sync"
	"time"

	"github.com/tablestream-project/tablestream/pkg/cache"
	"github.com/tablestream-project/tablestream/pkg/cache/basic"
	"github.com/tablestream-project/tablestream/pkg/lib/marshaller"
	"github.com/tablestream-project/tablestream/pkg/models"
	"github.com/tablestream-project/tablestream/pkg/storageapi"
)

// Cache stores negotiated session descriptions keyed by the exact normalized
// create request. It is shared by all creators in the process regardless of
// which table they target.
type Cache struct {
	sessions cache.Cache[*models.ReadSession]
	ttl      time.Duration
}

func NewCache(ttl time.Duration) (*Cache, error) {
	sessions, err := basic.NewCache[*models.ReadSession](
		basic.WithMaxCost(CacheCapacity),
		basic.WithCleanupFrequency(time.Minute),
	)
	if err != nil {
		return nil, err
	}
	return &Cache{sessions: sessions, ttl: ttl}, nil
}

var defaultCache *Cache
var defaultCacheOnce sync.Once

// DefaultCache returns the process-wide session cache, initializing it
// exactly once. The TTL of the first caller wins; later TTLs are ignored.
func DefaultCache(ttl time.Duration) *Cache {
	defaultCacheOnce.Do(func() {
		var err error
		defaultCache, err = NewCache(ttl)
		if err != nil {
			// NewCache only fails on invalid options, which are fixed here.
			panic(err)
		}
	})
	return defaultCache
}

func (c *Cache) key(req *storageapi.CreateReadSessionRequest) (string, error) {
	return marshaller.Fingerprint(req)
}

func (c *Cache) Get(req *storageapi.CreateReadSessionRequest) (*models.ReadSession, bool) {
	key, err := c.key(req)
	if err != nil {
		return nil, false
	}
	return c.sessions.Get(key)
}

func (c *Cache) Put(req *storageapi.CreateReadSessionRequest, session *models.ReadSession) error {
	key, err := c.key(req)
	if err != nil {
		return err
	}
	return c.sessions.Set(key, session, 1, int64(c.ttl.Seconds()))
}

func (c *Cache) Close() {
	c.sessions.Close()
}
