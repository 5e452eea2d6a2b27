package clientcache

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tablestream-project/tablestream/pkg/storageapi"
	"github.com/tablestream-project/tablestream/pkg/util/generic"
)

// ReadClientBuilder constructs a read client for the given configuration.
// Builders are only invoked on a handle-cache miss.
type ReadClientBuilder func(ctx context.Context, cfg ClientConfig) (storageapi.ReadClient, error)

// WriteClientBuilder constructs a write client for the given configuration.
type WriteClientBuilder func(ctx context.Context, cfg ClientConfig) (storageapi.WriteClient, error)

// HandleCache holds pooled client handles keyed by config fingerprint. It is
// safe for concurrent use and deduplicates concurrent construction of the
// same handle.
type HandleCache struct {
	readClients  generic.SyncMap[string, storageapi.ReadClient]
	writeClients generic.SyncMap[string, storageapi.WriteClient]
	group        singleflight.Group
}

func NewHandleCache() *HandleCache {
	return &HandleCache{}
}

var defaultHandleCache *HandleCache
var defaultHandleCacheOnce sync.Once

// DefaultHandleCache is the process-wide handle cache shared by all factories
// that were not given an explicit one.
func DefaultHandleCache() *HandleCache {
	defaultHandleCacheOnce.Do(func() {
		defaultHandleCache = NewHandleCache()
	})
	return defaultHandleCache
}

// ClientFactory hands out pooled client handles for one configuration.
// Distinct factory instances with structurally identical configurations
// share the same underlying handles.
type ClientFactory struct {
	config       ClientConfig
	cache        *HandleCache
	readBuilder  ReadClientBuilder
	writeBuilder WriteClientBuilder
}

type ClientFactoryParams struct {
	Config       ClientConfig
	ReadBuilder  ReadClientBuilder
	WriteBuilder WriteClientBuilder

	// Cache overrides the process-wide handle cache. Test use only.
	Cache *HandleCache
}

func NewClientFactory(params ClientFactoryParams) *ClientFactory {
	cache := params.Cache
	if cache == nil {
		cache = DefaultHandleCache()
	}
	return &ClientFactory{
		config:       params.Config,
		cache:        cache,
		readBuilder:  params.ReadBuilder,
		writeBuilder: params.WriteBuilder,
	}
}

// GetReadClient returns the pooled read client for this factory's
// configuration, constructing it on first use.
func (f *ClientFactory) GetReadClient(ctx context.Context) (storageapi.ReadClient, error) {
	fingerprint, err := f.config.Fingerprint()
	if err != nil {
		return nil, err
	}

	if client, ok := f.cache.readClients.Get(fingerprint); ok {
		return client, nil
	}

	result, err, _ := f.cache.group.Do("read:"+fingerprint, func() (interface{}, error) {
		if client, ok := f.cache.readClients.Get(fingerprint); ok {
			return client, nil
		}
		log.Ctx(ctx).Debug().Str("Endpoint", f.config.Endpoint).
			Msg("creating new read client")
		client, err := f.readBuilder(ctx, f.config)
		if err != nil {
			return nil, err
		}
		f.cache.readClients.Put(fingerprint, client)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(storageapi.ReadClient), nil
}

// GetWriteClient returns the pooled write client for this factory's
// configuration, constructing it on first use.
func (f *ClientFactory) GetWriteClient(ctx context.Context) (storageapi.WriteClient, error) {
	fingerprint, err := f.config.Fingerprint()
	if err != nil {
		return nil, err
	}

	if client, ok := f.cache.writeClients.Get(fingerprint); ok {
		return client, nil
	}

	result, err, _ := f.cache.group.Do("write:"+fingerprint, func() (interface{}, error) {
		if client, ok := f.cache.writeClients.Get(fingerprint); ok {
			return client, nil
		}
		log.Ctx(ctx).Debug().Str("Endpoint", f.config.Endpoint).
			Msg("creating new write client")
		client, err := f.writeBuilder(ctx, f.config)
		if err != nil {
			return nil, err
		}
		f.cache.writeClients.Put(fingerprint, client)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(storageapi.WriteClient), nil
}
