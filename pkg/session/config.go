package session

import (
	"time"

	"github.com/tablestream-project/tablestream/pkg/lib/optional"
)

const (
	DefaultMaxParallelism       = 20000
	MinimalParallelism          = 1
	DefaultMinParallelismFactor = 3

	// DefaultCacheTTL is how long a negotiated session description is
	// served from the cache for an identical request.
	DefaultCacheTTL = 5 * time.Minute

	// CacheCapacity bounds the process-wide session cache.
	CacheCapacity = 1000
)

// CreatorConfig governs how read sessions are negotiated.
type CreatorConfig struct {
	// DefaultParallelism seeds the preferred minimum stream count when
	// PreferredMinParallelism is not set.
	DefaultParallelism int

	// PreferredMinParallelism overrides the preferred minimum stream count.
	PreferredMinParallelism optional.Optional[int]

	// MaxParallelism overrides the maximum stream count.
	MaxParallelism optional.Optional[int]

	// ViewsEnabled permits reading views. Views incur a materialization
	// step and additional cost, so they are opt-in.
	ViewsEnabled bool

	// ViewsEnabledConfigKey is the configuration key a caller must set to
	// enable views; it is named in the error raised when views are
	// disabled.
	ViewsEnabledConfigKey string

	// SnapshotTimeMillis pins reads of non-view tables to a point in time.
	SnapshotTimeMillis optional.Optional[int64]

	// TraceID tags created sessions for service-side diagnostics. Left
	// empty when absent.
	TraceID optional.Optional[string]

	// CacheEnabled turns on reuse of session descriptions for identical
	// requests.
	CacheEnabled bool

	// CacheTTL bounds how long a cached session description is reused.
	// Zero means DefaultCacheTTL.
	CacheTTL time.Duration
}

func (c CreatorConfig) cacheTTL() time.Duration {
	if c.CacheTTL <= 0 {
		return DefaultCacheTTL
	}
	return c.CacheTTL
}
