// Package identity resolves side-channel authorization tokens for read
// sessions. Tokens are scoped to a session and are valid for well under an
// hour, so they are cached per session id with a fixed TTL.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tablestream-project/tablestream/pkg/cache"
	"github.com/tablestream-project/tablestream/pkg/cache/basic"
	"github.com/tablestream-project/tablestream/pkg/lib/optional"
)

// TokenTTL is how long a fetched token is reused before a fresh one is
// requested from the supplier.
const TokenTTL = 50 * time.Minute

const defaultMaxCachedTokens = 1000

// Supplier fetches an identity token for the given session id. Returning an
// empty token means no side channel is required for the session.
type Supplier interface {
	FetchIdentityToken(ctx context.Context, sessionID string) (string, error)
}

// SupplierFunc adapts a function to the Supplier interface.
type SupplierFunc func(ctx context.Context, sessionID string) (string, error)

func (f SupplierFunc) FetchIdentityToken(ctx context.Context, sessionID string) (string, error) {
	return f(ctx, sessionID)
}

// NoopSupplier never returns a token.
type NoopSupplier struct{}

func (NoopSupplier) FetchIdentityToken(context.Context, string) (string, error) {
	return "", nil
}

// TokenCache memoizes identity tokens per session id with a fixed TTL.
// Lookups are safe for concurrent use; concurrent misses for the same
// session are deduplicated.
type TokenCache struct {
	supplier Supplier
	tokens   cache.Cache[optional.Optional[string]]
	group    singleflight.Group
}

type TokenCacheParams struct {
	Supplier Supplier
}

func NewTokenCache(params TokenCacheParams) (*TokenCache, error) {
	supplier := params.Supplier
	if supplier == nil {
		supplier = NoopSupplier{}
	}

	tokens, err := basic.NewCache[optional.Optional[string]](
		basic.WithMaxCost(defaultMaxCachedTokens),
		basic.WithCleanupFrequency(TokenTTL),
	)
	if err != nil {
		return nil, err
	}

	return &TokenCache{
		supplier: supplier,
		tokens:   tokens,
	}, nil
}

// TokenForStream resolves the token for the session owning the given stream.
// Supplier failures are logged and reported as an absent token so a read can
// proceed without the side channel.
func (tc *TokenCache) TokenForStream(ctx context.Context, streamName string) optional.Optional[string] {
	sessionID := ParseSessionID(ctx, streamName)

	if token, ok := tc.tokens.Get(sessionID); ok {
		return token
	}

	result, err, _ := tc.group.Do(sessionID, func() (interface{}, error) {
		raw, err := tc.supplier.FetchIdentityToken(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		var token optional.Optional[string]
		if raw == "" {
			token = optional.Empty[string]()
		} else {
			token = optional.Of(raw)
		}

		if setErr := tc.tokens.Set(sessionID, token, 1, int64(TokenTTL.Seconds())); setErr != nil {
			log.Ctx(ctx).Debug().Err(setErr).Str("Session", sessionID).
				Msg("identity token not cached")
		}
		return token, nil
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("Session", sessionID).
			Msg("unable to obtain identity token")
		return optional.Empty[string]()
	}

	return result.(optional.Optional[string])
}

func (tc *TokenCache) Close() {
	tc.tokens.Close()
}

// ParseSessionID extracts the session id from a fully qualified stream name
// of the form "<session>/streams/<stream id>". Malformed names are used
// as-is.
func ParseSessionID(ctx context.Context, streamName string) string {
	if idx := strings.Index(streamName, "/streams"); idx != -1 {
		return streamName[:idx]
	}
	log.Ctx(ctx).Warn().Str("Stream", streamName).Msg("stream name in invalid format")
	return streamName
}
