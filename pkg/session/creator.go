// Package session negotiates read sessions with the storage service: it
// resolves the target table (materializing views when permitted), applies the
// parallelism policy, and reuses cached session descriptions for identical
// requests.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tablestream-project/tablestream/pkg/lib/optional"
	"github.com/tablestream-project/tablestream/pkg/models"
	"github.com/tablestream-project/tablestream/pkg/storageapi"
	"github.com/tablestream-project/tablestream/pkg/telemetry"
)

// ErrUnsupported marks requests outside the contract: views when disabled,
// or table types that cannot be read. It is raised synchronously at session
// creation, never through the asynchronous read path.
var ErrUnsupported = errors.New("unsupported operation")

// ReadClientProvider supplies the pooled read client used for session
// negotiation. Implemented by clientcache.ClientFactory.
type ReadClientProvider interface {
	GetReadClient(ctx context.Context) (storageapi.ReadClient, error)
}

// ReadSessionResponse pairs the negotiated session with the metadata of the
// table it actually reads (the materialized table when the input is a view).
type ReadSessionResponse struct {
	Session *models.ReadSession
	Table   *models.TableInfo
}

// Creator negotiates read sessions.
type Creator struct {
	config  CreatorConfig
	catalog storageapi.Catalog
	clients ReadClientProvider
	cache   *Cache
}

type CreatorParams struct {
	Config  CreatorConfig
	Catalog storageapi.Catalog
	Clients ReadClientProvider

	// Cache overrides the process-wide session cache. Test use only.
	Cache *Cache
}

func NewCreator(params CreatorParams) *Creator {
	sessionCache := params.Cache
	if sessionCache == nil {
		sessionCache = DefaultCache(params.Config.cacheTTL())
	}
	return &Creator{
		config:  params.Config,
		catalog: params.Catalog,
		clients: params.Clients,
		cache:   sessionCache,
	}
}

// Create negotiates a read session over the table with the given column
// projection and optional row filter. Identical requests within the cache
// TTL reuse the previously negotiated session.
func (c *Creator) Create(
	ctx context.Context,
	table models.TableID,
	selectedFields []string,
	filter optional.Optional[string],
) (*ReadSessionResponse, error) {
	ctx, span := telemetry.NewSpan(ctx, telemetry.GetTracer(), "pkg/session.Creator.Create")
	defer span.End()

	requestLogger := log.Ctx(ctx).With().Str("RequestID", uuid.NewString()).Logger()
	ctx = requestLogger.WithContext(ctx)

	tableDetails, err := c.catalog.GetTable(ctx, table)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving table %s", table)
	}

	isView, err := c.isInputTableAView(tableDetails)
	if err != nil {
		return nil, err
	}

	actualTable, err := c.actualTable(ctx, tableDetails, isView, selectedFields, filter)
	if err != nil {
		return nil, err
	}

	client, err := c.clients.GetReadClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "obtaining read client")
	}

	log.Ctx(ctx).Info().
		Str("Table", actualTable.ID.String()).
		Str("SelectedFields", strings.Join(selectedFields, ",")).
		Str("Filter", filter.GetOrDefault("None")).
		Msg("creating a read session")

	request := c.buildRequest(actualTable, isView, selectedFields, filter)

	if c.config.CacheEnabled {
		if cached, ok := c.cache.Get(request); ok {
			log.Ctx(ctx).Info().
				Str("Session", cached.Name).
				Str("Table", table.String()).
				Msg("reusing read session")
			return &ReadSessionResponse{Session: cached, Table: actualTable}, nil
		}
	}

	readSession, err := client.CreateReadSession(ctx, request)
	if err != nil {
		return nil, errors.Wrap(err, "creating read session")
	}

	if c.config.CacheEnabled {
		if err := c.cache.Put(request, readSession); err != nil {
			log.Ctx(ctx).Debug().Err(err).Msg("read session not cached")
		}
	}

	// The number of streams actually returned may be lower than requested,
	// depending on how much parallelism is reasonable for the table.
	log.Ctx(ctx).Info().
		Str("Session", readSession.Name).
		Int("Streams", len(readSession.Streams)).
		Msg("received partitions from the storage service")

	return &ReadSessionResponse{Session: readSession, Table: actualTable}, nil
}

func (c *Creator) buildRequest(
	actualTable *models.TableInfo,
	isView bool,
	selectedFields []string,
	filter optional.Optional[string],
) *storageapi.CreateReadSessionRequest {
	// The trace id is only set when configured. It is part of the cache
	// key, so an invented per-creator id would defeat session reuse across
	// creators with identical configurations.
	request := &storageapi.CreateReadSessionRequest{
		Parent:         fmt.Sprintf("projects/%s", c.catalog.ProjectID()),
		Table:          actualTable.ID.Path(),
		SelectedFields: selectedFields,
		TraceID:        c.config.TraceID.GetOrDefault(""),
	}

	// Row filters and snapshot times only make sense for non-view tables;
	// for views both were already folded into the materialization query.
	if !isView {
		request.RowRestriction = filter.GetOrDefault("")
		request.SnapshotTimeMillis = c.config.SnapshotTimeMillis.GetOrDefault(0)
	}

	minStreamCount, maxStreamCount := c.streamCounts()
	request.PreferredMinStreamCount = minStreamCount
	request.MaxStreamCount = maxStreamCount

	return request
}

func (c *Creator) streamCounts() (int, int) {
	preferredMinStreamCount := c.config.PreferredMinParallelism.GetOrDefault(
		maxInt(MinimalParallelism, DefaultMinParallelismFactor*c.config.DefaultParallelism))
	if !c.config.PreferredMinParallelism.IsPresent() {
		log.Debug().Int("PreferredMinStreamCount", preferredMinStreamCount).
			Msg("using default preferred min parallelism")
	}

	maxStreamCount := c.config.MaxParallelism.GetOrDefault(
		maxInt(DefaultMaxParallelism, preferredMinStreamCount))
	if !c.config.MaxParallelism.IsPresent() {
		log.Debug().Int("MaxStreamCount", maxStreamCount).
			Msg("using default max parallelism")
	}

	if preferredMinStreamCount > maxStreamCount {
		preferredMinStreamCount = maxStreamCount
		log.Warn().Int("PreferredMinStreamCount", preferredMinStreamCount).
			Msg("preferred min parallelism is larger than the max parallelism, " +
				"therefore setting it to max parallelism")
	}

	return preferredMinStreamCount, maxStreamCount
}

// actualTable returns the table the session will actually read: the input
// table itself when it is directly readable, or the materialization of the
// view when views are enabled.
func (c *Creator) actualTable(
	ctx context.Context,
	table *models.TableInfo,
	isView bool,
	requiredColumns []string,
	filter optional.Optional[string],
) (*models.TableInfo, error) {
	if table.IsReadable() {
		return table, nil
	}

	if isView {
		var filters []string
		if f, err := filter.Get(); err == nil {
			filters = append(filters, f)
		}
		querySQL := c.catalog.CreateSQL(table.ID, requiredColumns, filters, c.config.SnapshotTimeMillis)
		log.Ctx(ctx).Debug().Str("Query", querySQL).Msg("materializing view")
		materialized, err := c.catalog.MaterializeViewToTable(ctx, querySQL, table.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "materializing view %s", table.ID)
		}
		return materialized, nil
	}

	// not a regular table or a view
	return nil, errors.Wrapf(ErrUnsupported,
		"table type '%s' of table '%s.%s' is not supported",
		table.Type, table.ID.Dataset, table.ID.Table)
}

func (c *Creator) isInputTableAView(table *models.TableInfo) (bool, error) {
	if table.Type == models.TableTypeView || table.Type == models.TableTypeMaterializedView {
		if !c.config.ViewsEnabled {
			return false, errors.Wrapf(ErrUnsupported,
				"views are not enabled. You can enable views by setting '%s' to true. "+
					"Notice additional cost may occur",
				c.config.ViewsEnabledConfigKey)
		}
		return true, nil
	}
	return false, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
