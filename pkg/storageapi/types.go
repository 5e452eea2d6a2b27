// Package storageapi defines the consumed interfaces of the remote storage
// service: session negotiation, row streaming, table metadata and view
// materialization. Implementations live behind these interfaces; this library
// only depends on their contracts.
package storageapi

import (
	"context"

	"github.com/tablestream-project/tablestream/pkg/lib/optional"
	"github.com/tablestream-project/tablestream/pkg/models"
)

// CreateReadSessionRequest asks the service to negotiate a read session over
// a table. Field order and contents are part of the session-cache key, so new
// fields must be serializable.
type CreateReadSessionRequest struct {
	// Parent is the project resource on whose behalf the session is created.
	Parent string `json:"parent"`

	// Table is the fully qualified path of the table to read.
	Table string `json:"table"`

	// SelectedFields is the column projection. Empty means all columns.
	SelectedFields []string `json:"selected_fields"`

	// RowRestriction is an optional filter predicate pushed to the service.
	RowRestriction string `json:"row_restriction"`

	// SnapshotTimeMillis pins the read to a point in time. Zero means now.
	SnapshotTimeMillis int64 `json:"snapshot_time_millis"`

	// MaxStreamCount caps how many streams the service may return.
	MaxStreamCount int `json:"max_stream_count"`

	// PreferredMinStreamCount is a hint for the minimum number of streams.
	PreferredMinStreamCount int `json:"preferred_min_stream_count"`

	// TraceID tags the session for diagnostics on the service side.
	TraceID string `json:"trace_id"`
}

// ReadRowsRequest identifies one stream of a session and the offset to
// resume from. A retried connection re-issues the same request with the
// offset advanced to the last fully received row.
type ReadRowsRequest struct {
	// Stream is the fully qualified stream name.
	Stream string

	// Offset is the zero-based row offset to start reading at.
	Offset int64

	// SessionToken is an optional side-channel authorization token scoped
	// to the stream's session. Empty means no side channel.
	SessionToken string
}

// RowStream is one open server stream of row batches. Flow control is
// explicit: the service only pushes batches against credit granted through
// RequestRows, and Recv blocks until a granted batch (or the stream's end)
// arrives.
type RowStream interface {
	// RequestRows grants the service credit to deliver up to count more
	// batches. Implementations may fail if the stream is already closed.
	RequestRows(count int64) error

	// Recv returns the next row batch. It returns io.EOF once the stream
	// has delivered all its rows, or the stream's terminal error.
	Recv() (*models.RowBatch, error)

	// Cancel tears down the stream. It is safe to call at any point in the
	// stream's lifecycle, including after Recv returned a terminal outcome.
	Cancel()
}

// ReadClient is a pooled client handle to the storage service's read surface.
type ReadClient interface {
	CreateReadSession(ctx context.Context, req *CreateReadSessionRequest) (*models.ReadSession, error)
	ReadRows(ctx context.Context, req *ReadRowsRequest) (RowStream, error)
}

// WriteClient is a pooled client handle to the storage service's write
// surface.
type WriteClient interface {
	AppendRows(ctx context.Context, stream string, batches []*models.RowBatch) error
}

// Catalog resolves table metadata and materializes views into readable
// tables.
type Catalog interface {
	// ProjectID is the project on whose behalf catalog calls are made.
	ProjectID() string

	GetTable(ctx context.Context, id models.TableID) (*models.TableInfo, error)

	// CreateSQL builds the query that materializes a view with the given
	// projection, filters and optional snapshot time.
	CreateSQL(view models.TableID, requiredColumns []string, filters []string,
		snapshotTimeMillis optional.Optional[int64]) string

	// MaterializeViewToTable runs the query into a temporary table and
	// returns its metadata.
	MaterializeViewToTable(ctx context.Context, sql string, view models.TableID) (*models.TableInfo, error)
}
