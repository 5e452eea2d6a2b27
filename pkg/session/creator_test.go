//go:build unit || !integration

package session_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"

	"github.com/tablestream-project/tablestream/pkg/lib/optional"
	"github.com/tablestream-project/tablestream/pkg/logger"
	"github.com/tablestream-project/tablestream/pkg/models"
	"github.com/tablestream-project/tablestream/pkg/session"
	"github.com/tablestream-project/tablestream/pkg/storageapi"
)

type fakeCatalog struct {
	project string
	tables  map[string]*models.TableInfo

	mu               sync.Mutex
	materializedSQL  []string
	materializedView []models.TableID
	materializeTo    *models.TableInfo
	materializeErr   error
}

func newFakeCatalog(project string) *fakeCatalog {
	return &fakeCatalog{project: project, tables: make(map[string]*models.TableInfo)}
}

func (f *fakeCatalog) addTable(info *models.TableInfo) {
	f.tables[info.ID.String()] = info
}

func (f *fakeCatalog) ProjectID() string { return f.project }

func (f *fakeCatalog) GetTable(_ context.Context, id models.TableID) (*models.TableInfo, error) {
	if info, ok := f.tables[id.String()]; ok {
		return info, nil
	}
	return nil, errors.Errorf("table %s not found", id)
}

func (f *fakeCatalog) CreateSQL(view models.TableID, requiredColumns []string, filters []string,
	_ optional.Optional[int64]) string {
	columns := strings.Join(requiredColumns, ",")
	if columns == "" {
		columns = "*"
	}
	sql := fmt.Sprintf("SELECT %s FROM `%s`", columns, view.String())
	if len(filters) > 0 {
		sql += " WHERE " + strings.Join(filters, " AND ")
	}
	return sql
}

func (f *fakeCatalog) MaterializeViewToTable(_ context.Context, sql string, view models.TableID) (*models.TableInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.materializedSQL = append(f.materializedSQL, sql)
	f.materializedView = append(f.materializedView, view)
	if f.materializeErr != nil {
		return nil, f.materializeErr
	}
	return f.materializeTo, nil
}

// fakeSessionClient hands out a fresh session per create call and records
// every request it has seen.
type fakeSessionClient struct {
	mu       sync.Mutex
	requests []*storageapi.CreateReadSessionRequest
}

func (f *fakeSessionClient) CreateReadSession(_ context.Context,
	req *storageapi.CreateReadSessionRequest) (*models.ReadSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &models.ReadSession{
		Name:    fmt.Sprintf("sessions/%d", len(f.requests)),
		Streams: []models.ReadStream{{Name: "sessions/s/streams/0"}},
	}, nil
}

func (f *fakeSessionClient) ReadRows(context.Context, *storageapi.ReadRowsRequest) (storageapi.RowStream, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSessionClient) GetReadClient(context.Context) (storageapi.ReadClient, error) {
	return f, nil
}

func (f *fakeSessionClient) createCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeSessionClient) lastRequest() *storageapi.CreateReadSessionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

var _ storageapi.Catalog = (*fakeCatalog)(nil)
var _ storageapi.ReadClient = (*fakeSessionClient)(nil)
var _ session.ReadClientProvider = (*fakeSessionClient)(nil)

type CreatorSuite struct {
	suite.Suite
	ctx     context.Context
	catalog *fakeCatalog
	client  *fakeSessionClient
	table   models.TableID
}

func (s *CreatorSuite) SetupTest() {
	logger.ConfigureTestLogging(s.T())
	s.ctx = context.Background()
	s.catalog = newFakeCatalog("proj")
	s.client = &fakeSessionClient{}
	s.table = models.NewTableID("proj", "data", "events")
	s.catalog.addTable(&models.TableInfo{ID: s.table, Type: models.TableTypeTable})
}

func TestCreatorSuite(t *testing.T) {
	suite.Run(t, new(CreatorSuite))
}

func (s *CreatorSuite) newCreator(config session.CreatorConfig) *session.Creator {
	sessionCache, err := session.NewCache(time.Minute)
	s.Require().NoError(err)
	return session.NewCreator(session.CreatorParams{
		Config:  config,
		Catalog: s.catalog,
		Clients: s.client,
		Cache:   sessionCache,
	})
}

func (s *CreatorSuite) TestCreatesSessionForTable() {
	creator := s.newCreator(session.CreatorConfig{DefaultParallelism: 10})

	response, err := creator.Create(s.ctx, s.table, []string{"id", "name"}, optional.Of("id > 7"))
	s.Require().NoError(err)
	s.Equal("sessions/1", response.Session.Name)
	s.Equal(s.table, response.Table.ID)

	request := s.client.lastRequest()
	s.Equal("projects/proj", request.Parent)
	s.Equal(s.table.Path(), request.Table)
	s.Equal([]string{"id", "name"}, request.SelectedFields)
	s.Equal("id > 7", request.RowRestriction)
	s.Equal(30, request.PreferredMinStreamCount)
	s.Equal(session.DefaultMaxParallelism, request.MaxStreamCount)
	s.Empty(request.TraceID)
}

func (s *CreatorSuite) TestParallelismDefaultsWithoutHint() {
	creator := s.newCreator(session.CreatorConfig{})

	_, err := creator.Create(s.ctx, s.table, nil, optional.Empty[string]())
	s.Require().NoError(err)

	// no parallelism hints at all still yield a sane minimum
	request := s.client.lastRequest()
	s.Equal(session.MinimalParallelism, request.PreferredMinStreamCount)
	s.Equal(session.DefaultMaxParallelism, request.MaxStreamCount)
}

func (s *CreatorSuite) TestPreferredMinIsClampedToMax() {
	creator := s.newCreator(session.CreatorConfig{
		PreferredMinParallelism: optional.Of(30000),
		MaxParallelism:          optional.Of(100),
	})

	_, err := creator.Create(s.ctx, s.table, nil, optional.Empty[string]())
	s.Require().NoError(err)

	request := s.client.lastRequest()
	s.Equal(100, request.PreferredMinStreamCount)
	s.Equal(100, request.MaxStreamCount)
}

func (s *CreatorSuite) TestPreferredMinRaisesDefaultMax() {
	creator := s.newCreator(session.CreatorConfig{
		PreferredMinParallelism: optional.Of(50000),
	})

	_, err := creator.Create(s.ctx, s.table, nil, optional.Empty[string]())
	s.Require().NoError(err)

	request := s.client.lastRequest()
	s.Equal(50000, request.PreferredMinStreamCount)
	s.Equal(50000, request.MaxStreamCount)
}

func (s *CreatorSuite) TestSnapshotTimeForTables() {
	creator := s.newCreator(session.CreatorConfig{
		SnapshotTimeMillis: optional.Of(int64(12345)),
	})

	_, err := creator.Create(s.ctx, s.table, nil, optional.Empty[string]())
	s.Require().NoError(err)
	s.Equal(int64(12345), s.client.lastRequest().SnapshotTimeMillis)
}

func (s *CreatorSuite) TestExplicitTraceID() {
	creator := s.newCreator(session.CreatorConfig{
		TraceID: optional.Of("job-42"),
	})

	_, err := creator.Create(s.ctx, s.table, nil, optional.Empty[string]())
	s.Require().NoError(err)
	s.Equal("job-42", s.client.lastRequest().TraceID)
}

func (s *CreatorSuite) TestCacheReusesSessionForIdenticalRequest() {
	creator := s.newCreator(session.CreatorConfig{CacheEnabled: true})

	first, err := creator.Create(s.ctx, s.table, []string{"id"}, optional.Of("id > 7"))
	s.Require().NoError(err)
	second, err := creator.Create(s.ctx, s.table, []string{"id"}, optional.Of("id > 7"))
	s.Require().NoError(err)

	s.Equal(first.Session.Name, second.Session.Name)
	s.Equal(1, s.client.createCalls())

	// any difference in the request negotiates a fresh session
	third, err := creator.Create(s.ctx, s.table, []string{"id"}, optional.Of("id > 8"))
	s.Require().NoError(err)
	s.NotEqual(first.Session.Name, third.Session.Name)
	s.Equal(2, s.client.createCalls())
}

func (s *CreatorSuite) TestCacheSharedAcrossCreators() {
	sessionCache, err := session.NewCache(time.Minute)
	s.Require().NoError(err)

	newCreator := func() *session.Creator {
		return session.NewCreator(session.CreatorParams{
			Config:  session.CreatorConfig{CacheEnabled: true},
			Catalog: s.catalog,
			Clients: s.client,
			Cache:   sessionCache,
		})
	}

	// two creators with field-for-field identical configurations must
	// share the cached session description
	first, err := newCreator().Create(s.ctx, s.table, []string{"id"}, optional.Of("id > 7"))
	s.Require().NoError(err)
	second, err := newCreator().Create(s.ctx, s.table, []string{"id"}, optional.Of("id > 7"))
	s.Require().NoError(err)

	s.Equal(first.Session.Name, second.Session.Name)
	s.Equal(1, s.client.createCalls())
}

func (s *CreatorSuite) TestCacheDisabledAlwaysNegotiates() {
	creator := s.newCreator(session.CreatorConfig{})

	_, err := creator.Create(s.ctx, s.table, nil, optional.Empty[string]())
	s.Require().NoError(err)
	_, err = creator.Create(s.ctx, s.table, nil, optional.Empty[string]())
	s.Require().NoError(err)
	s.Equal(2, s.client.createCalls())
}

func (s *CreatorSuite) TestViewsDisabledByDefault() {
	view := models.NewTableID("proj", "data", "events_view")
	s.catalog.addTable(&models.TableInfo{ID: view, Type: models.TableTypeView})

	creator := s.newCreator(session.CreatorConfig{
		ViewsEnabledConfigKey: "viewsEnabled",
	})

	_, err := creator.Create(s.ctx, view, nil, optional.Empty[string]())
	s.ErrorIs(err, session.ErrUnsupported)
	s.ErrorContains(err, "viewsEnabled")
	s.Zero(s.client.createCalls())
}

func (s *CreatorSuite) TestViewIsMaterialized() {
	view := models.NewTableID("proj", "data", "events_view")
	s.catalog.addTable(&models.TableInfo{ID: view, Type: models.TableTypeView})
	materialized := models.NewTableID("proj", "temp", "mat_1")
	s.catalog.materializeTo = &models.TableInfo{ID: materialized, Type: models.TableTypeTable}

	creator := s.newCreator(session.CreatorConfig{
		ViewsEnabled:       true,
		SnapshotTimeMillis: optional.Of(int64(777)),
	})

	response, err := creator.Create(s.ctx, view, []string{"id"}, optional.Of("id > 7"))
	s.Require().NoError(err)
	s.Equal(materialized, response.Table.ID)

	// the filter was folded into the materialization query
	s.Require().Len(s.catalog.materializedSQL, 1)
	s.Contains(s.catalog.materializedSQL[0], "id > 7")
	s.Equal(view, s.catalog.materializedView[0])

	// the session reads the materialized table; the filter and snapshot
	// must not be applied a second time
	request := s.client.lastRequest()
	s.Equal(materialized.Path(), request.Table)
	s.Empty(request.RowRestriction)
	s.Zero(request.SnapshotTimeMillis)
}

func (s *CreatorSuite) TestMaterializedViewIsSupported() {
	view := models.NewTableID("proj", "data", "events_mv")
	s.catalog.addTable(&models.TableInfo{ID: view, Type: models.TableTypeMaterializedView})
	materialized := models.NewTableID("proj", "temp", "mat_2")
	s.catalog.materializeTo = &models.TableInfo{ID: materialized, Type: models.TableTypeTable}

	creator := s.newCreator(session.CreatorConfig{ViewsEnabled: true})

	response, err := creator.Create(s.ctx, view, nil, optional.Empty[string]())
	s.Require().NoError(err)
	s.Equal(materialized, response.Table.ID)
}

func (s *CreatorSuite) TestMaterializationFailure() {
	view := models.NewTableID("proj", "data", "events_view")
	s.catalog.addTable(&models.TableInfo{ID: view, Type: models.TableTypeView})
	s.catalog.materializeErr = errors.New("quota exceeded")

	creator := s.newCreator(session.CreatorConfig{ViewsEnabled: true})

	_, err := creator.Create(s.ctx, view, nil, optional.Empty[string]())
	s.ErrorContains(err, "quota exceeded")
}

func (s *CreatorSuite) TestUnsupportedTableType() {
	model := models.NewTableID("proj", "data", "classifier")
	s.catalog.addTable(&models.TableInfo{ID: model, Type: "MODEL"})

	creator := s.newCreator(session.CreatorConfig{})

	_, err := creator.Create(s.ctx, model, nil, optional.Empty[string]())
	s.ErrorIs(err, session.ErrUnsupported)
	s.ErrorContains(err, "table type 'MODEL'")
}

func (s *CreatorSuite) TestExternalAndSnapshotTablesAreReadable() {
	for i, tableType := range []models.TableType{models.TableTypeExternal, models.TableTypeSnapshot} {
		id := models.NewTableID("proj", "data", fmt.Sprintf("t%d", i))
		s.catalog.addTable(&models.TableInfo{ID: id, Type: tableType})

		creator := s.newCreator(session.CreatorConfig{})
		response, err := creator.Create(s.ctx, id, nil, optional.Empty[string]())
		s.Require().NoError(err)
		s.Equal(id, response.Table.ID)
	}
}

func (s *CreatorSuite) TestStreamRequests() {
	readSession := &models.ReadSession{
		Name: "sessions/a",
		Streams: []models.ReadStream{
			{Name: "sessions/a/streams/0"},
			{Name: "sessions/a/streams/1"},
		},
	}

	requests := session.StreamRequests(readSession)
	s.Require().Len(requests, 2)
	for i, request := range requests {
		s.Equal(readSession.Streams[i].Name, request.Stream)
		s.Zero(request.Offset)
	}
}

func (s *CreatorSuite) TestUnknownTable() {
	creator := s.newCreator(session.CreatorConfig{})

	_, err := creator.Create(s.ctx, models.NewTableID("proj", "data", "missing"), nil, optional.Empty[string]())
	s.ErrorContains(err, "resolving table")
}
