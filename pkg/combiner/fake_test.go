//go:build unit || !integration

package combiner_test

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/tablestream-project/tablestream/pkg/models"
	"github.com/tablestream-project/tablestream/pkg/storageapi"
)

// streamEvent is one scripted outcome of a fake stream: a batch of rows, the
// end of the stream, or an error.
type streamEvent struct {
	rows int64
	data []byte
	end  bool
	err  error
}

func batchOf(rows int64) streamEvent { return streamEvent{rows: rows} }
func endOfStream() streamEvent       { return streamEvent{end: true} }
func failWith(err error) streamEvent { return streamEvent{err: err} }

// fakeStream delivers its scripted events strictly against granted credit,
// the way the real transport does once automatic inbound flow control is
// disabled. Terminal events need no credit.
type fakeStream struct {
	name string

	mu        sync.Mutex
	cond      *sync.Cond
	events    []streamEvent
	pos       int
	credit    int64
	grants    []int64
	cancelled bool
}

func newFakeStream(name string, events ...streamEvent) *fakeStream {
	s := &fakeStream{name: name, events: events}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *fakeStream) RequestRows(count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return errors.New("stream is closed")
	}
	s.credit += count
	s.grants = append(s.grants, count)
	s.cond.Broadcast()
	return nil
}

func (s *fakeStream) Recv() (*models.RowBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.cancelled {
			return nil, context.Canceled
		}
		if s.pos < len(s.events) {
			event := s.events[s.pos]
			if event.end {
				return nil, io.EOF
			}
			if event.err != nil {
				s.pos++
				return nil, event.err
			}
			if s.credit > 0 {
				s.pos++
				s.credit--
				return &models.RowBatch{Stream: s.name, Rows: event.rows, Data: event.data}, nil
			}
		}
		s.cond.Wait()
	}
}

func (s *fakeStream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.cond.Broadcast()
}

func (s *fakeStream) wasCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *fakeStream) recordedGrants() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.grants...)
}

// connection is one scripted ReadRows outcome for a stream name.
type connection struct {
	stream *fakeStream
	err    error
}

// fakeReadClient scripts successive connections per stream name and records
// every ReadRows request it has seen.
type fakeReadClient struct {
	mu          sync.Mutex
	connections map[string][]connection
	requests    map[string][]storageapi.ReadRowsRequest
}

func newFakeReadClient() *fakeReadClient {
	return &fakeReadClient{
		connections: make(map[string][]connection),
		requests:    make(map[string][]storageapi.ReadRowsRequest),
	}
}

func (c *fakeReadClient) script(stream string, conns ...connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connections[stream] = append(c.connections[stream], conns...)
}

func (c *fakeReadClient) scriptStream(s *fakeStream) {
	c.script(s.name, connection{stream: s})
}

func (c *fakeReadClient) CreateReadSession(context.Context, *storageapi.CreateReadSessionRequest) (*models.ReadSession, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeReadClient) ReadRows(_ context.Context, req *storageapi.ReadRowsRequest) (storageapi.RowStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[req.Stream] = append(c.requests[req.Stream], *req)

	conns := c.connections[req.Stream]
	if len(conns) == 0 {
		return nil, errors.Errorf("no scripted connection for stream %s", req.Stream)
	}
	next := conns[0]
	c.connections[req.Stream] = conns[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.stream, nil
}

func (c *fakeReadClient) requestsFor(stream string) []storageapi.ReadRowsRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]storageapi.ReadRowsRequest(nil), c.requests[stream]...)
}

func (c *fakeReadClient) connectionCount(stream string) int {
	return len(c.requestsFor(stream))
}

var _ storageapi.ReadClient = (*fakeReadClient)(nil)
var _ storageapi.RowStream = (*fakeStream)(nil)
