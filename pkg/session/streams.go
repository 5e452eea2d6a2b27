package session

import (
	"github.com/tablestream-project/tablestream/pkg/models"
	"github.com/tablestream-project/tablestream/pkg/storageapi"
	"github.com/tablestream-project/tablestream/pkg/util/generic"
)

// StreamRequests builds one row-read request per stream of the session, all
// starting at row zero. The requests are what a combining read over the whole
// session is constructed from.
func StreamRequests(s *models.ReadSession) []*storageapi.ReadRowsRequest {
	return generic.Map(s.Streams, func(stream models.ReadStream) *storageapi.ReadRowsRequest {
		return &storageapi.ReadRowsRequest{Stream: stream.Name}
	})
}
