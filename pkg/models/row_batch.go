package models

// RowBatch is one chunk of rows received from a single stream. The payload is
// opaque to this library; only the row count is interpreted, to advance the
// stream's resume offset. Batches are ordered within their producing stream
// and unordered across streams.
type RowBatch struct {
	// Stream is the name of the stream that produced this batch.
	Stream string

	// Rows is the number of rows serialized in Data.
	Rows int64

	// Data is the serialized row payload.
	Data []byte
}
