package models

import "time"

// ReadStream is one independently resumable partition of a read session.
type ReadStream struct {
	// Name is the fully qualified stream name, in the form
	// "<session name>/streams/<stream id>".
	Name string
}

// ReadSession is a negotiated, time-bounded handle to a partitioned view of a
// table. Each stream can be read independently and concurrently.
type ReadSession struct {
	// Name is the fully qualified session name.
	Name string

	// Streams are the partitions of the session. The service may return
	// fewer streams than requested.
	Streams []ReadStream

	// ExpireTime is when the session's fixed validity window elapses.
	// Streams cannot be read past this point.
	ExpireTime time.Time
}
