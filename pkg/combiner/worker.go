package combiner

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tablestream-project/tablestream/pkg/logger"
	"github.com/tablestream-project/tablestream/pkg/storageapi"
)

const (
	defaultBaseBackoff = 100 * time.Millisecond
	defaultMaxBackoff  = 2 * time.Second

	// creditRefreshDivisor sets the drain threshold below which a worker
	// tops its credit back up in a single grant. The division is somewhat
	// arbitrary; a better solution would instrument timing and refresh
	// just in time.
	creditRefreshDivisor = 4
)

const sessionExpiredAdvice = "the read session expired after its fixed validity window. " +
	"Your options: (1) finish reading within the session window, " +
	"(2) cache the results upstream, " +
	"(3) recreate the read from a freshly created session"

// worker owns one stream of the combining sequence: its connection, resume
// offset, retry budget and flow-control credit. It moves through
// connecting -> streaming, bouncing back to connecting on transient faults,
// until it completes, fails, or is cancelled.
type worker struct {
	combiner *Combiner

	// request carries the stream name and resume offset. The offset is
	// rewritten after every received batch so a retry resumes from the
	// last fully received row.
	request storageapi.ReadRowsRequest

	// retries counts reconnections so far on this stream.
	retries int

	// mu guards stream and credit. The states of stream are: fresh
	// worker: nil - streaming: non-nil - retrying: nil - finished: nil.
	mu     sync.Mutex
	stream storageapi.RowStream

	// credit is the number of batches the service is currently allowed to
	// have in flight or unconsumed for this stream. It persists across
	// reconnects so the shared queue can never exceed capacity.
	credit int
}

func newWorker(c *Combiner, request *storageapi.ReadRowsRequest) *worker {
	return &worker{
		combiner: c,
		request:  *request,
	}
}

func (w *worker) run() {
	ctx := logger.ContextWithStreamLogger(w.combiner.ctx, w.request.Stream)

	for {
		stream, connected, err := w.connect()
		if err == nil && !connected {
			// the combiner is tearing down
			return
		}
		if err == nil {
			w.replenish()
			err = w.receive(stream)
			if err == nil {
				w.complete()
				return
			}
		}

		if w.combiner.cancelled.Load() {
			// cancellation is never reported as an error
			return
		}

		if storageapi.IsRetryable(err) && w.retries < w.combiner.maxRetries {
			w.clearStream()
			w.retries++
			log.Ctx(ctx).Warn().Err(err).
				Int64("Offset", w.request.Offset).
				Int("Retries", w.retries).
				Msg("transient stream failure, reconnecting from last received offset")
			w.combiner.backoff.Backoff(ctx, w.retries)
			continue
		}

		w.clearStream()
		if storageapi.IsSessionExpired(err) {
			err = errors.WithMessage(err, sessionExpiredAdvice)
		}
		log.Ctx(ctx).Error().Err(err).Msg("stream failed")
		w.combiner.stopWithError(err)
		return
	}
}

// connect opens a new stream at the current resume offset, attaching the
// session's identity token when one can be resolved. Connections are gated
// on the combiner lock so no stream is opened once the terminal transition
// has begun.
func (w *worker) connect() (storageapi.RowStream, bool, error) {
	c := w.combiner
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled.Load() {
		return nil, false, nil
	}

	request := w.request
	if c.tokens != nil {
		request.SessionToken = c.tokens.TokenForStream(c.ctx, request.Stream).GetOrDefault("")
	}

	stream, err := c.client.ReadRows(c.ctx, &request)
	if err != nil {
		return nil, false, err
	}

	w.mu.Lock()
	w.stream = stream
	// register one more because replenish always decrements
	w.credit++
	w.mu.Unlock()
	return stream, true, nil
}

// receive pulls granted batches off the stream until it ends. The stream
// only delivers against credit, so pushes into the shared queue cannot
// overrun it.
func (w *worker) receive(stream storageapi.RowStream) error {
	for {
		batch, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		w.mu.Lock()
		w.request.Offset += batch.Rows
		w.mu.Unlock()

		// Note we don't take a global lock here, so the ready order across
		// workers might differ from the response order. This balances out:
		// there is never more than the per-stream budget enqueued from any
		// given worker, and every resident batch has a recorded producer.
		w.combiner.push(w, batch)
	}
}

// replenish is invoked by the consumer after draining one of this worker's
// batches (and once per connection to seed the initial grant). Credit is
// topped up in bulk only once it has run down to a quarter of the budget:
// waiting for the buffer to drain amortizes flow-control requests and lets a
// slow consumer apply natural back-pressure.
func (w *worker) replenish() {
	c := w.combiner
	if c.cancelled.Load() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.credit--
	if w.credit > c.bufferEntriesPerStream/creditRefreshDivisor {
		return
	}
	if w.stream == nil {
		// retrying: the credit stays low so the replacement connection's
		// own replenish issues the full grant once it is open
		return
	}

	addBack := c.bufferEntriesPerStream - w.credit
	w.credit += addBack

	if err := w.stream.RequestRows(int64(addBack)); err != nil {
		// the stream may be finished or mid-teardown; not fatal
		log.Debug().Err(err).Str("Stream", w.request.Stream).
			Msg("flow control request failed")
	}
}

func (w *worker) complete() {
	w.clearStream()
	w.combiner.workersLeft.Add(-1)
	w.combiner.maybeFinished()
}

func (w *worker) clearStream() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stream = nil
}

// cancel tears down the worker's stream if one is active. Cancellation is
// best-effort: a stream that already finished or was torn down ignores it.
func (w *worker) cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stream != nil {
		w.stream.Cancel()
	}
}
