// Package combiner multiplexes one or more row streams into a single
// pull-based sequence of row batches. Ordering of batches is not guaranteed
// across streams.
//
// Each stream is owned by one worker goroutine feeding a shared bounded
// queue. The queue is engineered to stay below capacity unless a terminal
// state has been reached: workers only receive against credit granted as the
// consumer drains, so a slow consumer applies natural back-pressure all the
// way to the service.
package combiner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tablestream-project/tablestream/pkg/identity"
	"github.com/tablestream-project/tablestream/pkg/lib/backoff"
	"github.com/tablestream-project/tablestream/pkg/models"
	"github.com/tablestream-project/tablestream/pkg/storageapi"
	"github.com/tablestream-project/tablestream/pkg/telemetry"
)

var (
	// ErrInvalidBufferSize is returned at construction when the per-stream
	// buffer capacity is not positive.
	ErrInvalidBufferSize = errors.New("buffer entries per stream must be positive")

	// ErrInvalidMaxRetries is returned at construction when the retry
	// budget is negative.
	ErrInvalidMaxRetries = errors.New("max retries must not be negative")

	// ErrNoSuchElement is returned by Next when no batch is pending. Callers
	// must observe an affirmative HasNext before each Next.
	ErrNoSuchElement = errors.New("no row batch is pending; call HasNext first")
)

// entry is one slot of the shared queue: a row batch, or a terminal error,
// or the end-of-stream sentinel. At most one terminal entry is ever written.
type entry struct {
	batch *models.RowBatch
	err   error
	eos   bool
}

type CombinerParams struct {
	// Client is the pooled read client the streams are opened on. It is
	// shared and never closed by the combiner.
	Client storageapi.ReadClient

	// Requests identify the streams to combine and their starting offsets.
	Requests []*storageapi.ReadRowsRequest

	// BufferEntriesPerStream is the credit budget B of each stream: at most
	// B batches from one stream are resident in the shared queue at a time.
	BufferEntriesPerStream int

	// MaxRetries bounds how many times each stream may reconnect after a
	// transient failure.
	MaxRetries int

	// Tokens resolves optional side-channel authorization tokens for the
	// streams' session. May be nil.
	Tokens *identity.TokenCache

	// Backoff paces reconnection attempts. Defaults to a short exponential
	// backoff.
	Backoff backoff.Backoff
}

// Combiner presents the row batches of many streams as one sequence. It is
// intended for a single consumer: HasNext and Next must not be called
// concurrently, while Cancel is safe from any goroutine.
type Combiner struct {
	client                 storageapi.ReadClient
	bufferEntriesPerStream int
	maxRetries             int
	tokens                 *identity.TokenCache
	backoff                backoff.Backoff

	// responses holds batches plus one reserved slot for the terminal
	// entry; ready records the producing worker of each resident batch in
	// lock-step, so the right worker's credit is replenished on drain.
	responses chan entry
	ready     chan *worker

	workersLeft atomic.Int32
	workers     []*worker

	// mu guards the terminal transition and gates new connections; the
	// cancelled flag is also readable without the lock on hot paths.
	mu        sync.Mutex
	cancelled atomic.Bool

	// last memoizes the dequeued head between HasNext and Next. Terminal
	// entries stay memoized forever.
	last *entry

	ctx  context.Context
	stop context.CancelFunc
}

// New validates the parameters and starts one worker per stream request.
func New(ctx context.Context, params CombinerParams) (*Combiner, error) {
	_, span := telemetry.NewSpan(ctx, telemetry.GetTracer(), "pkg/combiner.New")
	defer span.End()

	if params.BufferEntriesPerStream <= 0 {
		return nil, errors.Wrapf(ErrInvalidBufferSize,
			"received: %d", params.BufferEntriesPerStream)
	}
	if params.MaxRetries < 0 {
		return nil, errors.Wrapf(ErrInvalidMaxRetries,
			"received: %d", params.MaxRetries)
	}

	bo := params.Backoff
	if bo == nil {
		bo = backoff.NewExponential(defaultBaseBackoff, defaultMaxBackoff)
	}

	numStreams := len(params.Requests)
	c := &Combiner{
		client:                 params.Client,
		bufferEntriesPerStream: params.BufferEntriesPerStream,
		maxRetries:             params.MaxRetries,
		tokens:                 params.Tokens,
		backoff:                bo,
		responses:              make(chan entry, numStreams*params.BufferEntriesPerStream+1),
		ready:                  make(chan *worker, numStreams*params.BufferEntriesPerStream),
	}
	c.ctx, c.stop = context.WithCancel(ctx)
	c.workersLeft.Store(int32(numStreams))

	log.Ctx(ctx).Info().
		Int("Streams", numStreams).
		Int("BufferEntriesPerStream", params.BufferEntriesPerStream).
		Msg("new combining stream")

	for _, request := range params.Requests {
		c.workers = append(c.workers, newWorker(c, request))
	}
	for _, w := range c.workers {
		go w.run()
	}
	if numStreams == 0 {
		c.maybeFinished()
	}

	return c, nil
}

// HasNext blocks until a row batch is available, every stream has finished,
// an unrecoverable error occurred, or the combiner was cancelled. It is
// idempotent: repeated calls without an intervening Next observe the same
// outcome. Once a terminal error has been observed it is returned on every
// subsequent call.
func (c *Combiner) HasNext() (bool, error) {
	if c.last == nil {
		e := <-c.responses
		c.last = &e
	}
	if c.last.err != nil {
		return false, c.last.err
	}
	return !c.last.eos, nil
}

// Next returns the batch memoized by the preceding affirmative HasNext and
// replenishes the producing worker's credit. Calling Next without a prior
// successful HasNext is a usage error.
func (c *Combiner) Next() (*models.RowBatch, error) {
	if c.last == nil {
		return nil, ErrNoSuchElement
	}
	if c.last.err != nil {
		return nil, c.last.err
	}
	if c.last.eos {
		return nil, ErrNoSuchElement
	}

	var w *worker
	select {
	case w = <-c.ready:
	default:
		// ready is written in lock-step ahead of responses, so a pending
		// batch always has a recorded producer
		panic("combiner: pending batch with no recorded producer")
	}
	w.replenish()

	batch := c.last.batch
	c.last = nil
	return batch, nil
}

// Cancel tears down every stream and terminates the sequence with a clean
// end-of-stream, never an error. It is idempotent and safe to call
// concurrently with worker completions and errors.
func (c *Combiner) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled.Load() {
		return
	}
	c.completeStream(true)
}

// stopWithError terminates the sequence with the first unrecoverable worker
// error, cancelling all sibling streams. Later errors lose the race and are
// dropped.
func (c *Combiner) stopWithError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled.Load() {
		return
	}
	defer func() {
		// the reserved terminal slot guarantees capacity for this entry
		c.responses <- entry{err: errors.WithMessage(err, "asynchronous read failed")}
	}()
	c.completeStream(false)
}

// maybeFinished enqueues end-of-stream once the last active worker has
// completed.
func (c *Combiner) maybeFinished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled.Load() {
		return
	}
	if c.workersLeft.Load() > 0 {
		return
	}
	c.completeStream(true)
}

// completeStream performs the single-writer terminal transition. Callers
// must hold mu; the cancelled flag makes the transition idempotent under
// concurrent completions.
func (c *Combiner) completeStream(addEOS bool) {
	c.cancelled.Store(true)
	c.workersLeft.Store(0)
	c.stop()
	defer func() {
		if addEOS {
			c.responses <- entry{eos: true}
		}
	}()
	for _, w := range c.workers {
		w.cancel()
	}
}

// push records a received batch and its producer. Capacity is guaranteed by
// the credit protocol: at most bufferEntriesPerStream batches per worker are
// resident at any time.
func (c *Combiner) push(w *worker, batch *models.RowBatch) {
	if c.cancelled.Load() {
		// the sequence is terminating; granted batches still in flight
		// are dropped
		return
	}
	select {
	case c.ready <- w:
	default:
		panic("combiner: ready queue over capacity")
	}
	select {
	case c.responses <- entry{batch: batch}:
	default:
		panic("combiner: responses queue over capacity")
	}
}
