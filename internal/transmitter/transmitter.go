// Package transmitter multiplexes the requests of one transaction onto a
// single bidirectional stream.
//
// Outbound requests are queued, batched and flushed by a dispatch loop.
// Inbound responses are routed by request ID by a listen loop. When the stream
// ends, for any reason, every pending request is failed and the close
// callbacks run once.
package transmitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/typedb/typedb-driver-go/internal/codec"
	"github.com/typedb/typedb-driver-go/internal/rand"
	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/constants"
	"github.com/typedb/typedb-driver-go/pkg/logger"
	"github.com/typedb/typedb-driver-go/pkg/metrics"
	"github.com/typedb/typedb-driver-go/pkg/models"
	"github.com/typedb/typedb-driver-go/pkg/promise"
)

type Options struct {
	// DispatchInterval is how long queued requests wait to be batched.
	DispatchInterval time.Duration
	// MaxMessageSize caps the encoded size of one batch. A single request
	// larger than this is still sent, alone.
	MaxMessageSize int
	// Marshaler sizes requests for batching.
	Marshaler codec.Marshaler
	Logger    logger.Logger
	Metrics   *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.DispatchInterval <= 0 {
		o.DispatchInterval = constants.DefaultDispatchInterval
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = constants.DefaultMaxMessageSize
	}
	if o.Marshaler == nil {
		o.Marshaler = codec.NewCBOR()
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	return o
}

type Transmitter struct {
	stream connection.Stream
	opts   Options
	guard  *senderGuard

	// lock guards everything below it.
	lock      sync.Mutex
	inflight  map[models.ID]*sink
	outbox    *queue.Queue
	closed    bool
	cause     error
	callbacks []func(error)

	wake         chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
	dispatchDone chan struct{}
}

// New takes ownership of stream and starts the dispatch and listen loops.
func New(stream connection.Stream, opts Options) *Transmitter {
	opts = opts.withDefaults()

	t := &Transmitter{
		stream:       stream,
		opts:         opts,
		guard:        &senderGuard{stream: stream, logger: opts.Logger},
		inflight:     make(map[models.ID]*sink),
		outbox:       queue.New(),
		wake:         make(chan struct{}, 1),
		shutdown:     make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}

	go t.dispatchLoop()
	go t.listenLoop()

	return t
}

// Single sends req and returns a promise for its one response.
// A server-side error for req rejects only this promise.
func (t *Transmitter) Single(req *connection.TransactionRequest) promise.Promise[*connection.TransactionResponse] {
	s := newSingleSink()
	if err := t.enqueue(req, s); err != nil {
		return promise.Rejected[*connection.TransactionResponse](err)
	}

	return promise.Await(func(ctx context.Context) (*connection.TransactionResponse, error) {
		select {
		case r := <-s.single:
			return r.res, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// Stream sends req and returns the stream of its response parts. The
// transmitter asks the server for more whenever a batch ends with Continue.
func (t *Transmitter) Stream(req *connection.TransactionRequest) promise.Stream[*connection.TransactionResponsePart] {
	s := newStreamSink()
	if err := t.enqueue(req, s); err != nil {
		s.parts.finish(err)
	}
	return newPartStream(s.parts)
}

func (t *Transmitter) enqueue(req *connection.TransactionRequest, s *sink) error {
	req.ReqID = rand.NewRequestID()

	t.lock.Lock()
	if t.closed {
		err := closedError(t.cause)
		t.lock.Unlock()
		return err
	}
	if _, ok := t.inflight[req.ReqID]; ok {
		t.lock.Unlock()
		return fmt.Errorf("%w: %v", constants.ErrIDInUse, req.ReqID)
	}
	t.inflight[req.ReqID] = s
	t.outbox.Add(req)
	t.lock.Unlock()

	t.opts.Metrics.RequestQueued(string(req.Kind))
	t.signal()
	return nil
}

// enqueueLocked queues a request that has no completion handle.
func (t *Transmitter) enqueueLocked(req *connection.TransactionRequest) {
	t.outbox.Add(req)
	t.opts.Metrics.RequestQueued(string(req.Kind))
}

func (t *Transmitter) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// ForceClose closes the transmitter without an error. It is idempotent and may
// be called from any goroutine.
func (t *Transmitter) ForceClose() {
	t.CloseWithError(nil)
}

// OnClose registers fn to run once the transmitter closes. fn receives the
// error that closed it, nil for a clean close. If the transmitter is already
// closed fn runs immediately.
func (t *Transmitter) OnClose(fn func(error)) {
	t.lock.Lock()
	if t.closed {
		cause := t.cause
		t.lock.Unlock()
		fn(cause)
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.lock.Unlock()
}

func (t *Transmitter) IsOpen() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return !t.closed
}

// Err returns the error that closed the transmitter, if any.
func (t *Transmitter) Err() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.cause
}

// Pending returns the number of requests waiting for a terminal response.
func (t *Transmitter) Pending() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.inflight)
}

// Done is closed once the outbound half of the stream has been released.
func (t *Transmitter) Done() <-chan struct{} {
	return t.dispatchDone
}

func closedError(cause error) error {
	if cause == nil {
		return constants.ErrTransactionClosed
	}
	return fmt.Errorf("%w: %w", constants.ErrTransactionClosed, cause)
}

// CloseWithError closes the transmitter. Pending requests fail with
// constants.ErrTransactionClosed wrapping cause, and close callbacks receive
// cause. Only the first call has any effect.
func (t *Transmitter) CloseWithError(cause error) {
	t.lock.Lock()
	if t.closed {
		t.lock.Unlock()
		return
	}
	t.closed = true
	t.cause = cause
	pending := t.inflight
	t.inflight = make(map[models.ID]*sink)
	t.outbox = queue.New()
	callbacks := t.callbacks
	t.callbacks = nil
	t.lock.Unlock()

	err := closedError(cause)
	for _, s := range pending {
		s.fail(err)
	}

	t.shutdownOnce.Do(func() { close(t.shutdown) })

	for _, fn := range callbacks {
		fn(cause)
	}
}

func (t *Transmitter) dispatchLoop() {
	defer close(t.dispatchDone)
	defer t.guard.release()

	timer := time.NewTimer(t.opts.DispatchInterval)
	timer.Stop()

	for {
		select {
		case <-t.shutdown:
			return
		case <-t.wake:
		}

		timer.Reset(t.opts.DispatchInterval)
		select {
		case <-t.shutdown:
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := t.flush(); err != nil {
			t.opts.Logger.Warn("transaction stream write failed", "error", err.Error())
			t.CloseWithError(err)
			return
		}
	}
}

func (t *Transmitter) drain() []*connection.TransactionRequest {
	t.lock.Lock()
	defer t.lock.Unlock()

	reqs := make([]*connection.TransactionRequest, 0, t.outbox.Length())
	for t.outbox.Length() > 0 {
		reqs = append(reqs, t.outbox.Remove().(*connection.TransactionRequest))
	}
	return reqs
}

// flush writes everything queued so far, split into batches no larger than
// MaxMessageSize.
func (t *Transmitter) flush() error {
	reqs := t.drain()
	if len(reqs) == 0 {
		return nil
	}

	batch := make([]*connection.TransactionRequest, 0, len(reqs))
	size := 0
	for _, req := range reqs {
		data, err := t.opts.Marshaler.Marshal(req)
		if err != nil {
			return fmt.Errorf("%w: %v", constants.ErrUnexpectedResponse, err)
		}

		if len(batch) > 0 && size+len(data) > t.opts.MaxMessageSize {
			if err := t.send(batch); err != nil {
				return err
			}
			batch = make([]*connection.TransactionRequest, 0, len(reqs))
			size = 0
		}
		batch = append(batch, req)
		size += len(data)
	}

	return t.send(batch)
}

func (t *Transmitter) send(batch []*connection.TransactionRequest) error {
	if err := t.guard.send(&connection.TransactionClient{Reqs: batch}); err != nil {
		return err
	}
	t.opts.Metrics.BatchFlushed(len(batch))
	return nil
}

func (t *Transmitter) listenLoop() {
	for {
		msg, err := t.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			t.CloseWithError(err)
			return
		}
		t.route(msg)
	}
}

func (t *Transmitter) route(msg *connection.TransactionServer) {
	switch {
	case msg.Res != nil:
		t.routeResponse(msg.Res)
	case msg.ResPart != nil:
		t.routePart(msg.ResPart)
	default:
		t.opts.Logger.Warn("empty transaction server message")
	}
}

func (t *Transmitter) dropUnknown(id models.ID) {
	t.opts.Logger.Debug(constants.ErrUnknownRequestID.Error(), "req_id", id.String())
}

func (t *Transmitter) routeResponse(res *connection.TransactionResponse) {
	t.lock.Lock()
	s, ok := t.inflight[res.ReqID]
	if ok {
		delete(t.inflight, res.ReqID)
	}
	t.lock.Unlock()

	if !ok {
		t.dropUnknown(res.ReqID)
		return
	}

	var err error
	if res.Error != nil {
		err = res.Error
	}

	if s.single != nil {
		s.single <- result{res: res, err: err}
		return
	}
	s.parts.finish(err)
}

func (t *Transmitter) routePart(part *connection.TransactionResponsePart) {
	t.opts.Metrics.StreamPart()

	t.lock.Lock()
	s, ok := t.inflight[part.ReqID]
	if !ok {
		t.lock.Unlock()
		t.dropUnknown(part.ReqID)
		return
	}

	if s.parts != nil && s.parts.isAbandoned() {
		delete(t.inflight, part.ReqID)
		t.lock.Unlock()
		t.opts.Logger.Debug("dropping part of an abandoned stream", "req_id", part.ReqID.String())
		return
	}

	terminal := part.Error != nil || part.State == connection.StreamDone || s.parts == nil
	if terminal {
		delete(t.inflight, part.ReqID)
	}
	if part.State == connection.StreamContinue && !terminal {
		t.enqueueLocked(&connection.TransactionRequest{ReqID: part.ReqID, Kind: connection.TxStream})
	}
	t.lock.Unlock()

	switch {
	case s.parts == nil:
		s.fail(fmt.Errorf("%w: response part for a single request %v", constants.ErrUnexpectedResponse, part.ReqID))
	case part.Error != nil:
		s.parts.finish(part.Error)
	case part.State == connection.StreamDone:
		s.parts.finish(nil)
	case part.State == connection.StreamContinue:
		t.signal()
	default:
		s.parts.push(part)
	}
}
