package transmitter

import (
	"context"
	"sync"

	"github.com/eapache/queue"

	"github.com/typedb/typedb-driver-go/pkg/connection"
	"github.com/typedb/typedb-driver-go/pkg/promise"
)

type result struct {
	res *connection.TransactionResponse
	err error
}

// sink is the completion handle of one in-flight request. Exactly one of
// single and parts is set.
type sink struct {
	single chan result
	parts  *itemSink
}

func newSingleSink() *sink {
	return &sink{single: make(chan result, 1)}
}

func newStreamSink() *sink {
	return &sink{parts: newItemSink()}
}

// fail completes the handle with err. Sinks are removed from the in-flight
// table before they are completed, so fail runs at most once per sink.
func (s *sink) fail(err error) {
	if s.single != nil {
		s.single <- result{err: err}
		return
	}
	s.parts.finish(err)
}

// itemSink is an append-only buffer of response parts. The listen loop never
// blocks on it.
type itemSink struct {
	lock     sync.Mutex
	items    *queue.Queue
	notify   chan struct{}
	finished bool
	err      error

	// abandoned is set once the consumer closed its stream. Parts for an
	// abandoned sink are dropped.
	abandoned bool
}

func newItemSink() *itemSink {
	return &itemSink{
		items:  queue.New(),
		notify: make(chan struct{}, 1),
	}
}

func (s *itemSink) push(part *connection.TransactionResponsePart) {
	s.lock.Lock()
	if !s.finished && !s.abandoned {
		s.items.Add(part)
	}
	s.lock.Unlock()
	s.signal()
}

func (s *itemSink) finish(err error) {
	s.lock.Lock()
	if !s.finished {
		s.finished = true
		s.err = err
	}
	s.lock.Unlock()
	s.signal()
}

func (s *itemSink) abandon() {
	s.lock.Lock()
	s.abandoned = true
	s.items = queue.New()
	s.lock.Unlock()
	s.signal()
}

func (s *itemSink) isAbandoned() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.abandoned
}

func (s *itemSink) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *itemSink) pull(ctx context.Context) (*connection.TransactionResponsePart, bool, error) {
	for {
		s.lock.Lock()
		if s.items.Length() > 0 {
			part := s.items.Remove().(*connection.TransactionResponsePart)
			s.lock.Unlock()
			return part, true, nil
		}
		if s.finished || s.abandoned {
			err := s.err
			s.lock.Unlock()
			return nil, false, err
		}
		s.lock.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// partStream is the consumer side of an itemSink. Closing it abandons the
// sink; the transmitter drops the in-flight entry on the next part.
type partStream struct {
	promise.Stream[*connection.TransactionResponsePart]
	sink *itemSink
}

func newPartStream(s *itemSink) *partStream {
	return &partStream{Stream: promise.NewStream(s.pull), sink: s}
}

func (p *partStream) Close() {
	p.sink.abandon()
	p.Stream.Close()
}
