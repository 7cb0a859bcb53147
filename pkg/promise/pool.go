//go:build !cooperative

package promise

import (
	"context"
	"runtime"
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sync/semaphore"
)

// Model names the scheduling model compiled into this build.
const Model = "worker-pool"

// poolSize is the number of worker slots.
var poolSize = int64(runtime.GOMAXPROCS(0)) * 256

// workers bounds the number of goroutines running New work at once. Stream
// pumps and Await promises wait on I/O and never hold a slot.
var workers = semaphore.NewWeighted(poolSize)

func run[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	if err := workers.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, err
	}
	defer workers.Release(1)
	return fn(ctx)
}

type task[T any] struct {
	consumed
	done  chan struct{}
	value T
	err   error
}

// New starts fn on the worker pool and returns a promise for its result.
// New never blocks: a full pool delays fn, not the caller.
func New[T any](fn func(ctx context.Context) (T, error)) Promise[T] {
	t := &task[T]{done: make(chan struct{})}

	go func() {
		defer close(t.done)
		t.value, t.err = run(context.Background(), fn)
	}()

	return t
}

// Resolve blocks until the work finishes or ctx is done. Expiry of ctx fails
// the wait only; the work keeps running.
func (t *task[T]) Resolve(ctx context.Context) (T, error) {
	var zero T
	if err := t.take(); err != nil {
		return zero, err
	}

	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type pumped[T any] struct {
	lock     sync.Mutex
	items    *queue.Queue
	notify   chan struct{}
	finished bool
	err      error
	end      bool
	cancel   context.CancelFunc
}

// NewStream starts a background pump that calls pull until it reports the end
// or fails. Items are buffered in an unbounded queue until Next takes them.
// The pump runs outside the worker pool.
func NewStream[T any](pull func(ctx context.Context) (T, bool, error)) Stream[T] {
	ctx, cancel := context.WithCancel(context.Background())
	s := &pumped[T]{
		items:  queue.New(),
		notify: make(chan struct{}, 1),
		cancel: cancel,
	}

	go s.pump(ctx, pull)

	return s
}

func (s *pumped[T]) pump(ctx context.Context, pull func(context.Context) (T, bool, error)) {
	for {
		item, ok, err := pull(ctx)
		if ctx.Err() != nil {
			return
		}

		s.lock.Lock()
		switch {
		case err != nil:
			s.finished = true
			s.err = err
		case !ok:
			s.finished = true
		default:
			s.items.Add(item)
		}
		finished := s.finished
		s.lock.Unlock()

		s.signal()
		if finished {
			return
		}
	}
}

func (s *pumped[T]) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *pumped[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	for {
		s.lock.Lock()
		if s.end {
			s.lock.Unlock()
			return zero, false, nil
		}
		if s.items.Length() > 0 {
			item := s.items.Remove().(T)
			s.lock.Unlock()
			return item, true, nil
		}
		if s.finished {
			s.end = true
			err := s.err
			s.lock.Unlock()
			return zero, false, err
		}
		s.lock.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			s.Close()
			return zero, false, ctx.Err()
		}
	}
}

func (s *pumped[T]) Close() {
	s.lock.Lock()
	s.end = true
	s.lock.Unlock()
	s.cancel()
}
