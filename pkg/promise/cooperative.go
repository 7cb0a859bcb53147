//go:build cooperative

package promise

import (
	"context"
	"sync"
	"sync/atomic"
)

// Model names the scheduling model compiled into this build.
const Model = "cooperative"

type lazy[T any] struct {
	consumed
	fn func(ctx context.Context) (T, error)
}

// New returns a promise that runs fn on the goroutine that resolves it.
func New[T any](fn func(ctx context.Context) (T, error)) Promise[T] {
	return &lazy[T]{fn: fn}
}

func (l *lazy[T]) Resolve(ctx context.Context) (T, error) {
	if err := l.take(); err != nil {
		var zero T
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	return l.fn(ctx)
}

type pulled[T any] struct {
	lock sync.Mutex
	pull func(ctx context.Context) (T, bool, error)
	end  atomic.Bool
}

// NewStream returns a stream that calls pull on the goroutine calling Next.
func NewStream[T any](pull func(ctx context.Context) (T, bool, error)) Stream[T] {
	return &pulled[T]{pull: pull}
}

func (p *pulled[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if p.end.Load() {
		return zero, false, nil
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	if p.end.Load() {
		return zero, false, nil
	}

	item, ok, err := p.pull(ctx)
	if err != nil || !ok {
		p.end.Store(true)
		return zero, false, err
	}
	return item, true, nil
}

// Close does not interrupt a pull already in progress.
func (p *pulled[T]) Close() {
	p.end.Store(true)
}
