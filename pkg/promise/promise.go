// Package promise provides the deferred results and lazy sequences the rest of
// the driver is written against.
//
// Two scheduling models implement the same API and are selected at build time:
//
//   - the default worker-pool model runs work eagerly on a bounded pool of
//     goroutines; Resolve and Next block until a value is ready.
//   - the cooperative model (build tag "cooperative") runs nothing until it is
//     awaited; Resolve and Next do the work on the caller's goroutine.
//
// Model reports which one was compiled in.
package promise

import (
	"context"
	"sync/atomic"

	"github.com/typedb/typedb-driver-go/pkg/constants"
)

// Promise is a single-resolution deferred result.
type Promise[T any] interface {
	// Resolve waits for the result. It consumes the promise: a second call
	// returns constants.ErrPromiseConsumed.
	Resolve(ctx context.Context) (T, error)
}

// Stream is a forward-only, pull-based sequence.
type Stream[T any] interface {
	// Next returns the next item. ok is false once the stream is exhausted.
	// After exhaustion or after an error, Next keeps returning (zero, false, nil).
	Next(ctx context.Context) (item T, ok bool, err error)
	// Close abandons the stream. It is safe to call before exhaustion and more than once.
	Close()
}

// consumed guards single resolution.
type consumed struct {
	taken atomic.Bool
}

func (c *consumed) take() error {
	if !c.taken.CompareAndSwap(false, true) {
		return constants.ErrPromiseConsumed
	}
	return nil
}

type settled[T any] struct {
	consumed
	value T
	err   error
}

func (s *settled[T]) Resolve(context.Context) (T, error) {
	if err := s.take(); err != nil {
		var zero T
		return zero, err
	}
	return s.value, s.err
}

// Resolved returns a promise already holding v.
func Resolved[T any](v T) Promise[T] {
	return &settled[T]{value: v}
}

// Rejected returns a promise already holding err.
func Rejected[T any](err error) Promise[T] {
	return &settled[T]{err: err}
}

type awaited[T any] struct {
	consumed
	wait func(ctx context.Context) (T, error)
}

func (a *awaited[T]) Resolve(ctx context.Context) (T, error) {
	var zero T
	if err := a.take(); err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	return a.wait(ctx)
}

// Await returns a promise for a result produced elsewhere, such as a response
// arriving on a channel. wait runs on the goroutine that resolves the promise,
// in either scheduling model.
func Await[T any](wait func(ctx context.Context) (T, error)) Promise[T] {
	return &awaited[T]{wait: wait}
}

type mapped[T, U any] struct {
	consumed
	src Promise[T]
	fn  func(T) (U, error)
}

func (m *mapped[T, U]) Resolve(ctx context.Context) (U, error) {
	var zero U
	if err := m.take(); err != nil {
		return zero, err
	}

	v, err := m.src.Resolve(ctx)
	if err != nil {
		return zero, err
	}
	return m.fn(v)
}

// Map returns a promise that resolves p and applies fn to its value.
// p is consumed by the returned promise and must not be resolved directly.
func Map[T, U any](p Promise[T], fn func(T) (U, error)) Promise[U] {
	return &mapped[T, U]{src: p, fn: fn}
}

type mappedStream[T, U any] struct {
	src Stream[T]
	fn  func(T) (U, error)
	end atomic.Bool
}

func (m *mappedStream[T, U]) Next(ctx context.Context) (U, bool, error) {
	var zero U
	if m.end.Load() {
		return zero, false, nil
	}

	v, ok, err := m.src.Next(ctx)
	if err != nil || !ok {
		m.end.Store(true)
		return zero, false, err
	}

	u, err := m.fn(v)
	if err != nil {
		m.end.Store(true)
		m.src.Close()
		return zero, false, err
	}
	return u, true, nil
}

func (m *mappedStream[T, U]) Close() {
	m.end.Store(true)
	m.src.Close()
}

// MapStream applies fn to every item of s. An fn error ends the stream.
func MapStream[T, U any](s Stream[T], fn func(T) (U, error)) Stream[U] {
	return &mappedStream[T, U]{src: s, fn: fn}
}

// Collect drains s into a slice and closes it.
func Collect[T any](ctx context.Context, s Stream[T]) ([]T, error) {
	defer s.Close()

	var items []T
	for {
		item, ok, err := s.Next(ctx)
		if err != nil {
			return items, err
		}
		if !ok {
			return items, nil
		}
		items = append(items, item)
	}
}

// FromSlice returns a stream over items.
func FromSlice[T any](items []T) Stream[T] {
	i := 0
	return NewStream(func(context.Context) (T, bool, error) {
		var zero T
		if i >= len(items) {
			return zero, false, nil
		}
		i++
		return items[i-1], true, nil
	})
}
