//go:build !cooperative

package promise

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsEagerly(t *testing.T) {
	assert.Equal(t, "worker-pool", Model)

	started := make(chan struct{})
	p := New(func(context.Context) (int, error) {
		close(started)
		return 1, nil
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("work did not start before Resolve")
	}

	v, err := p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPoolStreamBuffersAhead(t *testing.T) {
	var pulled atomic.Int32
	s := NewStream(func(context.Context) (int32, bool, error) {
		n := pulled.Add(1)
		if n > 5 {
			return 0, false, nil
		}
		return n, true, nil
	})
	defer s.Close()

	require.Eventually(t, func() bool { return pulled.Load() > 5 }, time.Second, time.Millisecond)

	items, err := Collect(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, items)
}

func TestPoolStreamCloseStopsPump(t *testing.T) {
	stopped := make(chan struct{})
	s := NewStream(func(ctx context.Context) (int, bool, error) {
		<-ctx.Done()
		close(stopped)
		return 0, false, ctx.Err()
	})

	s.Close()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("pump kept running after Close")
	}
}

func TestWaitingDoesNotHoldWorkerSlots(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s := NewStream(func(ctx context.Context) (int, bool, error) {
		select {
		case <-release:
			return 0, false, nil
		case <-ctx.Done():
			return 0, false, ctx.Err()
		}
	})
	defer s.Close()

	a := Await(func(ctx context.Context) (int, error) {
		select {
		case <-release:
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	go func() { _, _ = a.Resolve(context.Background()) }()

	require.Eventually(t, func() bool {
		if !workers.TryAcquire(poolSize) {
			return false
		}
		workers.Release(poolSize)
		return true
	}, time.Second, time.Millisecond)

	v, err := New(func(context.Context) (int, error) { return 7, nil }).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
