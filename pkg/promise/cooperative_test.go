//go:build cooperative

package promise

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooperativeIsLazy(t *testing.T) {
	assert.Equal(t, "cooperative", Model)

	ran := false
	p := New(func(context.Context) (int, error) {
		ran = true
		return 1, nil
	})
	assert.False(t, ran)

	v, err := p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, ran)
}

func TestCooperativeStreamPullsOnDemand(t *testing.T) {
	pulls := 0
	s := NewStream(func(context.Context) (int, bool, error) {
		pulls++
		return pulls, true, nil
	})
	defer s.Close()

	assert.Equal(t, 0, pulls)

	v, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, pulls)
}

func TestCooperativeResolveWithCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(func(context.Context) (int, error) {
		t.Fatal("work must not run on a cancelled context")
		return 0, nil
	})

	_, err := p.Resolve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
