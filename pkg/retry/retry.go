// Package retry provides the delay strategies used while waiting for a cluster
// to elect a primary replica.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/typedb/typedb-driver-go/pkg/constants"
)

// Retryer defines the interface for implementing retry strategies
type Retryer interface {
	// NextDelay returns the delay before the next retry attempt
	// attempt is 0-based (0 for first retry, 1 for second, etc.)
	// Returns the delay duration and whether to continue retrying
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
}

// ExponentialBackoffRetryer implements exponential backoff with jitter
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MaxRetries is the maximum number of retry attempts (0 for infinite)
	MaxRetries int

	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0).
	// Zero disables jitter.
	JitterFactor float64
}

func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     constants.PrimaryReplicaWaitDelay,
		Multiplier:   2.0,
		MaxRetries:   constants.FetchReplicasMaxRetries,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // jitter only
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

// FixedDelayRetryer waits the same delay between attempts.
type FixedDelayRetryer struct {
	Delay time.Duration

	// MaxRetries is the maximum number of retry attempts (0 for infinite)
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

// Default is the strategy used while a primary replica is being elected.
func Default() Retryer {
	return NewFixedDelayRetryer(constants.PrimaryReplicaWaitDelay, constants.FetchReplicasMaxRetries)
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

type permanent struct {
	err error
}

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, r gives up, or ctx
// is done. It returns the last error from fn.
func Do(ctx context.Context, r Retryer, fn func(attempt int) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}

		var p *permanent
		if errors.As(err, &p) {
			return p.err
		}

		delay, ok := r.NextDelay(attempt, err)
		if !ok {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
