// Package retry is the one retry loop used across the daemon. The HTTP
// client, the device-flow poller and the mirror engine all express their
// policies as a Policy; the loop itself is github.com/juju/retry.
package retry

import (
	"context"
	"time"

	"github.com/juju/clock"
	jujuretry "github.com/juju/retry"
)

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	// Attempts is the total number of tries, including the first. Values below 1 mean 1.
	Attempts int
	// Backoff returns the wait before attempt number attempt+1, given the
	// error attempt produced. attempt counts from 1.
	Backoff func(attempt int, err error) time.Duration
	// Retryable reports whether err is worth another try. Nil retries everything.
	Retryable func(err error) bool
	// Sleep waits for d or until ctx is done. Nil uses Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempts run out. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	})
	return err
}

func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	stop, cancel := context.WithCancel(ctx)
	defer cancel()

	waiter := &sleepClock{Clock: clock.WallClock, ctx: stop, cancel: cancel, sleep: p.Sleep}
	if waiter.sleep == nil {
		waiter.sleep = Sleep
	}

	var (
		value   T
		lastErr error
		attempt int
	)
	err := jujuretry.Call(jujuretry.CallArgs{
		Func: func() error {
			attempt++
			if err := ctx.Err(); err != nil {
				lastErr = err
				return err
			}
			v, err := op(ctx, attempt)
			if err != nil {
				lastErr = err
				return err
			}
			value = v
			return nil
		},
		IsFatalError: func(err error) bool {
			return p.Retryable != nil && !p.Retryable(err)
		},
		Attempts: max(p.Attempts, 1),
		// Call rejects a zero Delay. BackoffFunc replaces it before every wait.
		Delay: time.Nanosecond,
		BackoffFunc: func(_ time.Duration, n int) time.Duration {
			if p.Backoff == nil {
				return 0
			}
			return p.Backoff(n, lastErr)
		},
		Clock: waiter,
		Stop:  stop.Done(),
	})

	var zero T
	switch {
	case err == nil:
		return value, nil
	case waiter.err != nil:
		return zero, waiter.err
	case jujuretry.IsRetryStopped(err) && ctx.Err() != nil:
		return zero, ctx.Err()
	case lastErr != nil:
		return zero, lastErr
	default:
		return zero, err
	}
}

// sleepClock routes the waits of jujuretry.Call through a Sleep func so
// tests can record them. A failed sleep cancels the loop through Stop.
type sleepClock struct {
	clock.Clock
	ctx    context.Context
	cancel context.CancelFunc
	sleep  func(ctx context.Context, d time.Duration) error
	err    error
}

func (c *sleepClock) After(d time.Duration) <-chan time.Time {
	fired := make(chan time.Time, 1)
	if err := c.sleep(c.ctx, d); err != nil {
		c.err = err
		c.cancel()
		return fired
	}
	fired <- c.Now()
	return fired
}

// Exponential doubles from base on each attempt, capped at limit when limit > 0.
func Exponential(base, limit time.Duration) func(int, error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if limit > 0 && d >= limit {
				return limit
			}
		}
		return d
	}
}

// Ladder waits steps[attempt-1], repeating the last step once the ladder runs out.
func Ladder(steps ...time.Duration) func(int, error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		if len(steps) == 0 {
			return 0
		}
		if attempt > len(steps) {
			return steps[len(steps)-1]
		}
		return steps[attempt-1]
	}
}

// Sleep waits for d unless ctx finishes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
