package main

import (
	"context"
	"time"
)

// retryState is the reconnect bookkeeping for one client. It is reset when a
// connection reaches Ready and grows by doubling until it hits the ceiling.
type retryState struct {
	Attempt   int
	LastDelay time.Duration
	base      time.Duration
	max       time.Duration
}

func newRetryState(base, max time.Duration) retryState {
	if base <= 0 {
		base = reconnectBaseDelay
	}
	if max <= 0 {
		max = reconnectMaxBackoff
	}
	return retryState{base: base, max: max}
}

// backoffDelay returns min(max, base*2^attempt) without overflowing.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Next computes the delay for the current attempt and advances the counter.
func (r *retryState) Next() time.Duration {
	r.LastDelay = backoffDelay(r.base, r.max, r.Attempt)
	r.Attempt++
	return r.LastDelay
}

func (r *retryState) Reset() {
	r.Attempt = 0
	r.LastDelay = 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
