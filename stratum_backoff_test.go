package main

import (
	"context"
	"testing"
	"time"
)

func TestBackoffDelaySchedule(t *testing.T) {
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		300 * time.Second,
		300 * time.Second,
	}
	r := newRetryState(reconnectBaseDelay, reconnectMaxBackoff)
	for i, w := range want {
		if got := r.Next(); got != w {
			t.Fatalf("attempt %d: got %v want %v", i, got, w)
		}
	}
	if r.Attempt != len(want) {
		t.Fatalf("attempt counter=%d want %d", r.Attempt, len(want))
	}
	r.Reset()
	if got := r.Next(); got != 5*time.Second {
		t.Fatalf("after reset: got %v", got)
	}
}

func TestBackoffDelayNeverOverflows(t *testing.T) {
	if got := backoffDelay(reconnectBaseDelay, reconnectMaxBackoff, 1000); got != reconnectMaxBackoff {
		t.Fatalf("got %v want cap", got)
	}
	if got := backoffDelay(reconnectBaseDelay, reconnectMaxBackoff, -3); got != reconnectBaseDelay {
		t.Fatalf("negative attempt: got %v", got)
	}
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Hour); err == nil {
		t.Fatalf("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep ignored cancellation")
	}
}
