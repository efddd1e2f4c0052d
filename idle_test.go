package main

import (
	"context"
	"testing"
	"time"
)

func TestParseIdleMode(t *testing.T) {
	for in, want := range map[string]idleMode{"": idleModeAuto, "AUTO": idleModeAuto, " always ": idleModeAlways, "never": idleModeNever} {
		got, err := parseIdleMode(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %q err=%v", in, got, err)
		}
	}
	if _, err := parseIdleMode("sometimes"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestIdleDetectorNeedsSustainedQuiet(t *testing.T) {
	load := 0.1
	d := newIdleDetector(idleModeAuto, time.Minute, 0.25)
	d.cores = 4
	d.sample = func() (float64, bool) { return load, true }

	t0 := time.Unix(1_700_000_000, 0)
	if d.observe(t0) {
		t.Fatalf("idle on the first quiet sample")
	}
	if d.observe(t0.Add(30 * time.Second)) {
		t.Fatalf("idle before quietFor elapsed")
	}
	if !d.observe(t0.Add(time.Minute)) {
		t.Fatalf("not idle after a quiet minute")
	}

	load = 2 // 0.5 per core
	if d.observe(t0.Add(61 * time.Second)) {
		t.Fatalf("still idle under load")
	}
	load = 0.1
	if d.observe(t0.Add(62 * time.Second)) {
		t.Fatalf("busy period did not restart the quiet window")
	}
}

func TestIdleDetectorWithoutLoadAverage(t *testing.T) {
	d := newIdleDetector(idleModeAuto, 0, 0.25)
	d.sample = func() (float64, bool) { return 0, false }
	if d.observe(time.Now()) {
		t.Fatalf("idle without a load sample")
	}
}

func TestIdleDetectorFixedModes(t *testing.T) {
	var got []bool
	newIdleDetector(idleModeAlways, time.Hour, 0).Run(context.Background(), func(idle bool) { got = append(got, idle) })
	newIdleDetector(idleModeNever, 0, 100).Run(context.Background(), func(idle bool) { got = append(got, idle) })
	if len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("fixed modes reported %v", got)
	}
}

func TestIdleDetectorRunReportsTransitions(t *testing.T) {
	loads := make(chan float64, 16)
	current := 0.0
	d := newIdleDetector(idleModeAuto, 0, 0.25)
	d.cores = 1
	d.interval = 5 * time.Millisecond
	d.sample = func() (float64, bool) {
		select {
		case current = <-loads:
		default:
		}
		return current, true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan bool, 16)
	go d.Run(ctx, func(idle bool) { changes <- idle })

	expect := func(want bool) {
		t.Helper()
		select {
		case got := <-changes:
			if got != want {
				t.Fatalf("got idle=%v want %v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no transition to idle=%v", want)
		}
	}
	expect(true)
	loads <- 5
	expect(false)
	loads <- 0
	expect(true)
}

// The miner's own workers show up in the load average; an otherwise quiet
// host must still be seen as idle and stay that way once scaled up.
func TestIdleDetectorDiscountsOwnWorkers(t *testing.T) {
	const cores = 8
	workers := cores / 4
	userLoad := 0.0

	d := newIdleDetector(idleModeAuto, time.Minute, 0.25)
	d.cores = cores
	d.sample = func() (float64, bool) { return float64(workers) + userLoad, true }
	d.ownLoad = func() int { return workers }

	t0 := time.Unix(1_700_000_000, 0)
	transitions := 0
	last := false
	for i := 0; i < 100; i++ {
		idle := d.observe(t0.Add(time.Duration(i) * 5 * time.Second))
		if idle != last {
			transitions++
			last = idle
		}
		if idle {
			workers = cores
		} else {
			workers = cores / 4
		}
	}
	if !last || workers != cores {
		t.Fatalf("quiet host not idle after 500s: idle=%v workers=%d", last, workers)
	}
	if transitions != 1 {
		t.Fatalf("idle signal flapped: %d transitions", transitions)
	}

	userLoad = 4 // 0.5 per core from someone else
	if d.observe(t0.Add(501 * time.Second)) {
		t.Fatalf("still idle with user load on top of the miner")
	}
}

func TestIdleDetectorOwnLoadNeverNegative(t *testing.T) {
	d := newIdleDetector(idleModeAuto, 0, 0.25)
	d.cores = 4
	d.sample = func() (float64, bool) { return 1, true }
	d.ownLoad = func() int { return 4 }
	if !d.observe(time.Now()) {
		t.Fatalf("load below the miner's own share should count as idle")
	}
}
