package main

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

type idleMode string

const (
	idleModeAuto   idleMode = "auto"
	idleModeAlways idleMode = "always"
	idleModeNever  idleMode = "never"
)

func parseIdleMode(s string) (idleMode, error) {
	switch m := idleMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return idleModeAuto, nil
	case idleModeAuto, idleModeAlways, idleModeNever:
		return m, nil
	default:
		return "", fmt.Errorf("idle_mode %q: want auto, always or never", s)
	}
}

// loadSampler returns the 1-minute load average, or false when the platform
// has none.
type loadSampler func() (float64, bool)

// idleDetector turns load samples into an idle signal. The machine counts as
// idle once load per core, less the miner's own workers, has stayed under the
// threshold for quietFor.
type idleDetector struct {
	mode        idleMode
	quietFor    time.Duration
	loadPerCore float64
	cores       int
	sample      loadSampler
	// ownLoad reports how many runnable threads the miner itself contributes
	// to the load average. Nil means none.
	ownLoad  func() int
	interval time.Duration

	quietSince time.Time
	idle       bool
}

func newIdleDetector(mode idleMode, quietFor time.Duration, loadPerCore float64) *idleDetector {
	return &idleDetector{
		mode:        mode,
		quietFor:    quietFor,
		loadPerCore: loadPerCore,
		cores:       runtime.NumCPU(),
		sample:      systemLoadAverage,
		interval:    idlePollInterval,
	}
}

// observe feeds one sample taken at now and returns the idle state.
func (d *idleDetector) observe(now time.Time) bool {
	switch d.mode {
	case idleModeAlways:
		d.idle = true
		return true
	case idleModeNever:
		d.idle = false
		return false
	}
	load, ok := d.sample()
	if !ok || d.cores <= 0 {
		d.quietSince = time.Time{}
		d.idle = false
		return false
	}
	if d.ownLoad != nil {
		load = max(0, load-float64(d.ownLoad()))
	}
	if load/float64(d.cores) >= d.loadPerCore {
		d.quietSince = time.Time{}
		d.idle = false
		return false
	}
	if d.quietSince.IsZero() {
		d.quietSince = now
	}
	d.idle = now.Sub(d.quietSince) >= d.quietFor
	return d.idle
}

// Run polls until ctx is done and calls onChange on every transition,
// starting with the initial state.
func (d *idleDetector) Run(ctx context.Context, onChange func(idle bool)) {
	last := d.observe(time.Now())
	onChange(last)
	if d.mode != idleModeAuto {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if idle := d.observe(now); idle != last {
				last = idle
				onChange(idle)
			}
		}
	}
}
