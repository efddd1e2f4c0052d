package main

import (
	"runtime"
	"sync"
)

// poolResizer is the part of WorkerPool the scaler drives.
type poolResizer interface {
	Resize(n int, job *Job)
	Size() int
}

// ThreadScaler decides how many hash workers should run.
//
//	paused            -> 0
//	manual override   -> clamp(manual, 1, cores)
//	idle              -> cores
//	otherwise         -> max(1, cores/4)
type ThreadScaler struct {
	pool     poolResizer
	registry *JobRegistry
	cores    int

	mu     sync.Mutex
	manual int
	idle   bool
	paused bool
}

// NewThreadScaler caps the worker count at cores; cores <= 0 means
// runtime.NumCPU().
func NewThreadScaler(pool poolResizer, registry *JobRegistry, cores int) *ThreadScaler {
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	return &ThreadScaler{pool: pool, registry: registry, cores: max(1, cores)}
}

func (s *ThreadScaler) Cores() int { return s.cores }

func (s *ThreadScaler) Target() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetLocked()
}

func (s *ThreadScaler) targetLocked() int {
	if s.paused {
		return 0
	}
	if s.manual > 0 {
		return clampInt(s.manual, 1, s.cores)
	}
	if s.idle {
		return s.cores
	}
	return max(1, s.cores/4)
}

// Apply resizes the pool when the target differs from its size. Resizing to
// the same count would only throw away in-flight work.
func (s *ThreadScaler) Apply() (target int, resized bool) {
	target = s.Target()
	if s.pool.Size() == target {
		return target, false
	}
	var job *Job
	if s.registry != nil {
		job = s.registry.Current()
	}
	s.pool.Resize(target, job)
	return target, true
}

func (s *ThreadScaler) SetIdle(idle bool) {
	s.mu.Lock()
	s.idle = idle
	s.mu.Unlock()
}

func (s *ThreadScaler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

func (s *ThreadScaler) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

func (s *ThreadScaler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// SetManual pins the worker count; 0 returns to automatic scaling.
func (s *ThreadScaler) SetManual(n int) {
	s.mu.Lock()
	s.manual = max(0, n)
	s.mu.Unlock()
}

func (s *ThreadScaler) Manual() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manual
}

// AdjustThreads moves the manual override by delta, starting from whatever
// count is in effect now, and returns the new override.
func (s *ThreadScaler) AdjustThreads(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.manual
	if base <= 0 {
		base = s.automaticLocked()
	}
	s.manual = clampInt(base+delta, 1, s.cores)
	return s.manual
}

func (s *ThreadScaler) automaticLocked() int {
	if s.idle {
		return s.cores
	}
	return max(1, s.cores/4)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
