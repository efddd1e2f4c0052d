package main

import (
	"sync"
)

// WorkerPool owns the hashing workers. Resize is the only way workers come
// and go: it stops every worker and spawns a fresh generation. Reports from
// an older generation are discarded by Accept, so callers see either the old
// set or the new one and never a mix.
type WorkerPool struct {
	factory workerFactory
	reports chan workerReport

	mu         sync.Mutex
	workers    []workerUnit
	generation uint64
	job        *Job
	paused     bool
	hashrate   map[int]float64
	closed     bool
}

func NewWorkerPool(factory workerFactory) *WorkerPool {
	return &WorkerPool{
		factory:  factory,
		reports:  make(chan workerReport, workerReportBuffer),
		hashrate: make(map[int]float64),
	}
}

// Reports is the single channel every generation writes to.
func (p *WorkerPool) Reports() <-chan workerReport {
	return p.reports
}

// Resize terminates all workers and spawns n new ones. Each receives job
// immediately when it is non-nil. Concurrent calls serialise; the last one
// to take the lock decides the final size.
func (p *WorkerPool) Resize(n int, job *Job) {
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.stopAllLocked()
	p.generation++
	if job != nil {
		p.job = job
	}
	p.workers = make([]workerUnit, 0, n)
	for i := 0; i < n; i++ {
		w := p.factory(i, n, p.generation, p.reports)
		if p.paused {
			w.Send(workerControl{Kind: controlPause})
		}
		if p.job != nil {
			w.Send(workerControl{Kind: controlJob, Job: p.job})
		}
		p.workers = append(p.workers, w)
	}
	logger.Debug("worker pool resized", "workers", n, "generation", p.generation)
}

func (p *WorkerPool) stopAllLocked() {
	for _, w := range p.workers {
		w.Stop()
	}
	p.workers = nil
	clear(p.hashrate)
}

// Broadcast hands job to every live worker and remembers it for the next
// spawn.
func (p *WorkerPool) Broadcast(job *Job) {
	if job == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job = job
	for _, w := range p.workers {
		w.Send(workerControl{Kind: controlJob, Job: job})
	}
}

// Pause stops hashing without discarding workers. It is idempotent.
func (p *WorkerPool) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.paused = true
	for _, w := range p.workers {
		w.Send(workerControl{Kind: controlPause})
	}
	clear(p.hashrate)
}

func (p *WorkerPool) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	for _, w := range p.workers {
		w.Send(workerControl{Kind: controlResume})
	}
}

func (p *WorkerPool) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Forget drops the remembered job so that the next Resize spawns idle
// workers. Used when the connection that issued it is gone.
func (p *WorkerPool) Forget() {
	p.mu.Lock()
	p.job = nil
	p.mu.Unlock()
}

// Accept reports whether r belongs to the live generation and records its
// hashrate sample. Callers drop reports for which it returns false.
func (p *WorkerPool) Accept(r workerReport) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.Generation != p.generation || p.closed {
		return false
	}
	if r.Kind == reportHashrate {
		if p.paused {
			return false
		}
		p.hashrate[r.WorkerID] = r.Hashrate
	}
	return true
}

// Hashrate is the sum of the latest sample from every live worker.
func (p *WorkerPool) Hashrate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total float64
	for _, v := range p.hashrate {
		total += v
	}
	return total
}

func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *WorkerPool) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Close stops every worker. The reports channel stays open; nothing writes
// to it afterwards.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.stopAllLocked()
	p.closed = true
	p.generation++
}
