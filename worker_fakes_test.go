package main

import (
	"sync"
)

// fakeWorker records the control messages a pool sends it.
type fakeWorker struct {
	id         int
	stride     int
	generation uint64
	reports    chan<- workerReport

	mu      sync.Mutex
	sent    []workerControl
	stopped bool
}

func (w *fakeWorker) Send(msg workerControl) {
	w.mu.Lock()
	w.sent = append(w.sent, msg)
	w.mu.Unlock()
}

func (w *fakeWorker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}

func (w *fakeWorker) messages() []workerControl {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]workerControl(nil), w.sent...)
}

func (w *fakeWorker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *fakeWorker) lastJob() *Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.sent) - 1; i >= 0; i-- {
		if w.sent[i].Kind == controlJob {
			return w.sent[i].Job
		}
	}
	return nil
}

type fakeWorkerFactory struct {
	mu      sync.Mutex
	workers []*fakeWorker
}

func (f *fakeWorkerFactory) spawn(id, stride int, generation uint64, reports chan<- workerReport) workerUnit {
	w := &fakeWorker{id: id, stride: stride, generation: generation, reports: reports}
	f.mu.Lock()
	f.workers = append(f.workers, w)
	f.mu.Unlock()
	return w
}

// live returns the workers of the newest generation.
func (f *fakeWorkerFactory) live() []*fakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	var gen uint64
	for _, w := range f.workers {
		gen = max(gen, w.generation)
	}
	var out []*fakeWorker
	for _, w := range f.workers {
		if w.generation == gen {
			out = append(out, w)
		}
	}
	return out
}

func (f *fakeWorkerFactory) all() []*fakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeWorker(nil), f.workers...)
}
