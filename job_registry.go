package main

import (
	"sync/atomic"
)

// JobRegistry holds the most recent job. The engine is the only writer;
// workers and the submit path read it through atomic loads.
type JobRegistry struct {
	cur     atomic.Pointer[Job]
	updates atomic.Uint64
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{}
}

// Set replaces the current job and returns the one it superseded.
func (r *JobRegistry) Set(job *Job) *Job {
	prev := r.cur.Swap(job)
	if job != nil {
		r.updates.Add(1)
	}
	return prev
}

func (r *JobRegistry) Current() *Job {
	return r.cur.Load()
}

// IsCurrent reports whether jobID names the registered job.
func (r *JobRegistry) IsCurrent(jobID string) bool {
	job := r.cur.Load()
	return job != nil && job.ID == jobID
}

// Clear forgets the current job, e.g. after the connection that issued it
// has gone away.
func (r *JobRegistry) Clear() {
	r.cur.Store(nil)
}

func (r *JobRegistry) Updates() uint64 {
	return r.updates.Load()
}
