package main

import (
	"sync"
	"time"
)

type EngineEventType string

const (
	EventConnected      EngineEventType = "connected"
	EventDisconnected   EngineEventType = "disconnected"
	EventJob            EngineEventType = "job"
	EventDifficulty     EngineEventType = "difficulty"
	EventShareSubmitted EngineEventType = "share_submitted"
	EventShareAccepted  EngineEventType = "share_accepted"
	EventShareRejected  EngineEventType = "share_rejected"
	EventPaused         EngineEventType = "paused"
	EventResumed        EngineEventType = "resumed"
	EventThreads        EngineEventType = "threads"
)

// EngineEvent is what the engine tells the outside world. Only the fields
// relevant to Type are set.
type EngineEvent struct {
	Type       EngineEventType `json:"type"`
	Time       time.Time       `json:"time"`
	Addr       string          `json:"addr,omitempty"`
	Session    uint64          `json:"session,omitempty"`
	JobID      string          `json:"job_id,omitempty"`
	Height     uint64          `json:"height,omitempty"`
	Difficulty float64         `json:"difficulty,omitempty"`
	Target     string          `json:"target,omitempty"`
	CleanJobs  bool            `json:"clean_jobs,omitempty"`
	RequestID  uint64          `json:"request_id,omitempty"`
	Nonce      string          `json:"nonce,omitempty"`
	Result     string          `json:"result,omitempty"`
	WorkerID   int             `json:"worker_id,omitempty"`
	Code       int             `json:"code,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	RetryInMS  int64           `json:"retry_in_ms,omitempty"`
	Threads    int             `json:"threads,omitempty"`
}

// eventBus fans events out to subscribers. A subscriber that is not keeping
// up loses events instead of stalling the engine.
type eventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan EngineEvent
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan EngineEvent)}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes it.
func (b *eventBus) Subscribe(buffer int) (<-chan EngineEvent, func()) {
	if buffer <= 0 {
		buffer = engineEventBuffer
	}
	ch := make(chan EngineEvent, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *eventBus) Publish(ev EngineEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends every subscription.
func (b *eventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
