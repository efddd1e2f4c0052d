package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hako/durafmt"
)

var errUnknownAlgorithm = errors.New("unknown algorithm")

type engineOptions struct {
	Addr       string
	Identity   string
	Credential string
	Algorithm  string
	Agent      string

	// Cores caps the worker count; 0 means every CPU.
	Cores         int
	ManualThreads int
	StartPaused   bool

	DialTimeout time.Duration
	ReadTimeout time.Duration
	KeepAlive   time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Dial        dialFunc

	// WorkerFactory replaces the hash workers, mainly in tests.
	WorkerFactory workerFactory
}

// EngineStats is a point-in-time view for logs and the status API.
type EngineStats struct {
	State         string  `json:"state"`
	Addr          string  `json:"addr"`
	Algorithm     string  `json:"algorithm"`
	Variant       string  `json:"variant"`
	Kernel        string  `json:"kernel"`
	Session       uint64  `json:"session"`
	RetryAttempt  int     `json:"retry_attempt"`
	RTTMillis     float64 `json:"rtt_ms"`
	JobID         string  `json:"job_id"`
	JobsReceived  uint64  `json:"jobs_received"`
	Height        uint64  `json:"height,omitempty"`
	Difficulty    float64 `json:"difficulty"`
	Hashrate      float64 `json:"hashrate"`
	Workers       int     `json:"workers"`
	TargetThreads int     `json:"target_threads"`
	ManualThreads int     `json:"manual_threads"`
	Cores         int     `json:"cores"`
	Paused        bool    `json:"paused"`
	Idle          bool    `json:"idle"`
	SharesFound   uint64  `json:"shares_found"`
	Submitted     uint64  `json:"shares_submitted"`
	Accepted      uint64  `json:"shares_accepted"`
	Rejected      uint64  `json:"shares_rejected"`
	Stale         uint64  `json:"shares_stale"`
	Duplicate     uint64  `json:"shares_duplicate"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type engineCommand func(e *MiningEngine)

// MiningEngine wires the pool connection to the hash workers. All
// scheduling decisions happen on the Run goroutine; other goroutines reach
// it through commands.
type MiningEngine struct {
	opts     engineOptions
	client   *StratumClient
	registry *JobRegistry
	pool     *WorkerPool
	scaler   *ThreadScaler
	dedupe   *shareDedupe
	bus      *eventBus
	commands chan engineCommand
	done     chan struct{}

	// Owned by Run.
	pending map[uint64]Share

	statsMu    sync.Mutex
	stats      EngineStats
	startedAt  time.Time
	runStarted bool
}

func NewMiningEngine(opts engineOptions) (*MiningEngine, error) {
	algo := strings.TrimSpace(opts.Algorithm)
	if algo == "" {
		return nil, fmt.Errorf("%w: empty", errUnknownAlgorithm)
	}
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("pool address is required")
	}
	if opts.Agent == "" {
		opts.Agent = minerAgent
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = reconnectBaseDelay
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = reconnectMaxBackoff
	}
	variant := variantForAlgorithm(algo)
	kernel, native := kernelForAlgorithm(algo)
	if !native {
		logger.Warn("no built-in kernel for algorithm, hashing with sha256d; shares will not validate",
			"algorithm", algo, "kernel", kernel.Name())
	}
	factory := opts.WorkerFactory
	if factory == nil {
		factory = newHashWorkerFactory(kernel)
	}

	codec := newStratumCodec(variant, opts.Agent)
	client := NewStratumClient(codec, stratumClientOptions{
		Addr:        opts.Addr,
		Identity:    opts.Identity,
		Credential:  opts.Credential,
		Dial:        opts.Dial,
		DialTimeout: opts.DialTimeout,
		ReadTimeout: opts.ReadTimeout,
		KeepAlive:   opts.KeepAlive,
		BaseBackoff: opts.BaseBackoff,
		MaxBackoff:  opts.MaxBackoff,
	})

	registry := NewJobRegistry()
	pool := NewWorkerPool(factory)
	scaler := NewThreadScaler(pool, registry, opts.Cores)
	if opts.ManualThreads > 0 {
		scaler.SetManual(opts.ManualThreads)
	}
	if opts.StartPaused {
		scaler.SetPaused(true)
	}

	e := &MiningEngine{
		opts:     opts,
		client:   client,
		registry: registry,
		pool:     pool,
		scaler:   scaler,
		dedupe:   newShareDedupe(duplicateShareCacheSize),
		bus:      newEventBus(),
		commands: make(chan engineCommand),
		done:     make(chan struct{}),
		pending:  make(map[uint64]Share),
	}
	e.stats.Addr = opts.Addr
	e.stats.Algorithm = algo
	e.stats.Variant = variant.String()
	e.stats.Kernel = kernel.Name()
	e.stats.Cores = scaler.Cores()
	return e, nil
}

// Subscribe delivers future engine events. Slow subscribers lose events.
func (e *MiningEngine) Subscribe(buffer int) (<-chan EngineEvent, func()) {
	return e.bus.Subscribe(buffer)
}

// Run mines until ctx is cancelled or Stop is called.
func (e *MiningEngine) Run(ctx context.Context) error {
	e.statsMu.Lock()
	if e.runStarted {
		e.statsMu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.runStarted = true
	e.startedAt = time.Now()
	e.statsMu.Unlock()

	defer close(e.done)
	defer e.bus.Close()
	defer e.pool.Close()

	// Workers start idle and receive the first job when it arrives.
	e.pool.Pause()
	e.applyThreads()

	clientDone := make(chan error, 1)
	go func() { clientDone <- e.client.Run(ctx) }()

	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()

	events := e.client.Events()
	for {
		select {
		case <-ctx.Done():
			e.client.Stop()
			<-clientDone
			return nil
		case ev, ok := <-events:
			if !ok {
				err := <-clientDone
				if errors.Is(err, errClientStopped) {
					return nil
				}
				return err
			}
			e.handleClientEvent(ev)
		case r := <-e.pool.Reports():
			e.handleReport(r)
		case cmd := <-e.commands:
			cmd(e)
		case <-ticker.C:
			e.logStatus()
		}
	}
}

// Stop disconnects for good and makes Run return.
func (e *MiningEngine) Stop() {
	e.client.Stop()
}

// do runs fn on the Run goroutine and waits for it. It reports false when
// the engine is not running.
func (e *MiningEngine) do(fn engineCommand) bool {
	finished := make(chan struct{})
	select {
	case e.commands <- func(e *MiningEngine) {
		defer close(finished)
		fn(e)
	}:
	case <-e.done:
		return false
	}
	<-finished
	return true
}

func (e *MiningEngine) handleClientEvent(ev clientEvent) {
	switch ev.Kind {
	case clientConnected:
		e.pending = make(map[uint64]Share)
		e.updateStats(func(s *EngineStats) {
			s.Session = ev.Session
		})
		e.bus.Publish(EngineEvent{Type: EventConnected, Addr: ev.Addr, Session: ev.Session})
	case clientDisconnected:
		// Work from a dead connection cannot be submitted anywhere.
		e.registry.Clear()
		e.pool.Forget()
		e.pool.Pause()
		e.pending = make(map[uint64]Share)
		e.updateStats(func(s *EngineStats) {
			s.JobID = ""
			s.Height = 0
		})
		reason := ""
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		e.bus.Publish(EngineEvent{
			Type:      EventDisconnected,
			Addr:      ev.Addr,
			Reason:    reason,
			RetryInMS: ev.RetryIn.Milliseconds(),
		})
	case clientMessage:
		e.handleMessage(ev.Session, ev.Msg)
	}
}

func (e *MiningEngine) handleMessage(session uint64, msg inboundMessage) {
	switch m := msg.(type) {
	case subscribedMsg:
		logger.Info("subscribed", "extranonce1", m.ExtraNonce1, "extranonce2_size", m.ExtraNonce2Size)
	case authorizedMsg:
		if m.OK {
			logger.Info("authorized", "identity", e.opts.Identity)
		} else {
			logger.Error("pool rejected credentials", "identity", e.opts.Identity, "reason", m.Reason)
		}
	case jobMsg:
		if m.FromLogin {
			logger.Info("login accepted", "identity", e.opts.Identity)
		}
		e.applyJob(session, m.Job)
	case difficultyMsg:
		e.updateStats(func(s *EngineStats) { s.Difficulty = m.Value })
		logger.Info("difficulty changed", "difficulty", m.Value)
		e.bus.Publish(EngineEvent{Type: EventDifficulty, Difficulty: m.Value})
	case shareAcceptedMsg:
		share, known := e.takePending(m.RequestID)
		e.updateStats(func(s *EngineStats) { s.Accepted++ })
		logger.Info("share accepted", "request_id", m.RequestID, "job", share.JobID)
		ev := EngineEvent{Type: EventShareAccepted, RequestID: m.RequestID}
		if known {
			ev.JobID, ev.Nonce, ev.WorkerID, ev.Difficulty = share.JobID, share.Nonce, share.WorkerID, share.Difficulty
		}
		e.bus.Publish(ev)
	case shareRejectedMsg:
		share, known := e.takePending(m.RequestID)
		e.updateStats(func(s *EngineStats) { s.Rejected++ })
		logger.Warn("share rejected", "request_id", m.RequestID, "code", m.Code, "reason", m.Reason, "job", share.JobID)
		ev := EngineEvent{Type: EventShareRejected, RequestID: m.RequestID, Code: m.Code, Reason: m.Reason}
		if known {
			ev.JobID, ev.Nonce, ev.WorkerID, ev.Difficulty = share.JobID, share.Nonce, share.WorkerID, share.Difficulty
		}
		e.bus.Publish(ev)
	case otherMsg:
		if debugLogging {
			logger.Debug("unhandled stratum message", "method", m.Method, "raw", truncateForLog(m.Raw, 256))
		}
	}
}

func (e *MiningEngine) takePending(id uint64) (Share, bool) {
	share, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	return share, ok
}

// applyJob registers job and makes sure every live worker holds it.
func (e *MiningEngine) applyJob(session uint64, job *Job) {
	if job == nil {
		return
	}
	e.registry.Set(job)
	if _, resized := e.applyThreads(); !resized {
		e.pool.Broadcast(job)
	}
	e.pool.Resume()

	e.updateStats(func(s *EngineStats) {
		s.JobID = job.ID
		s.Height = job.Height
		if job.Difficulty > 0 {
			s.Difficulty = job.Difficulty
		}
	})
	logger.Info("new job", "job", job.ID, "height", job.Height, "difficulty", job.Difficulty, "clean", job.CleanJobs)
	e.bus.Publish(EngineEvent{
		Type:       EventJob,
		Session:    session,
		JobID:      job.ID,
		Height:     job.Height,
		Difficulty: job.Difficulty,
		Target:     targetHex(job.Target),
		CleanJobs:  job.CleanJobs,
	})
}

func (e *MiningEngine) handleReport(r workerReport) {
	if !e.pool.Accept(r) {
		return
	}
	switch r.Kind {
	case reportHashrate:
	case reportSubmit:
		e.submitShare(r.Share)
	case reportLog:
		logger.Info("worker", "worker", r.WorkerID, "message", r.Text)
	}
}

// submitShare relays a worker's share. Shares for a superseded job and
// repeats of an already submitted share never reach the wire.
func (e *MiningEngine) submitShare(share Share) {
	e.updateStats(func(s *EngineStats) { s.SharesFound++ })
	if !e.registry.IsCurrent(share.JobID) {
		e.updateStats(func(s *EngineStats) { s.Stale++ })
		if debugLogging {
			logger.Debug("dropping stale share", "job", share.JobID, "worker", share.WorkerID)
		}
		return
	}
	if e.dedupe.seenOrAdd(share) {
		e.updateStats(func(s *EngineStats) { s.Duplicate++ })
		if debugLogging {
			logger.Debug("dropping duplicate share", "job", share.JobID, "nonce", share.Nonce)
		}
		return
	}
	id, err := e.client.Submit(share)
	if err != nil {
		logger.Warn("share submit failed", "job", share.JobID, "error", err)
		return
	}
	e.pending[id] = share
	e.updateStats(func(s *EngineStats) { s.Submitted++ })
	logger.Info("share submitted", "job", share.JobID, "nonce", share.Nonce, "worker", share.WorkerID, "difficulty", share.Difficulty)
	e.bus.Publish(EngineEvent{
		Type:       EventShareSubmitted,
		RequestID:  id,
		JobID:      share.JobID,
		Nonce:      share.Nonce,
		Result:     share.Result,
		WorkerID:   share.WorkerID,
		Difficulty: share.Difficulty,
	})
}

func (e *MiningEngine) applyThreads() (int, bool) {
	target, resized := e.scaler.Apply()
	if resized {
		logger.Info("worker count changed", "threads", target, "idle", e.scaler.Idle(), "paused", e.scaler.Paused(), "manual", e.scaler.Manual())
	}
	return target, resized
}

// TogglePause flips the user pause and reports the new state.
func (e *MiningEngine) TogglePause() bool {
	var paused bool
	e.do(func(e *MiningEngine) {
		paused = !e.scaler.Paused()
		e.scaler.SetPaused(paused)
		target, _ := e.applyThreads()
		evType := EventResumed
		if paused {
			evType = EventPaused
		}
		e.bus.Publish(EngineEvent{Type: evType, Threads: target})
	})
	return paused
}

// AdjustThreads moves the worker count by delta and pins it there.
func (e *MiningEngine) AdjustThreads(delta int) int {
	var manual int
	e.do(func(e *MiningEngine) {
		manual = e.scaler.AdjustThreads(delta)
		target, _ := e.applyThreads()
		e.bus.Publish(EngineEvent{Type: EventThreads, Threads: target})
	})
	return manual
}

// SetThreads pins the worker count; 0 restores automatic scaling.
func (e *MiningEngine) SetThreads(n int) int {
	var target int
	e.do(func(e *MiningEngine) {
		e.scaler.SetManual(n)
		target, _ = e.applyThreads()
		e.bus.Publish(EngineEvent{Type: EventThreads, Threads: target})
	})
	return target
}

// SetIdle feeds the system idle signal into worker scaling.
func (e *MiningEngine) SetIdle(idle bool) {
	e.do(func(e *MiningEngine) {
		if e.scaler.Idle() == idle {
			return
		}
		e.scaler.SetIdle(idle)
		logger.Info("idle state changed", "idle", idle)
		e.applyThreads()
	})
}

func (e *MiningEngine) updateStats(fn func(s *EngineStats)) {
	e.statsMu.Lock()
	fn(&e.stats)
	e.statsMu.Unlock()
}

// BusyWorkers is the number of hash workers currently using a core.
func (e *MiningEngine) BusyWorkers() int {
	if e.pool.Paused() {
		return 0
	}
	return e.pool.Size()
}

func (e *MiningEngine) Stats() EngineStats {
	e.statsMu.Lock()
	s := e.stats
	started := e.startedAt
	e.statsMu.Unlock()

	s.State = e.client.State().String()
	s.RetryAttempt = e.client.RetryAttempt()
	s.RTTMillis = e.client.RTTMillis()
	s.JobsReceived = e.registry.Updates()
	s.Hashrate = e.pool.Hashrate()
	s.Workers = e.pool.Size()
	s.TargetThreads = e.scaler.Target()
	s.ManualThreads = e.scaler.Manual()
	s.Paused = e.scaler.Paused()
	s.Idle = e.scaler.Idle()
	if !started.IsZero() {
		s.UptimeSeconds = time.Since(started).Seconds()
	}
	return s
}

func (e *MiningEngine) logStatus() {
	s := e.Stats()
	uptime := durafmt.Parse(time.Duration(s.UptimeSeconds * float64(time.Second))).LimitFirstN(2).String()
	logger.Info("status",
		"state", s.State,
		"hashrate", formatHashrate(s.Hashrate),
		"workers", s.Workers,
		"job", s.JobID,
		"difficulty", s.Difficulty,
		"accepted", s.Accepted,
		"rejected", s.Rejected,
		"stale", s.Stale,
		"uptime", uptime)
}

func formatHashrate(hps float64) string {
	units := []string{"H/s", "kH/s", "MH/s", "GH/s", "TH/s"}
	i := 0
	for hps >= 1000 && i < len(units)-1 {
		hps /= 1000
		i++
	}
	return fmt.Sprintf("%.2f %s", hps, units[i])
}
