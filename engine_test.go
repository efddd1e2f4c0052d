package main

import (
	"bufio"
	"context"
	stdjson "encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// fakePool is the server end of a net.Pipe. Every line the miner writes is
// delivered on lines.
type fakePool struct {
	conn  net.Conn
	lines chan map[string]any
}

func newFakePool(t *testing.T, conn net.Conn) *fakePool {
	t.Helper()
	p := &fakePool{conn: conn, lines: make(chan map[string]any, 64)}
	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				close(p.lines)
				return
			}
			var req map[string]any
			if err := stdjson.Unmarshal(line, &req); err == nil {
				p.lines <- req
			}
		}
	}()
	return p
}

func (p *fakePool) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case req, ok := <-p.lines:
		if !ok {
			t.Fatalf("pool connection closed")
		}
		return req
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a request")
	}
	return nil
}

func (p *fakePool) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case req, ok := <-p.lines:
		if ok {
			t.Fatalf("unexpected request: %v", req)
		}
	case <-time.After(d):
	}
}

func (p *fakePool) send(t *testing.T, line string) {
	t.Helper()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := p.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("pool write: %v", err)
	}
}

// pipeDialer hands out one end of a pipe on the first dial and blocks
// afterwards until the context ends.
func pipeDialer(conn net.Conn) dialFunc {
	used := make(chan struct{}, 1)
	used <- struct{}{}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		select {
		case <-used:
			return conn, nil
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func waitEvent(t *testing.T, events <-chan EngineEvent, want EngineEventType) EngineEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

type engineHarness struct {
	engine  *MiningEngine
	pool    *fakePool
	factory *fakeWorkerFactory
	events  <-chan EngineEvent
	cancel  context.CancelFunc
	done    chan error
}

func startEngine(t *testing.T) *engineHarness {
	t.Helper()
	server, client := net.Pipe()
	f := &fakeWorkerFactory{}
	e, err := NewMiningEngine(engineOptions{
		Addr:          "pool.test:3333",
		Identity:      "wallet",
		Credential:    "x",
		Algorithm:     "RandomX",
		Cores:         8,
		BaseBackoff:   10 * time.Millisecond,
		Dial:          pipeDialer(client),
		WorkerFactory: f.spawn,
	})
	if err != nil {
		t.Fatalf("NewMiningEngine: %v", err)
	}
	events, _ := e.Subscribe(256)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	h := &engineHarness{engine: e, pool: newFakePool(t, server), factory: f, events: events, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		_ = server.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("engine did not stop")
		}
	})
	return h
}

func (h *engineHarness) login(t *testing.T, jobID string) {
	t.Helper()
	req := h.pool.next(t)
	if req["method"] != "login" {
		t.Fatalf("expected login, got %v", req)
	}
	h.pool.send(t, `{"id":1,"jsonrpc":"2.0","error":null,"result":{"id":"sess-1","status":"OK","job":{"blob":"`+
		strings.Repeat("0a", 76)+`","job_id":"`+jobID+`","target":"f3220000","height":100}}}`)
	waitEvent(t, h.events, EventJob)
}

func (h *engineHarness) inject(share Share) {
	h.factory.live()[0].reports <- workerReport{
		Kind:       reportSubmit,
		WorkerID:   share.WorkerID,
		Generation: h.engine.pool.Generation(),
		Share:      share,
	}
}

func TestEngineSubmitsExactlyOneShare(t *testing.T) {
	h := startEngine(t)
	waitEvent(t, h.events, EventConnected)
	h.login(t, "j1")

	if got := h.engine.SetThreads(4); got != 4 {
		t.Fatalf("SetThreads returned %d", got)
	}
	live := h.factory.live()
	if len(live) != 4 {
		t.Fatalf("expected 4 workers, got %d", len(live))
	}
	for _, w := range live {
		if job := w.lastJob(); job == nil || job.ID != "j1" {
			t.Fatalf("worker %d missing job j1", w.id)
		}
	}

	share := Share{JobID: "j1", Nonce: "01000000", Result: strings.Repeat("00", 32), WorkerID: 0}
	h.inject(share)
	h.inject(share)
	h.inject(Share{JobID: "gone", Nonce: "02000000", Result: strings.Repeat("00", 32)})

	req := h.pool.next(t)
	if req["method"] != "submit" {
		t.Fatalf("expected submit, got %v", req)
	}
	params := req["params"].(map[string]any)
	if params["id"] != "sess-1" || params["job_id"] != "j1" || params["nonce"] != "01000000" {
		t.Fatalf("unexpected submit params: %v", params)
	}
	h.pool.expectQuiet(t, 200*time.Millisecond)

	submitted := waitEvent(t, h.events, EventShareSubmitted)
	id := submitted.RequestID
	h.pool.send(t, `{"id":`+idString(id)+`,"jsonrpc":"2.0","error":null,"result":{"status":"OK"}}`)
	accepted := waitEvent(t, h.events, EventShareAccepted)
	if accepted.JobID != "j1" || accepted.Nonce != "01000000" {
		t.Fatalf("accepted event not matched to share: %+v", accepted)
	}

	st := h.engine.Stats()
	if st.Submitted != 1 || st.Accepted != 1 || st.Duplicate != 1 || st.Stale != 1 || st.SharesFound != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.State != stateReady.String() || st.JobID != "j1" || st.Variant != "login" || st.JobsReceived != 1 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestEngineDisconnectDropsJob(t *testing.T) {
	h := startEngine(t)
	h.login(t, "j1")

	_ = h.pool.conn.Close()
	ev := waitEvent(t, h.events, EventDisconnected)
	if ev.RetryInMS <= 0 {
		t.Fatalf("disconnect event without retry delay: %+v", ev)
	}
	st := h.engine.Stats()
	if st.JobID != "" {
		t.Fatalf("job survived disconnect: %q", st.JobID)
	}
	if h.engine.registry.Current() != nil {
		t.Fatalf("registry still holds a job")
	}
	if !h.engine.pool.Paused() {
		t.Fatalf("workers still hashing after disconnect")
	}
	if got := h.engine.BusyWorkers(); got != 0 {
		t.Fatalf("paused workers counted as busy: %d", got)
	}
}

func TestEngineTogglePause(t *testing.T) {
	h := startEngine(t)
	h.login(t, "j1")
	before := h.engine.Stats().Workers
	if before == 0 {
		t.Fatalf("no workers after job")
	}

	if !h.engine.TogglePause() {
		t.Fatalf("first toggle should pause")
	}
	ev := waitEvent(t, h.events, EventPaused)
	if ev.Threads != 0 || h.engine.Stats().Workers != 0 {
		t.Fatalf("pause left workers running: %+v", ev)
	}

	if h.engine.TogglePause() {
		t.Fatalf("second toggle should resume")
	}
	waitEvent(t, h.events, EventResumed)
	if got := h.engine.Stats().Workers; got != before {
		t.Fatalf("resume restored %d workers, want %d", got, before)
	}
	for _, w := range h.factory.live() {
		if job := w.lastJob(); job == nil || job.ID != "j1" {
			t.Fatalf("resumed worker %d lost the job", w.id)
		}
	}
}

func TestEngineIdleScalesUp(t *testing.T) {
	h := startEngine(t)
	h.login(t, "j1")
	if got := h.engine.Stats().Workers; got != 2 {
		t.Fatalf("automatic workers=%d want 2", got)
	}
	h.engine.SetIdle(true)
	if got := h.engine.Stats().Workers; got != 8 {
		t.Fatalf("idle workers=%d want 8", got)
	}
	if got := h.engine.BusyWorkers(); got != 8 {
		t.Fatalf("BusyWorkers=%d want 8", got)
	}
	if got := h.engine.AdjustThreads(-3); got != 5 {
		t.Fatalf("AdjustThreads returned %d", got)
	}
	if got := h.engine.Stats().Workers; got != 5 {
		t.Fatalf("workers=%d want 5", got)
	}
}

func TestNewMiningEngineValidates(t *testing.T) {
	if _, err := NewMiningEngine(engineOptions{Addr: "a:1"}); !errors.Is(err, errUnknownAlgorithm) {
		t.Fatalf("expected errUnknownAlgorithm, got %v", err)
	}
	if _, err := NewMiningEngine(engineOptions{Algorithm: "SHA256"}); err == nil {
		t.Fatalf("expected error for missing address")
	}
}

func TestFormatHashrate(t *testing.T) {
	cases := map[float64]string{
		0:         "0.00 H/s",
		999:       "999.00 H/s",
		1500:      "1.50 kH/s",
		2_500_000: "2.50 MH/s",
	}
	for in, want := range cases {
		if got := formatHashrate(in); got != want {
			t.Fatalf("%v: got %q want %q", in, got, want)
		}
	}
}
