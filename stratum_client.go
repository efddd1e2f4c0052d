package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hako/durafmt"
)

type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateReady
	// stateStopped is terminal: nothing dials again once a client is stopped,
	// including a backoff timer that was already pending.
	stateStopped
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateReady:
		return "ready"
	case stateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	errNotConnected  = errors.New("stratum client not connected")
	errClientStopped = errors.New("stratum client stopped")
	errPoolClosed    = errors.New("pool closed connection")
)

type clientEventKind int

const (
	clientConnected clientEventKind = iota
	clientDisconnected
	clientMessage
)

// clientEvent is what the supervisor reports to its owner. Session numbers
// increase with every successful connect.
type clientEvent struct {
	Kind     clientEventKind
	Session  uint64
	Msg      inboundMessage
	Err      error
	WasReady bool
	RetryIn  time.Duration
	Addr     string
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type stratumClientOptions struct {
	Addr          string
	Identity      string
	Credential    string
	Dial          dialFunc
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	SubmitTimeout time.Duration
	KeepAlive     time.Duration
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

// StratumClient supervises one pool connection: connect, handshake, serve
// frames, and reconnect with capped exponential backoff. Run owns the whole
// lifecycle on a single goroutine, so at most one attempt is ever in flight.
type StratumClient struct {
	opts   stratumClientOptions
	codec  stratumCodec
	events chan clientEvent

	mu      sync.Mutex
	state   connState
	conn    net.Conn
	session uint64
	retry   retryState
	rttMS   float64

	writeMu  sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewStratumClient(codec stratumCodec, opts stratumClientOptions) *StratumClient {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = stratumSubmitTimeout
	}
	if opts.Dial == nil {
		d := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
		opts.Dial = d.DialContext
	}
	return &StratumClient{
		opts:   opts,
		codec:  codec,
		events: make(chan clientEvent, engineEventBuffer),
		state:  stateDisconnected,
		retry:  newRetryState(opts.BaseBackoff, opts.MaxBackoff),
		stopCh: make(chan struct{}),
	}
}

// Events is closed when Run returns.
func (c *StratumClient) Events() <-chan clientEvent {
	return c.events
}

func (c *StratumClient) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *StratumClient) RetryAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry.Attempt
}

func (c *StratumClient) RTTMillis() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rttMS
}

// transition moves from one state to another and fails if the client is not
// in the expected state. Stopped never transitions.
func (c *StratumClient) transition(from, to connState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	return true
}

func (c *StratumClient) Run(ctx context.Context) error {
	defer close(c.events)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		if !c.transition(stateDisconnected, stateConnecting) {
			return errClientStopped
		}
		logger.Info("connecting to pool", "addr", c.opts.Addr, "attempt", c.RetryAttempt()+1)

		wasReady, err := c.runSession(runCtx)
		if runCtx.Err() != nil || c.State() == stateStopped {
			c.markStopped()
			return nil
		}

		c.mu.Lock()
		delay := c.retry.Next()
		attempt := c.retry.Attempt
		c.mu.Unlock()

		logger.Warn("pool connection lost",
			"addr", c.opts.Addr,
			"error", err,
			"retry_in", durafmt.Parse(delay).LimitFirstN(2).String(),
			"attempt", attempt)
		c.emit(runCtx, clientEvent{Kind: clientDisconnected, Err: err, WasReady: wasReady, RetryIn: delay, Addr: c.opts.Addr})

		if sleepContext(runCtx, delay) != nil {
			c.markStopped()
			return nil
		}
	}
}

// runSession dials, handshakes and serves one connection. Whatever ends the
// session (read error, EOF, write failure, cancellation) produces exactly one
// transition back to Disconnected.
func (c *StratumClient) runSession(ctx context.Context) (wasReady bool, err error) {
	dialCtx, cancelDial := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, err := c.opts.Dial(dialCtx, "tcp", c.opts.Addr)
	cancelDial()
	if err != nil {
		c.transition(stateConnecting, stateDisconnected)
		return false, fmt.Errorf("dial %s: %w", c.opts.Addr, err)
	}

	c.mu.Lock()
	if c.state != stateConnecting {
		c.mu.Unlock()
		_ = conn.Close()
		return false, errClientStopped
	}
	c.state = stateReady
	c.conn = conn
	c.session++
	session := c.session
	c.retry.Reset()
	c.rttMS = estimateConnRTTMS(conn)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		if c.state == stateReady {
			c.state = stateDisconnected
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	sessCtx, cancelSess := context.WithCancel(ctx)
	defer cancelSess()
	stopCloser := context.AfterFunc(sessCtx, func() { _ = conn.Close() })
	defer stopCloser()

	c.codec.Reset()
	handshake, err := c.codec.Handshake(c.opts.Identity, c.opts.Credential)
	if err != nil {
		return true, fmt.Errorf("build handshake: %w", err)
	}
	for _, f := range handshake {
		if err := c.writeFrame(conn, f, stratumWriteTimeout); err != nil {
			return true, fmt.Errorf("send %s: %w", f.Method, err)
		}
	}

	logger.Info("connected to pool", "addr", c.opts.Addr, "variant", c.codec.Variant(), "session", session, "rtt_ms", c.RTTMillis())
	c.emit(sessCtx, clientEvent{Kind: clientConnected, Session: session, Addr: c.opts.Addr})

	if c.opts.KeepAlive > 0 {
		go c.keepAliveLoop(sessCtx, conn)
	}
	return true, c.readLoop(sessCtx, conn, session)
}

func (c *StratumClient) readLoop(ctx context.Context, conn net.Conn, session uint64) error {
	reader := newFrameReader(maxStratumFrameSize)
	buf := make([]byte, stratumReadChunk)
	for {
		if c.opts.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			for _, frame := range reader.Feed(buf[:n]) {
				msg, derr := c.codec.Decode(frame)
				if derr != nil {
					logger.Warn("dropping malformed stratum frame", "error", derr, "frame", truncateForLog(frame, 256))
					continue
				}
				c.emit(ctx, clientEvent{Kind: clientMessage, Session: session, Msg: msg})
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return errPoolClosed
			}
			return err
		}
	}
}

func (c *StratumClient) keepAliveLoop(ctx context.Context, conn net.Conn) {
	ticker := time.NewTicker(c.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f, ok := c.codec.KeepAlive()
			if !ok {
				continue
			}
			if err := c.writeFrame(conn, f, stratumWriteTimeout); err != nil {
				logger.Debug("keepalive write failed", "error", err)
				return
			}
		}
	}
}

// emit blocks until the owner takes the event so that jobs are delivered in
// arrival order.
func (c *StratumClient) emit(ctx context.Context, ev clientEvent) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *StratumClient) writeFrame(conn net.Conn, f outboundFrame, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := conn.Write(f.Data)
	if err == nil && debugLogging {
		logger.Debug("stratum send", "method", f.Method, "id", f.ID)
	}
	return err
}

// Send writes a request on the live connection within SubmitTimeout. A
// failed write may leave half a frame on the wire, so the connection is
// closed and the supervisor reconnects.
func (c *StratumClient) Send(f outboundFrame) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()
	if state != stateReady || conn == nil {
		return errNotConnected
	}
	if err := c.writeFrame(conn, f, c.opts.SubmitTimeout); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// Submit encodes and sends a share, returning the request id its verdict
// will be reported against.
func (c *StratumClient) Submit(share Share) (uint64, error) {
	if c.State() != stateReady {
		return 0, errNotConnected
	}
	f, err := c.codec.Submit(share)
	if err != nil {
		return 0, err
	}
	if err := c.Send(f); err != nil {
		return 0, err
	}
	return f.ID, nil
}

// Stop tears the client down for good. A backoff wait in progress wakes up
// and returns without dialing.
func (c *StratumClient) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.state = stateStopped
		conn := c.conn
		c.mu.Unlock()
		close(c.stopCh)
		if conn != nil {
			_ = conn.Close()
		}
	})
}

func (c *StratumClient) markStopped() {
	c.mu.Lock()
	c.state = stateStopped
	c.mu.Unlock()
}

func truncateForLog(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
